// Package workflow enforces the order of the evaluation stages and carries
// the collected application context from one stage to the next.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/apperr"
	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/logger"
	"github.com/spigell/apprentice/internal/media"
)

var (
	// ErrBusy is returned by Advance while Start or Complete is in flight.
	ErrBusy = errors.New("a request to the evaluator is already in progress")
	// ErrSuperseded is returned when Back moved the flow while a request
	// was in flight; the response is dropped.
	ErrSuperseded = errors.New("the stage changed while the request was in progress")
)

// Evaluator is the remote side of the flow.
type Evaluator interface {
	Start(ctx context.Context, r *evaluator.StartRequest) (*evaluator.StartResponse, error)
	Complete(ctx context.Context, r *evaluator.CompleteRequest) (*evaluator.Report, error)
}

type Option func(*Machine)

// WithResumeAsText sends the extracted resume text instead of the PDF.
func WithResumeAsText(enabled bool) Option {
	return func(m *Machine) {
		m.resumeAsText = enabled
	}
}

// WithIDGenerator replaces the candidate id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		if fn != nil {
			m.newID = fn
		}
	}
}

type Machine struct {
	evaluator    Evaluator
	logger       *zap.Logger
	newID        func() string
	resumeAsText bool

	mu    sync.Mutex
	stage Stage
	ctx   ApplicationContext
	busy  bool
	// gen changes with every stage change, so a response that arrives after
	// Back can be recognised as stale.
	gen uint64
}

func New(ev Evaluator, log *zap.Logger, opts ...Option) *Machine {
	if log == nil {
		log = zap.NewNop()
	}

	m := &Machine{
		evaluator: ev,
		logger:    log,
		newID:     uuid.NewString,
		stage:     StageBrowse,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Context returns a copy of the collected application context.
func (m *Machine) Context() ApplicationContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.clone()
}

func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// Advance moves to the next stage when in satisfies the current stage's
// guard. On any error the stage is unchanged.
func (m *Machine) Advance(ctx context.Context, in Input) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy {
		return ErrBusy
	}
	if in == nil {
		return apperr.Validation("nothing to submit")
	}
	if in.Stage() != m.stage {
		return apperr.Validation("%s is not available in the %s stage", in.Stage().Title(), m.stage.Title())
	}

	var err error
	switch v := in.(type) {
	case SelectPosition:
		err = m.selectPosition(v)
	case Proceed:
		err = m.proceed()
	case ApplicationForm:
		err = m.apply(v)
	case CodeSubmission:
		err = m.submitCode(ctx, v)
	case VideoDone:
		err = m.finishVideo()
	case MCQDone:
		err = m.complete(ctx)
	default:
		err = apperr.Validation("unsupported input %T", in)
	}
	if err != nil {
		m.log().Warn("stage guard rejected input", zap.Error(err))
		return err
	}

	m.moveTo(in.Stage() + 1)
	return nil
}

// Back returns to the preceding stage and keeps the collected context.
// It is allowed while a request is in flight; that response is dropped.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.stage == StageBrowse:
		return apperr.Validation("already at the first stage")
	case m.stage.Terminal():
		return apperr.Validation("the evaluation is complete")
	}

	m.moveTo(m.stage.previous())
	return nil
}

// AttachSegment stores the recording of the next unanswered question.
func (m *Machine) AttachSegment(segment media.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageVideo {
		return apperr.Validation("recordings are accepted only during the video interview")
	}

	next := len(m.ctx.Segments)
	switch {
	case next >= len(m.ctx.InterviewQuestions):
		return apperr.Validation("every question already has a recording")
	case segment.Index != next:
		return apperr.Validation("recording for question %d arrived out of order, expected question %d", segment.Index+1, next+1)
	case segment.Size() == 0:
		return apperr.Validation("recording for question %d is empty", segment.Index+1)
	}

	m.ctx.Segments = append(m.ctx.Segments, segment)
	m.log().Info("recording attached",
		zap.Int("question", segment.Index),
		zap.Int("recorded", len(m.ctx.Segments)),
		zap.Int("total", len(m.ctx.InterviewQuestions)),
	)

	return nil
}

// Answer records the option letter for question index. Answers may be
// changed until the final submission.
func (m *Machine) Answer(index int, letter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageMCQ {
		return apperr.Validation("answers are accepted only during the assessment")
	}
	if index < 0 || index >= len(m.ctx.MCQQuestions) {
		return apperr.Validation("question %d does not exist", index+1)
	}

	letter = strings.ToUpper(strings.TrimSpace(letter))
	options := len(m.ctx.MCQQuestions[index].Options)
	if len(letter) != 1 || letter[0] < 'A' || int(letter[0]-'A') >= options {
		return apperr.Validation("answer must be one of A-%s", evaluator.Letter(options-1))
	}

	if m.ctx.MCQAnswers == nil {
		m.ctx.MCQAnswers = make(map[int]string, len(m.ctx.MCQQuestions))
	}
	m.ctx.MCQAnswers[index] = letter

	return nil
}

// CanSubmit reports whether the final submission control is enabled.
func (m *Machine) CanSubmit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage == StageMCQ && !m.busy && m.ctx.Answered()
}

func (m *Machine) selectPosition(in SelectPosition) error {
	if in.Position == nil || strings.TrimSpace(in.Position.ID) == "" {
		return apperr.Validation("select a position")
	}

	if prev := m.ctx.Position; prev != nil && prev.ID != in.Position.ID {
		m.log().Info("position changed, dropping collected application",
			zap.String("previous_position", prev.ID),
			zap.String("new_position", in.Position.ID),
		)
		m.ctx.resetPosition()
	}
	m.ctx.Position = in.Position

	return nil
}

func (m *Machine) proceed() error {
	if m.ctx.Position == nil {
		apperr.Invariant("position detail reached without a position")
	}
	return nil
}

func (m *Machine) apply(form ApplicationForm) error {
	name := strings.TrimSpace(form.Name)
	email := strings.TrimSpace(form.Email)

	switch {
	case m.ctx.Position == nil:
		return apperr.Validation("select a position first")
	case name == "":
		return apperr.Validation("name is required")
	case email == "":
		return apperr.Validation("email is required")
	case !strings.Contains(email, "@"):
		return apperr.Validation("%q is not a valid email", email)
	case form.Resume == nil:
		return apperr.Validation("a resume is required")
	}

	if m.started() {
		if name != m.ctx.Name || email != m.ctx.Email || !sameResume(form, m.ctx) {
			return apperr.Validation("the application for this position was already submitted")
		}
		return nil
	}

	p := m.ctx.Position
	m.ctx.Name = name
	m.ctx.Email = email
	m.ctx.Resume = form.Resume
	m.ctx.PositionID = p.ID
	m.ctx.JobDescription = p.Description
	m.ctx.IdealProfile = p.IdealProfile
	m.ctx.TaskDescription = p.TaskDescription

	if m.ctx.CandidateID == "" {
		m.ctx.CandidateID = m.newID()
		m.log().Info("candidate id assigned")
	}

	return nil
}

func (m *Machine) submitCode(ctx context.Context, in CodeSubmission) error {
	sub := Submission{
		RepoLink:     strings.TrimSpace(in.RepoLink),
		CodeSolution: strings.TrimSpace(in.CodeSolution),
	}
	switch {
	case sub.Empty():
		return apperr.Validation("a repository link or code is required")
	case sub.RepoLink != "" && sub.CodeSolution != "":
		return apperr.Validation("provide either a repository link or code, not both")
	}

	if m.started() {
		if sub != m.ctx.Submission {
			return apperr.Validation("code for this application was already submitted")
		}
		return nil
	}

	req, err := m.startRequest(sub)
	if err != nil {
		return err
	}

	start, err := call(m, func() (*evaluator.StartResponse, error) {
		return m.evaluator.Start(ctx, req)
	})
	if err != nil {
		return err
	}

	if len(start.InterviewQuestions) == 0 {
		return &apperr.Error{
			Kind:    apperr.KindRemoteRejection,
			Message: "evaluator returned no interview questions",
		}
	}

	m.ctx.resetStart()
	m.ctx.Submission = sub
	m.ctx.InterviewQuestions = start.InterviewQuestions
	m.ctx.MCQQuestions = start.MCQQuestions
	m.ctx.Preliminary = start.Preliminary

	return nil
}

func (m *Machine) finishVideo() error {
	if !m.ctx.Recorded() {
		return apperr.Validation("record an answer to every question first (%d of %d recorded)",
			len(m.ctx.Segments), len(m.ctx.InterviewQuestions))
	}
	return nil
}

func (m *Machine) complete(ctx context.Context) error {
	if !m.ctx.Answered() {
		return apperr.Validation("answer every question first (%d of %d answered)",
			len(m.ctx.MCQAnswers), len(m.ctx.MCQQuestions))
	}
	if !m.ctx.Recorded() {
		apperr.Invariant("assessment reached with %d of %d recordings", len(m.ctx.Segments), len(m.ctx.InterviewQuestions))
	}

	req := m.completeRequest()
	report, err := call(m, func() (*evaluator.Report, error) {
		return m.evaluator.Complete(ctx, req)
	})
	if err != nil {
		return err
	}

	m.ctx.Result = report
	return nil
}

// call runs fn without holding the lock. Advance rejects with ErrBusy until
// it returns. Callers hold m.mu.
func call[T any](m *Machine, fn func() (T, error)) (T, error) {
	gen := m.gen
	m.busy = true
	m.mu.Unlock()

	resp, err := fn()

	m.mu.Lock()
	m.busy = false

	var zero T
	if m.gen != gen {
		m.log().Warn("dropping evaluator response after stage change")
		return zero, ErrSuperseded
	}
	if err != nil {
		return zero, err
	}
	return resp, nil
}

func (m *Machine) startRequest(sub Submission) (*evaluator.StartRequest, error) {
	c := m.ctx
	if c.Resume == nil {
		apperr.Invariant("code submission reached without a resume")
	}

	req := &evaluator.StartRequest{
		CandidateID:     c.CandidateID,
		PositionID:      c.PositionID,
		JobDescription:  c.JobDescription,
		IdealProfile:    c.IdealProfile,
		TaskDescription: c.TaskDescription,
		RepoLink:        sub.RepoLink,
		CodeSolution:    sub.CodeSolution,
	}

	if m.resumeAsText {
		text, err := c.Resume.Text()
		if err != nil {
			return nil, apperr.Validation("could not read text from %s: %v", c.Resume.Name, err)
		}
		req.ResumeText = text
		return req, nil
	}

	req.Resume = &evaluator.ResumeFile{
		Name:        c.Resume.Name,
		ContentType: c.Resume.MIMEType,
		Data:        c.Resume.Bytes(),
	}
	return req, nil
}

func (m *Machine) completeRequest() *evaluator.CompleteRequest {
	req := &evaluator.CompleteRequest{CandidateID: m.ctx.CandidateID}

	for _, s := range m.ctx.Segments {
		req.Videos = append(req.Videos, evaluator.Video{
			Filename:    s.Filename(),
			ContentType: s.MIMEType,
			Data:        s.Bytes(),
		})
	}

	req.MCQAnswers = make([]string, len(m.ctx.MCQQuestions))
	for i := range m.ctx.MCQQuestions {
		req.MCQAnswers[i] = m.ctx.MCQAnswers[i]
	}

	return req
}

// started reports whether the evaluator accepted the code for the current
// position.
func (m *Machine) started() bool {
	return len(m.ctx.InterviewQuestions) > 0
}

func (m *Machine) moveTo(stage Stage) {
	from := m.stage
	m.stage = stage
	m.gen++
	m.log().Info("stage changed", zap.String("from", from.String()))
}

func (m *Machine) log() *zap.Logger {
	positionID := ""
	if m.ctx.Position != nil {
		positionID = m.ctx.Position.ID
	}
	return logger.WithFields(m.logger, logger.CandidateFields(m.ctx.CandidateID, positionID, m.stage.String())...)
}

func sameResume(form ApplicationForm, c ApplicationContext) bool {
	if c.Resume == nil {
		return false
	}
	if form.Resume == c.Resume {
		return true
	}
	return form.Resume.Name == c.Resume.Name && bytes.Equal(form.Resume.Bytes(), c.Resume.Bytes())
}
