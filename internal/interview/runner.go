// Package interview drives the video interview one question at a time. It
// binds the stage machine, the recording session and the audio cue of the
// question on screen.
package interview

import (
	"context"
	"encoding/base64"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/ai"
	"github.com/spigell/apprentice/internal/apperr"
	"github.com/spigell/apprentice/internal/audiocue"
	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/media"
	"github.com/spigell/apprentice/internal/workflow"
)

type Option func(*Runner)

// WithSpeaker synthesizes prompts for questions delivered without audio.
func WithSpeaker(s ai.Speaker) Option {
	return func(r *Runner) {
		r.speaker = s
	}
}

type Runner struct {
	machine *workflow.Machine
	session *media.Session
	cues    *audiocue.Controller
	speaker ai.Speaker
	logger  *zap.Logger

	mu      sync.Mutex
	current int
}

func NewRunner(machine *workflow.Machine, session *media.Session, cues *audiocue.Controller, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		machine: machine,
		session: session,
		cues:    cues,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Begin positions the runner at the first question without a recording and
// shows it. Coming back to the interview resumes where it stopped.
func (r *Runner) Begin(ctx context.Context) error {
	c, err := r.interviewContext()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = min(len(c.Segments), len(c.InterviewQuestions)-1)
	r.mu.Unlock()

	return r.ShowCurrent(ctx)
}

func (r *Runner) Current() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Question returns the question on screen.
func (r *Runner) Question() (evaluator.InterviewQuestion, error) {
	c, err := r.interviewContext()
	if err != nil {
		return evaluator.InterviewQuestion{}, err
	}
	return c.InterviewQuestions[r.Current()], nil
}

// Total is the number of interview questions.
func (r *Runner) Total() int {
	return len(r.machine.Context().InterviewQuestions)
}

// Recorded reports whether the question on screen already has a segment.
func (r *Runner) Recorded() bool {
	return len(r.machine.Context().Segments) > r.Current()
}

// ShowCurrent binds the audio prompt of the question on screen. A missing or
// undecodable payload is synthesized when a speaker is configured; otherwise
// the question is shown without audio.
func (r *Runner) ShowCurrent(ctx context.Context) error {
	q, err := r.Question()
	if err != nil {
		return err
	}
	index := r.Current()

	if q.AudioBase64 != "" {
		err := r.cues.Show(index, audiocue.Cue{AudioBase64: q.AudioBase64, MIMEType: q.MIMEType})
		if !apperr.IsKind(err, apperr.KindValidation) {
			return err
		}
		r.logger.Warn("question audio is unusable, showing question without it",
			zap.Int("question", index),
			zap.Error(err),
		)
	}

	return r.cues.Show(index, r.synthesize(ctx, index, q.Text))
}

// synthesize returns an empty cue when no speaker is configured or the
// synthesis fails.
func (r *Runner) synthesize(ctx context.Context, index int, text string) audiocue.Cue {
	if r.speaker == nil {
		return audiocue.Cue{}
	}

	speech, err := r.speaker.Synthesize(ctx, text)
	if err != nil {
		r.logger.Warn("speech synthesis failed, showing question without audio",
			zap.Int("question", index),
			zap.Error(err),
		)
		return audiocue.Cue{}
	}

	return audiocue.Cue{
		AudioBase64: base64.StdEncoding.EncodeToString(speech.Data),
		MIMEType:    speech.MIMEType,
	}
}

// StartRecording acquires the device and starts the segment of the
// question on screen. The audio prompt is stopped first.
func (r *Runner) StartRecording(ctx context.Context) error {
	if _, err := r.interviewContext(); err != nil {
		return err
	}
	if r.session.Recording() {
		return apperr.Validation("a recording is already in progress")
	}
	if r.Recorded() {
		return apperr.Validation("question %d already has a recording", r.Current()+1)
	}

	if r.cues.State() == audiocue.Playing {
		if _, err := r.cues.Toggle(); err != nil {
			return err
		}
	}

	if err := r.session.Acquire(ctx); err != nil {
		return err
	}
	r.session.StartSegment(r.Current())

	return nil
}

// StopRecording finalizes the active segment and attaches it to the
// application.
func (r *Runner) StopRecording() (media.Segment, error) {
	if !r.session.Recording() {
		return media.Segment{}, apperr.Validation("no recording in progress")
	}

	segment, err := r.session.StopSegment()
	if err != nil {
		return media.Segment{}, err
	}

	if err := r.machine.AttachSegment(segment); err != nil {
		r.logger.Warn("recorded segment was not attached and is dropped",
			zap.Int("question", segment.Index),
			zap.Int("bytes", segment.Size()),
			zap.Error(err),
		)
		return media.Segment{}, err
	}

	return segment, nil
}

// NextQuestion moves to the following question once the current one has a
// recording.
func (r *Runner) NextQuestion(ctx context.Context) error {
	c, err := r.interviewContext()
	if err != nil {
		return err
	}

	r.mu.Lock()
	index := r.current
	switch {
	case len(c.Segments) <= index:
		r.mu.Unlock()
		return apperr.Validation("record an answer to question %d first", index+1)
	case index+1 >= len(c.InterviewQuestions):
		r.mu.Unlock()
		return apperr.Validation("question %d is the last one", index+1)
	}
	r.current++
	r.mu.Unlock()

	return r.ShowCurrent(ctx)
}

// Finish stops an active recording, keeping it, and moves on to the
// assessment.
func (r *Runner) Finish(ctx context.Context) error {
	if r.session.Recording() {
		r.logger.Info("stopping active recording before finishing", zap.Int("question", r.Current()))
		if _, err := r.StopRecording(); err != nil {
			r.session.Discard()
			return err
		}
	}

	if err := r.machine.Advance(ctx, workflow.VideoDone{}); err != nil {
		return err
	}

	r.session.Discard()
	r.cues.Close()
	return nil
}

// Teardown releases the device and the audio prompt. It is safe to call
// on every exit path and more than once.
func (r *Runner) Teardown() {
	r.session.Discard()
	r.cues.Close()
}

func (r *Runner) interviewContext() (workflow.ApplicationContext, error) {
	if stage := r.machine.Stage(); stage != workflow.StageVideo {
		return workflow.ApplicationContext{}, apperr.Validation("the video interview is not open in the %s stage", stage.Title())
	}

	c := r.machine.Context()
	if len(c.InterviewQuestions) == 0 {
		apperr.Invariant("video interview opened without questions")
	}
	return c, nil
}
