package interview

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/apprentice/internal/ai"
	"github.com/spigell/apprentice/internal/apperr"
	"github.com/spigell/apprentice/internal/audiocue"
	"github.com/spigell/apprentice/internal/catalog"
	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/media"
	"github.com/spigell/apprentice/internal/resume/resumetest"
	"github.com/spigell/apprentice/internal/workflow"
)

type fakeDevice struct {
	mu     sync.Mutex
	opened int
	err    error
}

func (d *fakeDevice) Open(context.Context) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	payload := fmt.Sprintf("answer-%d", d.opened)
	d.opened++
	return &fakeStream{Reader: strings.NewReader(payload)}, nil
}

type fakeStream struct {
	*strings.Reader
}

func (s *fakeStream) MIMEType() string { return "video/webm" }
func (s *fakeStream) Stop() error      { return nil }
func (s *fakeStream) Close() error     { return nil }

type fakePlayer struct {
	mu     sync.Mutex
	played []audiocue.Clip
}

func (p *fakePlayer) Play(ctx context.Context, clip audiocue.Clip) error {
	p.mu.Lock()
	p.played = append(p.played, clip)
	p.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePlayer) clips() []audiocue.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audiocue.Clip(nil), p.played...)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *fakeSpeaker) Synthesize(_ context.Context, text string) (*ai.Speech, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Speech{Data: []byte("spoken:" + text), MIMEType: "audio/wav"}, nil
}

type stubEvaluator struct {
	resp *evaluator.StartResponse
}

func (e *stubEvaluator) Start(context.Context, *evaluator.StartRequest) (*evaluator.StartResponse, error) {
	return e.resp, nil
}

func (e *stubEvaluator) Complete(context.Context, *evaluator.CompleteRequest) (*evaluator.Report, error) {
	return &evaluator.Report{OverallScore: 50}, nil
}

func badAudioEvaluator() *stubEvaluator {
	return &stubEvaluator{resp: &evaluator.StartResponse{
		InterviewQuestions: []evaluator.InterviewQuestion{
			{Text: "Walk us through your rate limiter.", AudioBase64: "not base64!!", MIMEType: "audio/mpeg"},
			{Text: "How would you scale it?"},
		},
		MCQQuestions: []evaluator.MCQQuestion{
			{Question: "Which is a Go keyword?", Options: []string{"defer", "lambda"}},
		},
	}}
}

type completion struct {
	candidateID   string
	humanApproved string
	answers       []string
	videos        []string
	contents      []string
}

func newEvaluatorServer(t *testing.T) (*evaluator.Client, *completion) {
	t.Helper()

	got := &completion{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/evaluate/start":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse start form: %v", err)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"candidate_id": r.FormValue("candidate_id"),
				"stage":        "interview",
				"interview_questions": []any{
					map[string]any{
						"text":         "Walk us through your rate limiter.",
						"audio_base64": base64.StdEncoding.EncodeToString([]byte("cue-0")),
						"mime_type":    "audio/mpeg",
					},
					"How would you scale it?",
					"What would you change?",
				},
				"mcq_questions": []any{
					map[string]any{"question": "Which is a Go keyword?", "options": []string{"defer", "lambda"}},
					map[string]any{"question": "Zero value of a map?", "options": []string{"empty map", "nil"}},
				},
			})
		case "/api/evaluate/complete":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse complete form: %v", err)
				return
			}
			got.candidateID = r.FormValue("candidate_id")
			got.humanApproved = r.FormValue("human_approved")
			if err := json.Unmarshal([]byte(r.FormValue("mcq_answers")), &got.answers); err != nil {
				t.Errorf("decode mcq answers: %v", err)
			}
			for _, fh := range r.MultipartForm.File["interview_videos"] {
				got.videos = append(got.videos, fh.Filename)
				f, err := fh.Open()
				if err != nil {
					t.Errorf("open %s: %v", fh.Filename, err)
					continue
				}
				data, _ := io.ReadAll(f)
				f.Close()
				got.contents = append(got.contents, string(data))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"candidate_id":   got.candidateID,
				"overall_score":  78,
				"recommendation": "Hire",
				"scores":         map[string]any{"resume_fit": 80, "video_interview": 75},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	return evaluator.New(zap.NewNop(), server.URL+"/api", ""), got
}

func interviewMachine(t *testing.T, ev workflow.Evaluator) *workflow.Machine {
	t.Helper()

	ctx := context.Background()
	m := workflow.New(ev, zap.NewNop(), workflow.WithIDGenerator(func() string { return "cand-jane" }))

	position := &catalog.Position{
		ID:              "be-go",
		Title:           "Backend Engineer (Go)",
		Description:     "Build evaluation services",
		IdealProfile:    "Pragmatic Go developer",
		TaskDescription: "Implement a rate limiter",
	}

	inputs := []workflow.Input{
		workflow.SelectPosition{Position: position},
		workflow.Proceed{},
		workflow.ApplicationForm{Name: "Jane Doe", Email: "jane@example.com", Resume: resumetest.Document(t, "jane")},
		workflow.CodeSubmission{RepoLink: "https://github.com/jane/limiter"},
	}
	for _, in := range inputs {
		if err := m.Advance(ctx, in); err != nil {
			t.Fatalf("advance %s: %v", in.Stage(), err)
		}
	}

	if m.Stage() != workflow.StageVideo {
		t.Fatalf("expected video stage, got %s", m.Stage())
	}
	return m
}

func TestFullInterviewScenario(t *testing.T) {
	ctx := context.Background()
	client, got := newEvaluatorServer(t)
	m := interviewMachine(t, client)

	device := &fakeDevice{}
	player := &fakePlayer{}
	speaker := &fakeSpeaker{}
	cues := audiocue.NewController(player, zap.NewNop())
	runner := NewRunner(m, media.NewSession(device, zap.NewNop()), cues, zap.NewNop(), WithSpeaker(speaker))
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if runner.Total() != 3 {
		t.Fatalf("expected 3 questions, got %d", runner.Total())
	}

	if err := runner.NextQuestion(ctx); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error before recording, got %v", err)
	}

	for i := 0; i < runner.Total(); i++ {
		if runner.Current() != i {
			t.Fatalf("expected question %d, got %d", i, runner.Current())
		}
		if !cues.HasCue() {
			t.Fatalf("question %d has no audio prompt", i)
		}
		if state, err := cues.Toggle(); err != nil || state != audiocue.Playing {
			t.Fatalf("toggle question %d: %v %v", i, state, err)
		}

		if err := runner.StartRecording(ctx); err != nil {
			t.Fatalf("start recording %d: %v", i, err)
		}
		if cues.State() != audiocue.Idle {
			t.Fatalf("audio prompt must stop when recording starts")
		}

		if i == runner.Total()-1 {
			break
		}
		if _, err := runner.StopRecording(); err != nil {
			t.Fatalf("stop recording %d: %v", i, err)
		}
		if err := runner.NextQuestion(ctx); err != nil {
			t.Fatalf("next question after %d: %v", i, err)
		}
	}

	// The last recording is still running; finishing keeps it.
	if err := runner.Finish(ctx); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if m.Stage() != workflow.StageMCQ {
		t.Fatalf("expected assessment stage, got %s", m.Stage())
	}

	if err := m.Answer(0, "a"); err != nil {
		t.Fatalf("answer 0: %v", err)
	}
	if err := m.Answer(1, "B"); err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	if !m.CanSubmit() {
		t.Fatalf("submission should be enabled")
	}
	if err := m.Advance(ctx, workflow.MCQDone{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if m.Stage() != workflow.StageResults {
		t.Fatalf("expected results stage, got %s", m.Stage())
	}
	if report := m.Context().Result; report == nil || report.OverallScore != 78 {
		t.Fatalf("unexpected report: %+v", report)
	}

	want := &completion{
		candidateID:   "cand-jane",
		humanApproved: "true",
		answers:       []string{"A", "B"},
		videos:        []string{"video_0.webm", "video_1.webm", "video_2.webm"},
		contents:      []string{"answer-0", "answer-1", "answer-2"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(completion{})); diff != "" {
		t.Fatalf("unexpected submission (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"How would you scale it?", "What would you change?"}, speaker.texts); diff != "" {
		t.Fatalf("unexpected synthesized prompts (-want +got):\n%s", diff)
	}

	clips := player.clips()
	if len(clips) != 3 || string(clips[0].Data) != "cue-0" || string(clips[2].Data) != "spoken:What would you change?" {
		t.Fatalf("unexpected played clips: %+v", clips)
	}

	runner.Teardown()
	if stats := cues.Stats(); stats.Created != 3 || stats.Released != 3 {
		t.Fatalf("unexpected cue stats: %+v", stats)
	}
}

func TestRunnerRejectsOutsideVideoStage(t *testing.T) {
	m := workflow.New(nil, zap.NewNop())
	runner := NewRunner(m, media.NewSession(&fakeDevice{}, nil), audiocue.NewController(&fakePlayer{}, nil), nil)

	if err := runner.Begin(context.Background()); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := runner.StartRecording(context.Background()); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunnerRecordingGuards(t *testing.T) {
	ctx := context.Background()
	client, _ := newEvaluatorServer(t)
	m := interviewMachine(t, client)

	session := media.NewSession(&fakeDevice{}, nil)
	runner := NewRunner(m, session, audiocue.NewController(&fakePlayer{}, nil), nil)
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if _, err := runner.StopRecording(); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error without recording, got %v", err)
	}

	if err := runner.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := runner.StartRecording(ctx); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for second start, got %v", err)
	}
	if _, err := runner.StopRecording(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if session.Acquired() {
		t.Fatalf("device must be released after stop")
	}

	if err := runner.StartRecording(ctx); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for re-recording, got %v", err)
	}

	if err := runner.Finish(ctx); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected finish to require every recording, got %v", err)
	}
	if m.Stage() != workflow.StageVideo {
		t.Fatalf("stage must not change, got %s", m.Stage())
	}
}

func TestRunnerDeviceUnavailable(t *testing.T) {
	ctx := context.Background()
	client, _ := newEvaluatorServer(t)
	m := interviewMachine(t, client)

	device := &fakeDevice{err: fmt.Errorf("camera busy")}
	session := media.NewSession(device, nil)
	runner := NewRunner(m, session, audiocue.NewController(&fakePlayer{}, nil), nil)
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}

	err := runner.StartRecording(ctx)
	if !apperr.IsKind(err, apperr.KindDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
	if session.Recording() || session.Acquired() {
		t.Fatalf("nothing may be held after a failed acquire")
	}
}

func TestRunnerSpeechFailureLeavesNoCue(t *testing.T) {
	ctx := context.Background()
	client, _ := newEvaluatorServer(t)
	m := interviewMachine(t, client)

	// Question 2 has no audio payload, so the speaker is asked for it.
	cues := audiocue.NewController(&fakePlayer{}, nil)
	runner := NewRunner(m, media.NewSession(&fakeDevice{}, nil), cues, nil,
		WithSpeaker(&fakeSpeaker{err: fmt.Errorf("quota exhausted")}))
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !cues.HasCue() {
		t.Fatalf("first question carries its own audio")
	}

	if err := runner.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, err := runner.StopRecording(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if err := runner.NextQuestion(ctx); err != nil {
		t.Fatalf("next question: %v", err)
	}

	if cues.HasCue() {
		t.Fatalf("failed synthesis must leave the question without audio")
	}
	if _, err := cues.Toggle(); err != audiocue.ErrNoCue {
		t.Fatalf("expected ErrNoCue, got %v", err)
	}
}

func TestRunnerBeginResumesAfterBack(t *testing.T) {
	ctx := context.Background()
	client, _ := newEvaluatorServer(t)
	m := interviewMachine(t, client)

	runner := NewRunner(m, media.NewSession(&fakeDevice{}, nil), audiocue.NewController(&fakePlayer{}, nil), nil)
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := runner.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, err := runner.StopRecording(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	if err := m.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if err := m.Advance(ctx, workflow.CodeSubmission{RepoLink: "https://github.com/jane/limiter"}); err != nil {
		t.Fatalf("re-advance: %v", err)
	}

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin again: %v", err)
	}
	if runner.Current() != 1 {
		t.Fatalf("expected to resume at question 1, got %d", runner.Current())
	}
}

func TestRunnerInvalidAudioShowsQuestionWithoutCue(t *testing.T) {
	ctx := context.Background()
	m := interviewMachine(t, badAudioEvaluator())

	cues := audiocue.NewController(&fakePlayer{}, nil)
	runner := NewRunner(m, media.NewSession(&fakeDevice{}, nil), cues, nil)
	defer runner.Teardown()

	// Showing the question again must not fail either.
	for i := 0; i < 3; i++ {
		if err := runner.Begin(ctx); err != nil {
			t.Fatalf("begin %d: %v", i, err)
		}
		if cues.HasCue() {
			t.Fatalf("undecodable audio must not produce a cue")
		}
	}

	if err := runner.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, err := runner.StopRecording(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if err := runner.NextQuestion(ctx); err != nil {
		t.Fatalf("next question: %v", err)
	}
}

func TestRunnerInvalidAudioFallsBackToSpeaker(t *testing.T) {
	ctx := context.Background()
	m := interviewMachine(t, badAudioEvaluator())

	player := &fakePlayer{}
	speaker := &fakeSpeaker{}
	cues := audiocue.NewController(player, nil)
	runner := NewRunner(m, media.NewSession(&fakeDevice{}, nil), cues, nil, WithSpeaker(speaker))
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !cues.HasCue() {
		t.Fatalf("expected a synthesized cue")
	}
	if diff := cmp.Diff([]string{"Walk us through your rate limiter."}, speaker.texts); diff != "" {
		t.Fatalf("unexpected synthesized prompts (-want +got):\n%s", diff)
	}

	if _, err := cues.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	cues.Close()
	if clips := player.clips(); len(clips) != 1 || string(clips[0].Data) != "spoken:Walk us through your rate limiter." {
		t.Fatalf("unexpected played clips: %+v", clips)
	}
}

func TestRunnerLogsDroppedSegment(t *testing.T) {
	ctx := context.Background()
	client, _ := newEvaluatorServer(t)
	m := interviewMachine(t, client)

	core, logs := observer.New(zapcore.WarnLevel)
	session := media.NewSession(&fakeDevice{}, nil)
	runner := NewRunner(m, session, audiocue.NewController(&fakePlayer{}, nil), zap.New(core))
	defer runner.Teardown()

	if err := runner.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := runner.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}

	// Leaving the stage mid-recording makes the segment unattachable.
	if err := m.Back(); err != nil {
		t.Fatalf("back: %v", err)
	}
	if _, err := runner.StopRecording(); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if session.Recording() || session.Acquired() {
		t.Fatalf("device must be released after stop")
	}

	entries := logs.FilterMessage("recorded segment was not attached and is dropped").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["question"] != int64(0) || fields["bytes"] != int64(len("answer-0")) {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
