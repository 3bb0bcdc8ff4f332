package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	mu        sync.Mutex
	calls     []generateCall
	responses []fakeResponse
}

type generateCall struct {
	model  string
	text   string
	config *genai.GenerateContentConfig
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeGenerator) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{resp: resp, err: err})
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var text string
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		text = contents[0].Parts[0].Text
	}
	f.calls = append(f.calls, generateCall{model: model, text: text, config: config})

	if len(f.responses) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.responses[0]
	f.responses = f.responses[1:]
	return res.resp, res.err
}

func audioResponse(data []byte, mimeType string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{
				InlineData: &genai.Blob{Data: data, MIMEType: mimeType},
			}}},
		}},
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	originalSleep := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = originalSleep })
}

func TestSpeakerSynthesizesQuestion(t *testing.T) {
	models := &fakeGenerator{}
	models.enqueue(audioResponse([]byte{1, 2, 3}, "audio/L16;codec=pcm;rate=24000"), nil)

	s := newSpeaker(models, "", "Puck", zap.NewNop())

	speech, err := s.Synthesize(context.Background(), "  Tell us about yourself.  ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if string(speech.Data) != "\x01\x02\x03" {
		t.Fatalf("unexpected audio: %v", speech.Data)
	}
	if speech.MIMEType != "audio/L16;codec=pcm;rate=24000" {
		t.Fatalf("unexpected mime type: %q", speech.MIMEType)
	}

	if len(models.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(models.calls))
	}
	call := models.calls[0]
	if call.model != defaultModel {
		t.Fatalf("expected default model, got %q", call.model)
	}
	if call.text != "Tell us about yourself." {
		t.Fatalf("unexpected prompt: %q", call.text)
	}
	if len(call.config.ResponseModalities) != 1 || call.config.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("unexpected modalities: %v", call.config.ResponseModalities)
	}
	if got := call.config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Fatalf("unexpected voice: %q", got)
	}
}

func TestSpeakerRetriesOnTemporaryError(t *testing.T) {
	noSleep(t)

	models := &fakeGenerator{}
	models.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	models.enqueue(audioResponse([]byte("ok"), "audio/wav"), nil)

	s := newSpeaker(models, "tts", "", zap.NewNop())

	speech, err := s.Synthesize(context.Background(), "question")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(speech.Data) != "ok" {
		t.Fatalf("unexpected audio: %q", speech.Data)
	}
	if len(models.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(models.calls))
	}
}

func TestSpeakerStopsAfterRetriesExhausted(t *testing.T) {
	noSleep(t)

	models := &fakeGenerator{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	for i := 0; i < defaultMaxRetries; i++ {
		models.enqueue(nil, tempErr)
	}

	s := newSpeaker(models, "tts", "", zap.NewNop())

	if _, err := s.Synthesize(context.Background(), "question"); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if len(models.calls) != defaultMaxRetries {
		t.Fatalf("expected %d calls, got %d", defaultMaxRetries, len(models.calls))
	}
}

func TestSpeakerDoesNotRetryOnLongQuotaDelay(t *testing.T) {
	models := &fakeGenerator{}
	models.enqueue(nil, genai.APIError{
		Code:    http.StatusTooManyRequests,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "quota exhausted, retry after 60 seconds",
	})

	s := newSpeaker(models, "tts", "", zap.NewNop())

	if _, err := s.Synthesize(context.Background(), "question"); err == nil {
		t.Fatal("expected error when quota delay too long")
	}
	if len(models.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(models.calls))
	}
}

func TestSpeakerRejectsResponseWithoutAudio(t *testing.T) {
	models := &fakeGenerator{}
	models.enqueue(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "no audio here"}}},
		}},
	}, nil)

	s := newSpeaker(models, "tts", "", zap.NewNop())

	if _, err := s.Synthesize(context.Background(), "question"); err == nil {
		t.Fatal("expected error for text-only response")
	}
}

func TestSpeakerRejectsEmptyText(t *testing.T) {
	models := &fakeGenerator{}
	s := newSpeaker(models, "tts", "", zap.NewNop())

	if _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
	if len(models.calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(models.calls))
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		delay time.Duration
		retry bool
	}{
		{name: "server error", err: genai.APIError{Code: 500}, delay: defaultRetryDelay, retry: true},
		{name: "short quota", err: genai.APIError{Code: 429, Message: "Retry in 1.5s"}, delay: 1500 * time.Millisecond, retry: true},
		{name: "long quota", err: genai.APIError{Code: 429, Message: "retry after 60 seconds"}},
		{name: "bad request", err: genai.APIError{Code: 400}},
		{name: "plain error", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, retry := retryDelay(tt.err)
			if retry != tt.retry || delay != tt.delay {
				t.Fatalf("retryDelay() = %v, %v; want %v, %v", delay, retry, tt.delay, tt.retry)
			}
		})
	}
}
