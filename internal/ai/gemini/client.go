package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/apprentice/internal/ai"
	"github.com/spigell/apprentice/internal/logger"
)

const (
	Provider = "gemini"

	defaultModel      = "gemini-2.5-flash-preview-tts"
	defaultVoice      = "Kore"
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
	maxRetryDelay     = 10 * time.Second
)

var (
	sleep = time.Sleep

	retryAfterRe = regexp.MustCompile(`retry (?:after|in) ([0-9.]+) ?s`)
)

// generator is the part of the GenAI client the speaker needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Speaker synthesizes question text with a Gemini text-to-speech model.
type Speaker struct {
	models     generator
	model      string
	voice      string
	maxRetries int
	logger     *zap.Logger
}

var _ ai.Speaker = (*Speaker)(nil)

// NewSpeaker creates a Speaker configured for the Gemini API backend.
func NewSpeaker(ctx context.Context, apiKey, model, voice string, log *zap.Logger) (*Speaker, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newSpeaker(client.Models, model, voice, log), nil
}

func newSpeaker(models generator, model, voice string, log *zap.Logger) *Speaker {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if voice = strings.TrimSpace(voice); voice == "" {
		voice = defaultVoice
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Speaker{
		models:     models,
		model:      model,
		voice:      voice,
		maxRetries: defaultMaxRetries,
		logger:     logger.WithFields(log, logger.SpeechFields(Provider, model)...),
	}
}

// Synthesize returns the audio of the first inline part in the response.
func (s *Speaker) Synthesize(ctx context.Context, text string) (*ai.Speech, error) {
	if s == nil || s.models == nil {
		return nil, errors.New("gemini speaker is not initialized")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text must not be empty")
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = s.models.GenerateContent(ctx, s.model, genai.Text(text), config)
		if err == nil {
			break
		}

		delay, retry := retryDelay(err)
		if !retry || attempt >= s.maxRetries {
			return nil, fmt.Errorf("synthesize speech: %w", err)
		}

		s.logger.Warn("speech synthesis failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		sleep(delay)
	}

	speech := firstAudio(resp)
	if speech == nil {
		return nil, errors.New("gemini api returned no audio")
	}

	s.logger.Debug("speech synthesized",
		zap.Int("chars", len(text)),
		zap.Int("bytes", len(speech.Data)),
		zap.String("mime_type", speech.MIMEType),
	)

	return speech, nil
}

func firstAudio(resp *genai.GenerateContentResponse) *ai.Speech {
	if resp == nil {
		return nil
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			return &ai.Speech{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
		}
	}
	return nil
}

// retryDelay reports whether err is temporary and how long to wait. Quota
// errors asking for a long pause are not retried.
func retryDelay(err error) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
	case apiErr.Code >= http.StatusInternalServerError:
	default:
		return 0, false
	}

	delay := defaultRetryDelay
	if m := retryAfterRe.FindStringSubmatch(strings.ToLower(apiErr.Message)); m != nil {
		seconds, parseErr := strconv.ParseFloat(m[1], 64)
		if parseErr == nil {
			delay = time.Duration(seconds * float64(time.Second))
		}
	}
	if delay > maxRetryDelay {
		return 0, false
	}

	return delay, true
}
