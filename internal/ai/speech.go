// Package ai holds the model-backed helpers of the client. Scoring is done
// by the remote evaluator; the only local use is speaking interview
// questions that arrive without an audio prompt.
package ai

import (
	"context"
)

// Speech is synthesized audio ready for the cue player.
type Speech struct {
	Data     []byte
	MIMEType string
}

// Speaker turns question text into audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (*Speech, error)
}
