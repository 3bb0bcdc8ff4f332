package audiocue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

const defaultFFplay = "ffplay"

// FFplayPlayer plays clips through a headless ffplay process fed on stdin.
type FFplayPlayer struct {
	Binary string
	logger *zap.Logger
}

func NewFFplayPlayer(binary string, logger *zap.Logger) *FFplayPlayer {
	if strings.TrimSpace(binary) == "" {
		binary = defaultFFplay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFplayPlayer{Binary: binary, logger: logger}
}

func (p *FFplayPlayer) Play(ctx context.Context, clip Clip) error {
	args := p.Args(clip.MIMEType)
	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Stdin = bytes.NewReader(clip.Data)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug("playing audio prompt", zap.Int("question", clip.Index), zap.Strings("args", args))

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return fmt.Errorf("%s: %w: %s", p.Binary, err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%s: %w", p.Binary, err)
	}

	return nil
}

// Args builds the ffplay command line. Containers are probed by ffplay; raw
// PCM needs its sample layout spelled out.
func (p *FFplayPlayer) Args(mimeType string) []string {
	args := []string{"-nodisp", "-autoexit", "-loglevel", "error"}
	return append(append(args, rawFormatArgs(mimeType)...), "-i", "pipe:0")
}

func rawFormatArgs(mimeType string) []string {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil
	}

	switch strings.ToLower(mediaType) {
	case "audio/l16", "audio/pcm":
	default:
		return nil
	}

	rate := params["rate"]
	if rate == "" {
		rate = "24000"
	}
	channels := params["channels"]
	if channels == "" {
		channels = "1"
	}

	// Gemini labels its output L16 but the samples are little endian.
	return []string{"-f", "s16le", "-ar", rate, "-ac", channels}
}
