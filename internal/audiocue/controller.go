// Package audiocue plays the spoken prompt attached to the current interview
// question. One clip is held at a time; showing another question releases the
// previous clip before the new one is decoded.
package audiocue

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/apperr"
)

const DefaultMIMEType = "audio/mpeg"

// ErrNoCue is returned by Toggle when the current question has no audio.
var ErrNoCue = errors.New("no audio prompt for this question")

// Cue is the audio payload as delivered with a question.
type Cue struct {
	AudioBase64 string
	MIMEType    string
}

// Clip is a decoded cue ready for playback.
type Clip struct {
	Index    int
	MIMEType string
	Data     []byte
}

// Player plays a clip from the beginning and blocks until it ends or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

type State int

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// Stats counts decoded and released clips. After Close both are equal.
type Stats struct {
	Created  int
	Released int
}

type Controller struct {
	player Player
	logger *zap.Logger

	mu      sync.Mutex
	clip    *Clip
	current *playback
	stats   Stats
}

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(player Player, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{player: player, logger: logger}
}

// Show binds the cue of question index. The previous clip is stopped and
// released first, so an invalid payload still leaves no stale audio behind.
func (c *Controller) Show(index int, cue Cue) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()

	payload := stripDataURL(cue.AudioBase64)
	if payload == "" {
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.logger.Warn("invalid audio prompt", zap.Int("question", index), zap.Error(err))
		return apperr.Validation("audio prompt for question %d is not valid base64", index+1)
	}

	mimeType := strings.TrimSpace(cue.MIMEType)
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}

	c.clip = &Clip{Index: index, MIMEType: mimeType, Data: data}
	c.stats.Created++
	c.logger.Debug("audio prompt ready",
		zap.Int("question", index),
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(data)),
	)

	return nil
}

// HasCue reports whether the play control should be offered.
func (c *Controller) HasCue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clip != nil
}

// Toggle starts playback from the beginning when idle and stops it when
// playing. A stopped clip is not resumed; the next Toggle restarts it.
func (c *Controller) Toggle() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clip == nil {
		return Idle, ErrNoCue
	}

	if c.current != nil {
		c.stopLocked()
		return Idle, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{cancel: cancel, done: make(chan struct{})}
	c.current = pb

	clip := *c.clip
	go func() {
		err := c.player.Play(ctx, clip)
		close(pb.done)

		if err != nil && ctx.Err() == nil {
			c.logger.Warn("audio playback failed", zap.Int("question", clip.Index), zap.Error(err))
		}

		c.mu.Lock()
		if c.current == pb {
			c.current = nil
			cancel()
		}
		c.mu.Unlock()
	}()

	return Playing, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return Playing
	}
	return Idle
}

// Close stops playback and releases the clip. It is safe to call repeatedly.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// stopLocked cancels playback and joins the player goroutine. The goroutine
// closes done before taking the lock, so waiting here cannot deadlock.
func (c *Controller) stopLocked() {
	pb := c.current
	if pb == nil {
		return
	}
	c.current = nil
	pb.cancel()
	<-pb.done
}

func (c *Controller) releaseLocked() {
	c.stopLocked()
	if c.clip == nil {
		return
	}

	c.logger.Debug("audio prompt released", zap.Int("question", c.clip.Index))
	c.clip = nil
	c.stats.Released++
}

// stripDataURL accepts both bare base64 and data:...;base64, payloads.
func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ","); i >= 0 {
		return s[i+1:]
	}
	return ""
}
