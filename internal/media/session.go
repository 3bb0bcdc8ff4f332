package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/apperr"
)

const defaultStopTimeout = 10 * time.Second

var errNoMedia = errors.New("no media data was captured")

// Session owns the capture device and at most one active recorder. The
// device is held only between Acquire and the following StopSegment or
// Discard; it is never kept open across questions.
type Session struct {
	device      Device
	logger      *zap.Logger
	now         func() time.Time
	stopTimeout time.Duration

	mu     sync.Mutex
	stream Stream
	active *recording
}

type recording struct {
	index    int
	mimeType string
	started  time.Time
	buf      bytes.Buffer
	done     chan struct{}
	err      error
}

func NewSession(device Device, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		device:      device,
		logger:      logger,
		now:         time.Now,
		stopTimeout: defaultStopTimeout,
	}
}

// Acquire opens the device. It is a no-op when the device is already held.
// Failures are reported as DeviceUnavailable and never retried here.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		s.logger.Warn("capture device unavailable", zap.Error(err))
		if apperr.IsKind(err, apperr.KindDeviceUnavailable) {
			return err
		}
		return apperr.DeviceUnavailable(err)
	}

	s.stream = stream
	s.logger.Debug("capture device acquired", zap.String("mime_type", stream.MIMEType()))
	return nil
}

// StartSegment begins buffering media for the question index. Starting a
// second segment, or starting without a device, violates the session
// invariants and panics.
func (s *Session) StartSegment(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		apperr.Invariant("segment %d started while segment %d is active", index, s.active.index)
	}
	if s.stream == nil {
		apperr.Invariant("segment %d started without an acquired device", index)
	}

	rec := &recording{
		index:    index,
		mimeType: s.stream.MIMEType(),
		started:  s.now(),
		done:     make(chan struct{}),
	}
	s.active = rec

	stream := s.stream
	go func() {
		defer close(rec.done)
		_, rec.err = io.Copy(&rec.buf, stream)
	}()

	s.logger.Debug("segment started", zap.Int("question", index))
}

// StopSegment finalizes the active recording into an immutable Segment and
// releases the device. The next segment requires a new Acquire.
func (s *Session) StopSegment() (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.active
	if rec == nil {
		apperr.Invariant("stop requested without an active segment")
	}

	stopErr := s.stream.Stop()
	s.waitRecorder(rec)
	s.release()

	if stopErr != nil {
		return Segment{}, apperr.DeviceUnavailable(fmt.Errorf("stopping segment %d: %w", rec.index, stopErr))
	}
	if rec.err != nil {
		return Segment{}, apperr.DeviceUnavailable(fmt.Errorf("capturing segment %d: %w", rec.index, rec.err))
	}
	if rec.buf.Len() == 0 {
		return Segment{}, apperr.DeviceUnavailable(fmt.Errorf("segment %d: %w", rec.index, errNoMedia))
	}

	segment := NewSegment(rec.index, rec.mimeType, s.now().Sub(rec.started), rec.buf.Bytes())
	s.logger.Info("segment recorded",
		zap.Int("question", segment.Index),
		zap.Int("bytes", segment.Size()),
		zap.Duration("duration", segment.Duration),
	)

	return segment, nil
}

// Discard stops any active recorder, drops its data and releases the
// device. It is safe to call any number of times.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.logger.Debug("discarding active segment", zap.Int("question", s.active.index))
		if err := s.stream.Close(); err != nil {
			s.logger.Warn("closing capture stream", zap.Error(err))
		}
		<-s.active.done
	}

	s.release()
}

func (s *Session) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// CanRecord reports whether the start control may be enabled.
func (s *Session) CanRecord() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && s.active == nil
}

// waitRecorder joins the copy goroutine. A producer that does not reach EOF
// after Stop is force-closed once the stop timeout expires.
func (s *Session) waitRecorder(rec *recording) {
	select {
	case <-rec.done:
		return
	case <-time.After(s.stopTimeout):
	}

	s.logger.Warn("capture did not finish after stop, closing", zap.Int("question", rec.index))
	if err := s.stream.Close(); err != nil {
		s.logger.Warn("closing capture stream", zap.Error(err))
	}
	<-rec.done
}

// release closes the device tracks. Callers hold s.mu.
func (s *Session) release() {
	s.active = nil
	if s.stream == nil {
		return
	}

	if err := s.stream.Close(); err != nil {
		s.logger.Warn("releasing capture device", zap.Error(err))
	}
	s.stream = nil
	s.logger.Debug("capture device released")
}
