package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/apprentice/internal/apperr"
)

const (
	defaultFFmpeg       = "ffmpeg"
	defaultProbeTimeout = 5 * time.Second
	stderrTailLimit     = 4096
)

// FFmpegConfig describes which camera and microphone to capture.
type FFmpegConfig struct {
	Binary       string        `mapstructure:"ffmpeg"`
	VideoFormat  string        `mapstructure:"video-format"`
	VideoDevice  string        `mapstructure:"video-device"`
	AudioFormat  string        `mapstructure:"audio-format"`
	AudioDevice  string        `mapstructure:"audio-device"`
	ProbeTimeout time.Duration `mapstructure:"probe-timeout"`
}

// FFmpegDevice captures camera and microphone through an ffmpeg process
// and streams WebM on its stdout.
type FFmpegDevice struct {
	cfg    FFmpegConfig
	logger *zap.Logger
}

func NewFFmpegDevice(cfg FFmpegConfig, logger *zap.Logger) *FFmpegDevice {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaultFFmpeg
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FFmpegDevice{cfg: cfg, logger: logger}
}

func (d *FFmpegDevice) Args() []string {
	args := []string{"-hide_banner", "-nostats", "-loglevel", "error"}

	if d.cfg.VideoFormat != "" {
		args = append(args, "-f", d.cfg.VideoFormat)
	}
	args = append(args, "-i", d.cfg.VideoDevice)

	if d.cfg.AudioDevice != "" {
		if d.cfg.AudioFormat != "" {
			args = append(args, "-f", d.cfg.AudioFormat)
		}
		args = append(args, "-i", d.cfg.AudioDevice)
	}

	return append(args,
		"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8",
		"-c:a", "libopus",
		"-f", "webm", "pipe:1",
	)
}

// Open starts ffmpeg and waits for the first media bytes. A process that
// exits or stays silent through the probe window means the device is
// missing or access was denied.
func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	if strings.TrimSpace(d.cfg.VideoDevice) == "" {
		return nil, apperr.DeviceUnavailable(errors.New("no video device configured"))
	}

	cmd := exec.Command(d.cfg.Binary, d.Args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	d.logger.Debug("starting capture process", zap.String("binary", d.cfg.Binary), zap.Strings("args", d.Args()))

	if err := cmd.Start(); err != nil {
		return nil, apperr.DeviceUnavailable(fmt.Errorf("starting %s: %w", d.cfg.Binary, err))
	}

	s := &ffmpegStream{
		cmd:    cmd,
		stdin:  stdin,
		out:    bufio.NewReader(stdout),
		tail:   &tailBuffer{limit: stderrTailLimit},
		logger: d.logger,
	}
	s.drain.Go(func() error {
		_, err := io.Copy(s.tail, stderr)
		return err
	})

	if err := s.probe(ctx, d.cfg.ProbeTimeout); err != nil {
		s.kill()
		if tail := strings.TrimSpace(s.tail.String()); tail != "" {
			err = fmt.Errorf("%w: %s", err, lastLine(tail))
		}
		return nil, apperr.DeviceUnavailable(err)
	}

	return s, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *bufio.Reader
	tail   *tailBuffer
	drain  errgroup.Group
	logger *zap.Logger

	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *ffmpegStream) MIMEType() string {
	return DefaultVideoMIMEType
}

// Stop asks ffmpeg to finish the container; stdout then reaches EOF.
func (s *ffmpegStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if _, werr := io.WriteString(s.stdin, "q"); werr != nil {
			err = fmt.Errorf("signalling capture process: %w", werr)
		}
		s.stdin.Close()
	})
	return err
}

// Close terminates the process if it is still running and reaps it.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.kill()
	})
	return s.closeErr
}

func (s *ffmpegStream) kill() error {
	s.stdin.Close()
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		// An already exited process reports os.ErrProcessDone, which is fine.
		_ = s.cmd.Process.Kill()
	}

	// Wait closes the pipes, so the stderr reader must be done first. The
	// process is dead by now, so stdout readers see EOF on their own.
	_ = s.drain.Wait()

	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if tail := s.tail.String(); tail != "" {
			s.logger.Debug("capture process exited", zap.String("stderr", tail))
		}
		return nil
	}
	return err
}

func (s *ffmpegStream) probe(ctx context.Context, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		_, err := s.out.Peek(1)
		result <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("capture process produced no media: %w", err)
		}
		return nil
	case <-timer.C:
		_ = s.cmd.Process.Kill()
		<-result
		return fmt.Errorf("no media within %s", timeout)
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-result
		return ctx.Err()
	}
}

// tailBuffer keeps the last bytes of the process diagnostics.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
