package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"overlaycast/internal/encoder"
	"overlaycast/internal/logging"
	"overlaycast/internal/procgroup"
	"overlaycast/internal/services"
)

const (
	defaultStopTimeout = 5 * time.Second
	stderrTailLines    = 20
	// queueUnits bounds how far a connection may fall behind the frame loop
	// before it is declared dead.
	queueUnits = 64
)

var errQueueFull = errors.New("send queue full")

// Sink opens connections to ingestion endpoints.
type Sink interface {
	// Start returns nil when the destination cannot be served at all; the
	// caller continues without that output.
	Start(ctx context.Context, destination string) Conn
}

// Conn is one live output.
type Conn interface {
	// Write forwards a unit and reports whether the connection is still
	// usable. After the first false every call returns false without I/O.
	Write(unit encoder.Unit) bool
	// Stop flushes and releases the connection. Safe to call more than once.
	Stop()
	Destination() string
}

// FFmpegSink muxes to FLV over RTMP (or any URL ffmpeg's flv muxer accepts).
type FFmpegSink struct {
	binary      string
	stopTimeout time.Duration
	logger      *slog.Logger
	lookPath    func(string) (string, error)
}

// NewFFmpegSink builds a sink around the given ffmpeg binary.
func NewFFmpegSink(binary string, stopTimeout time.Duration, logger *slog.Logger) *FFmpegSink {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &FFmpegSink{
		binary:      binary,
		stopTimeout: stopTimeout,
		logger:      logging.NewComponentLogger(logger, "egress"),
		lookPath:    exec.LookPath,
	}
}

// BuildArgs returns the ffmpeg mux arguments for destination.
func BuildArgs(destination string) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo",
		"-c:v", "copy", "-c:a", "aac", "-shortest",
		"-f", "flv", destination,
	}
}

func (s *FFmpegSink) Start(ctx context.Context, destination string) Conn {
	logger := s.logger.With(logging.String("destination", Redact(destination)))
	binary, err := s.lookPath(s.binary)
	if err != nil {
		logging.WarnWithContext(logger, "ffmpeg not found; egress disabled", "egress_unavailable",
			logging.Error(services.Wrap(services.ErrEgressUnavailable, "egress", "start", s.binary, err)),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set tools.ffmpeg"),
			logging.String(logging.FieldImpact, "stream is encoded but not delivered"),
		)
		return nil
	}

	// Stop owns shutdown so the muxer always sees EOF and can flush its
	// trailer; cancellation alone must not kill it.
	cmd := exec.CommandContext(context.WithoutCancel(ctx), binary, BuildArgs(destination)...) //nolint:gosec
	procgroup.Prepare(cmd)
	stderr := procgroup.NewTail(stderrTailLines)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		logging.WarnWithContext(logger, "egress process failed to start", "egress_unavailable",
			logging.Error(services.Wrap(services.ErrEgressUnavailable, "egress", "start", "", err)),
			logging.String(logging.FieldImpact, "stream is encoded but not delivered"),
		)
		return nil
	}

	conn := newConn(destination, stdin, cmd, stderr, s.stopTimeout, queueUnits, logger)
	go conn.writeLoop()
	go conn.wait()
	logger.Info("egress connected", logging.Int("pid", cmd.Process.Pid))
	return conn
}

type ffmpegConn struct {
	destination string
	stdin       io.WriteCloser
	cmd         *exec.Cmd
	stderr      *procgroup.Tail
	stopTimeout time.Duration
	logger      *slog.Logger
	queue       chan encoder.Unit
	drained     chan struct{}
	exited      chan struct{}

	mu       sync.Mutex
	dead     bool
	stopping bool
	written  int64
	stopOnce sync.Once
}

func newConn(destination string, stdin io.WriteCloser, cmd *exec.Cmd, stderr *procgroup.Tail, stopTimeout time.Duration, queueSize int, logger *slog.Logger) *ffmpegConn {
	if stderr == nil {
		stderr = procgroup.NewTail(stderrTailLines)
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &ffmpegConn{
		destination: destination,
		stdin:       stdin,
		cmd:         cmd,
		stderr:      stderr,
		stopTimeout: stopTimeout,
		logger:      logger,
		queue:       make(chan encoder.Unit, queueSize),
		drained:     make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

func (c *ffmpegConn) Destination() string { return c.destination }

// Write never performs I/O; it hands the unit to writeLoop.
func (c *ffmpegConn) Write(unit encoder.Unit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead || c.stopping {
		return false
	}
	if len(unit) == 0 {
		return true
	}
	select {
	case c.queue <- unit:
		return true
	default:
		c.markDeadLocked(errQueueFull)
		return false
	}
}

func (c *ffmpegConn) writeLoop() {
	defer close(c.drained)
	for unit := range c.queue {
		c.mu.Lock()
		dead := c.dead
		c.mu.Unlock()
		if dead {
			continue
		}
		n, err := c.stdin.Write(unit)
		c.mu.Lock()
		c.written += int64(n)
		if err != nil {
			c.markDeadLocked(fmt.Errorf("write: %w", err))
		}
		c.mu.Unlock()
	}
	_ = c.stdin.Close()
}

// markDeadLocked must be called with c.mu held.
func (c *ffmpegConn) markDeadLocked(cause error) {
	if c.dead {
		return
	}
	c.dead = true
	if c.stopping {
		return
	}
	logging.WarnWithContext(c.logger, "egress connection lost", "egress_lost",
		logging.Error(services.Wrap(services.ErrEgressUnavailable, "egress", "write", "", cause)),
		logging.Int64("bytes_sent", c.written),
		logging.String("stderr", c.stderr.String()),
		logging.String(logging.FieldImpact, "destination dropped until the next streaming attempt"),
	)
}

func (c *ffmpegConn) wait() {
	defer close(c.exited)
	if c.cmd == nil {
		return
	}
	err := c.cmd.Wait()
	if err == nil {
		err = errors.New("process exited")
	}
	c.mu.Lock()
	c.markDeadLocked(err)
	c.mu.Unlock()
}

// Stop closes the queue so writeLoop flushes what is pending and then closes
// stdin. A muxer that has not exited within stopTimeout is killed, which also
// unblocks a writeLoop stuck on a full pipe.
func (c *ffmpegConn) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		close(c.queue)
		c.mu.Unlock()

		timer := time.NewTimer(c.stopTimeout)
		defer timer.Stop()
		select {
		case <-c.exited:
		case <-timer.C:
			c.logger.Warn("egress process did not exit in time; killing",
				logging.Duration("stop_timeout", c.stopTimeout),
				logging.String(logging.FieldEventType, "egress_kill"),
			)
			_ = procgroup.Kill(c.cmd)
			<-c.exited
		}
		<-c.drained

		c.mu.Lock()
		written := c.written
		c.mu.Unlock()
		c.logger.Info("egress stopped", logging.Int64("bytes_sent", written))
	})
}

// Redact hides the stream key (the last path segment) and any credentials so
// destinations can be logged.
func Redact(destination string) string {
	u, err := url.Parse(strings.TrimSpace(destination))
	if err != nil || u.Host == "" {
		return "<destination>"
	}
	u.User = nil
	u.RawQuery = ""
	path := strings.TrimSuffix(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[:idx+1] + "****"
	}
	u.Path = path
	u.RawPath = path
	return u.String()
}
