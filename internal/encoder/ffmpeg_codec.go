package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"overlaycast/internal/procgroup"
)

const (
	readChunkSize    = 64 * 1024
	codecStopTimeout = 5 * time.Second
	stderrTailLines  = 20
)

// FFmpegBackend runs libx264 (or any ffmpeg video encoder) as a subprocess
// reading rawvideo on stdin and writing an H.264 elementary stream on stdout.
type FFmpegBackend struct{}

// BuildArgs returns the ffmpeg arguments for params.
func BuildArgs(params Params) []string {
	bitrate := strconv.Itoa(params.BitrateKbps) + "k"
	gop := strconv.Itoa(params.GOP())
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", params.Width, params.Height),
		"-r", strconv.Itoa(params.FPS),
		"-i", "pipe:0",
	}
	// yuv420p needs even dimensions.
	if params.Width%2 != 0 || params.Height%2 != 0 {
		args = append(args, "-vf", "crop=trunc(iw/2)*2:trunc(ih/2)*2")
	}
	args = append(args,
		"-c:v", params.Encoder,
		"-b:v", bitrate,
		"-minrate", bitrate,
		"-maxrate", bitrate,
		"-bufsize", strconv.Itoa(params.BitrateKbps*2)+"k",
	)
	if params.Encoder == "libx264" {
		args = append(args, "-x264-params", "nal-hrd=cbr")
	}
	args = append(args, "-g", gop, "-keyint_min", gop, "-sc_threshold", "0")
	if params.Profile != "" {
		args = append(args, "-profile:v", params.Profile)
	}
	if params.Level != "" {
		args = append(args, "-level:v", params.Level)
	}
	if params.Tune != "" {
		args = append(args, "-tune", params.Tune)
	}
	return append(args, "-pix_fmt", "yuv420p", "-f", "h264", "pipe:1")
}

// Start launches the ffmpeg process.
func (FFmpegBackend) Start(ctx context.Context, params Params) (Codec, error) {
	binary := strings.TrimSpace(params.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	queueSize := params.QueueFrames
	if queueSize <= 0 {
		queueSize = 1
	}

	cmd := exec.CommandContext(ctx, binary, BuildArgs(params)...) //nolint:gosec
	procgroup.Prepare(cmd)
	stderr := procgroup.NewTail(stderrTailLines)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	c := &ffmpegCodec{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		queue:  make(chan []byte, queueSize),
		exited: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

type ffmpegCodec struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *procgroup.Tail

	queue  chan []byte
	exited chan struct{}

	mu      sync.Mutex
	pending [][]byte
	err     error
	closed  bool
}

func (c *ffmpegCodec) Submit(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("encoder closed")
	}
	if c.err != nil {
		return c.err
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrCapacity
	}
}

func (c *ffmpegCodec) Drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *ffmpegCodec) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	timer := time.NewTimer(codecStopTimeout)
	defer timer.Stop()
	select {
	case <-c.exited:
	case <-timer.C:
		_ = procgroup.Kill(c.cmd)
		<-c.exited
	}
	return nil
}

func (c *ffmpegCodec) writeLoop() {
	failed := false
	for frame := range c.queue {
		if failed {
			continue
		}
		// A failed write means the process is gone or going; readLoop
		// reports the exit with its stderr.
		if _, err := c.stdin.Write(frame); err != nil {
			failed = true
		}
	}
	_ = c.stdin.Close()
}

func (c *ffmpegCodec) readLoop() {
	defer close(c.exited)
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.mu.Lock()
			c.pending = append(c.pending, chunk)
			c.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	waitErr := c.cmd.Wait()
	c.mu.Lock()
	closing := c.closed
	c.mu.Unlock()
	if closing {
		return
	}
	if waitErr == nil {
		waitErr = errors.New("exited before close")
	}
	if tail := c.stderr.String(); tail != "" {
		waitErr = fmt.Errorf("%w: %s", waitErr, tail)
	}
	c.fail(fmt.Errorf("encoder process: %w", waitErr))
}

func (c *ffmpegCodec) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}
