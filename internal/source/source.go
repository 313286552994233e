package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"overlaycast/internal/config"
	"overlaycast/internal/logging"
	"overlaycast/internal/media"
	"overlaycast/internal/media/ffprobe"
	"overlaycast/internal/procgroup"
	"overlaycast/internal/services"
)

const stderrTailLines = 20

// Info describes the opened stream.
type Info struct {
	Width   int
	Height  int
	FPS     float64
	Codec   string
	Network bool
	// Fallback is true when the probe did not report dimensions and the
	// configured defaults were used.
	Fallback bool
}

// Source is an open input. Close must be called on every exit path.
type Source interface {
	// Next returns the next frame, io.EOF at a clean end of a finite input,
	// or an error wrapping services.ErrSourceUnavailable.
	Next(ctx context.Context) (*media.Frame, error)
	Info() Info
	Close() error
}

// Opener opens sources.
type Opener interface {
	Open(ctx context.Context, locator string) (Source, error)
}

// InspectFunc probes a locator.
type InspectFunc func(ctx context.Context, binary, locator string) (ffprobe.Result, error)

// FFmpegOpener decodes inputs with ffmpeg after probing them with ffprobe.
type FFmpegOpener struct {
	FFmpeg        string
	FFprobe       string
	Realtime      bool
	ProbeTimeout  time.Duration
	DefaultWidth  int
	DefaultHeight int
	Inspect       InspectFunc

	logger *slog.Logger
}

// NewFFmpegOpener configures an opener from the relay configuration.
func NewFFmpegOpener(cfg *config.Config, logger *slog.Logger) *FFmpegOpener {
	return &FFmpegOpener{
		FFmpeg:        cfg.FFmpegBinary(),
		FFprobe:       cfg.FFprobeBinary(),
		Realtime:      cfg.Source.Realtime,
		ProbeTimeout:  cfg.SourceProbeTimeout(),
		DefaultWidth:  cfg.Encoding.DefaultWidth,
		DefaultHeight: cfg.Encoding.DefaultHeight,
		Inspect:       ffprobe.Inspect,
		logger:        logging.NewComponentLogger(logger, "source"),
	}
}

// DecodeArgs returns the ffmpeg arguments for decoding locator to rgba.
// A non-zero scale forces the output size.
func DecodeArgs(locator string, realtime bool, scaleWidth, scaleHeight int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	network := ffprobe.IsNetworkLocator(locator)
	if realtime && !network {
		args = append(args, "-re")
	}
	args = append(args, ffprobe.InputArgs(locator)...)
	args = append(args, "-i", locator, "-an", "-sn")
	if scaleWidth > 0 && scaleHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", scaleWidth, scaleHeight))
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")
}

func (o *FFmpegOpener) Open(ctx context.Context, locator string) (Source, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, services.Wrap(services.ErrConfiguration, "source", "open", "source locator is empty", nil)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.NewComponentLogger(nil, "source")
	}

	info, err := o.probe(ctx, locator)
	if err != nil {
		return nil, err
	}

	scaleW, scaleH := 0, 0
	if info.Fallback {
		scaleW, scaleH = info.Width, info.Height
		logger.Debug("source probe reported no dimensions; using defaults",
			logging.Int("width", info.Width),
			logging.Int("height", info.Height),
		)
	}

	binary := strings.TrimSpace(o.FFmpeg)
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary, DecodeArgs(locator, o.Realtime, scaleW, scaleH)...) //nolint:gosec
	procgroup.Prepare(cmd)
	stderr := procgroup.NewTail(stderrTailLines)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		return nil, services.Wrap(services.ErrSourceUnavailable, "source", "decode", binary, err)
	}

	logger.Info("source opened",
		logging.String("source", redactLocator(locator)),
		logging.String("resolution", fmt.Sprintf("%dx%d", info.Width, info.Height)),
		logging.Float64("fps", info.FPS),
		logging.Int("pid", cmd.Process.Pid),
	)
	return &ffmpegSource{
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (o *FFmpegOpener) probe(ctx context.Context, locator string) (Info, error) {
	inspect := o.Inspect
	if inspect == nil {
		inspect = ffprobe.Inspect
	}
	probeCtx := ctx
	if o.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, o.ProbeTimeout)
		defer cancel()
	}
	result, err := inspect(probeCtx, o.FFprobe, locator)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, ctxErr
		}
		return Info{}, services.Wrap(services.ErrSourceUnavailable, "source", "probe", redactLocator(locator), err)
	}
	stream, ok := result.VideoStream()
	if !ok {
		return Info{}, services.Wrap(services.ErrSourceUnavailable, "source", "probe", "no video stream", nil)
	}

	info := Info{
		Width:   stream.Width,
		Height:  stream.Height,
		FPS:     stream.FrameRate(),
		Codec:   stream.CodecName,
		Network: ffprobe.IsNetworkLocator(locator),
	}
	if info.Width <= 0 || info.Height <= 0 {
		info.Width, info.Height = o.DefaultWidth, o.DefaultHeight
		info.Fallback = true
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, services.Wrap(services.ErrConfiguration, "source", "probe", "no dimensions available", nil)
	}
	return info, nil
}

type ffmpegSource struct {
	info   Info
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *procgroup.Tail

	mu        sync.Mutex
	ordinal   int64
	finished  bool
	waited    atomic.Bool
	closeOnce sync.Once
}

func (s *ffmpegSource) Info() Info { return s.info }

func (s *ffmpegSource) Next(ctx context.Context) (*media.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil, io.EOF
	}

	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	if _, err := io.ReadFull(s.stdout, img.Pix); err != nil {
		s.finished = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, s.endOfStream(err)
	}

	frame := media.NewFrame(img)
	frame.PTS = media.Timestamp(s.ordinal)
	frame.DTS = media.Timestamp(s.ordinal)
	s.ordinal++
	return frame, nil
}

// endOfStream turns a short read into io.EOF when ffmpeg exited cleanly and
// into a decode failure otherwise. A trailing partial frame is discarded.
func (s *ffmpegSource) endOfStream(readErr error) error {
	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return services.Wrap(services.ErrSourceUnavailable, "source", "read", "", readErr)
	}
	waitErr := s.cmd.Wait()
	s.waited.Store(true)
	if waitErr == nil {
		return io.EOF
	}
	if tail := s.stderr.String(); tail != "" {
		waitErr = fmt.Errorf("%w: %s", waitErr, tail)
	}
	return services.Wrap(services.ErrSourceUnavailable, "source", "decode", "", waitErr)
}

func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		// Kill before taking the lock so a Next blocked on the pipe returns.
		if !s.waited.Load() {
			_ = procgroup.Kill(s.cmd)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finished = true
		if !s.waited.Load() {
			_ = s.cmd.Wait()
			s.waited.Store(true)
		}
	})
	return nil
}

// redactLocator drops credentials from network locators before logging.
func redactLocator(locator string) string {
	if !ffprobe.IsNetworkLocator(locator) {
		return locator
	}
	scheme, rest, ok := strings.Cut(locator, "://")
	if !ok {
		return locator
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
