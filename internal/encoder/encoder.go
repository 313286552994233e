package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"overlaycast/internal/config"
	"overlaycast/internal/logging"
	"overlaycast/internal/media"
	"overlaycast/internal/services"
)

// ErrCapacity reports that the codec cannot accept another frame right now.
// It matches services.ErrEncoderCapacity.
var ErrCapacity = fmt.Errorf("%w: frame queue full", services.ErrEncoderCapacity)

// Unit is one chunk of encoded bitstream, forwarded to egress unchanged.
type Unit []byte

// Settings is the static output profile shared by every Handle.
type Settings struct {
	Binary          string
	Encoder         string
	BitrateKbps     int
	KeyframeSeconds int
	Profile         string
	Level           string
	Tune            string
	QueueFrames     int
}

// SettingsFromConfig extracts encoder settings from the relay configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{}
	}
	return Settings{
		Binary:          cfg.FFmpegBinary(),
		Encoder:         cfg.Encoding.Encoder,
		BitrateKbps:     cfg.Encoding.BitrateKbps,
		KeyframeSeconds: cfg.Encoding.KeyframeInterval,
		Profile:         cfg.Encoding.Profile,
		Level:           cfg.Encoding.Level,
		Tune:            cfg.Encoding.Tune,
		QueueFrames:     cfg.Encoding.QueueFrames,
	}
}

// Params fully describes one encoder instance.
type Params struct {
	Settings
	Width  int
	Height int
	FPS    int
}

// GOP returns the keyframe interval in frames.
func (p Params) GOP() int {
	return p.KeyframeSeconds * p.FPS
}

func (p Params) validate() error {
	var problems []string
	if p.Width <= 0 || p.Height <= 0 {
		problems = append(problems, fmt.Sprintf("invalid dimensions %dx%d", p.Width, p.Height))
	}
	if p.FPS <= 0 {
		problems = append(problems, fmt.Sprintf("invalid fps %d", p.FPS))
	}
	if p.BitrateKbps <= 0 {
		problems = append(problems, fmt.Sprintf("invalid bitrate %d kbps", p.BitrateKbps))
	}
	if p.KeyframeSeconds <= 0 {
		problems = append(problems, fmt.Sprintf("invalid keyframe interval %ds", p.KeyframeSeconds))
	}
	if strings.TrimSpace(p.Encoder) == "" {
		problems = append(problems, "encoder name is empty")
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "encoder", "create", strings.Join(problems, "; "), nil)
}

// Codec is the narrow contract the Handle needs from an encoder backend.
type Codec interface {
	// Submit queues one raw frame without blocking. It returns an error
	// matching services.ErrEncoderCapacity when the queue is full.
	Submit(frame []byte) error
	// Drain returns the output produced since the previous call.
	Drain() [][]byte
	Close() error
}

// Backend starts codecs.
type Backend interface {
	Start(ctx context.Context, params Params) (Codec, error)
}

// Factory creates encoder handles from static settings.
type Factory struct {
	settings Settings
	backend  Backend
	logger   *slog.Logger
}

// NewFactory returns a Factory. A nil backend selects the ffmpeg backend.
func NewFactory(settings Settings, backend Backend, logger *slog.Logger) *Factory {
	if backend == nil {
		backend = FFmpegBackend{}
	}
	return &Factory{
		settings: settings,
		backend:  backend,
		logger:   logging.NewComponentLogger(logger, "encoder"),
	}
}

// Create configures a new encoder for the given frame geometry.
func (f *Factory) Create(ctx context.Context, width, height, fps int) (*Handle, error) {
	params := Params{Settings: f.settings, Width: width, Height: height, FPS: fps}
	if err := params.validate(); err != nil {
		return nil, err
	}
	codec, err := f.backend.Start(ctx, params)
	if err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrExternalTool, "encoder", "start", f.settings.Encoder, err)
	}
	logger := f.logger.With(
		logging.String("resolution", fmt.Sprintf("%dx%d", width, height)),
		logging.Int("fps", fps),
	)
	logger.Info("encoder created",
		logging.String("codec", params.Encoder),
		logging.Int("bitrate_kbps", params.BitrateKbps),
		logging.Int("gop", params.GOP()),
		logging.String("profile", params.Profile),
	)
	return &Handle{params: params, codec: codec, logger: logger}, nil
}

// Handle is a live encoder bound to one resolution.
type Handle struct {
	params  Params
	codec   Codec
	logger  *slog.Logger
	dropped atomic.Uint64
	encoded atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Width returns the configured frame width.
func (h *Handle) Width() int { return h.params.Width }

// Height returns the configured frame height.
func (h *Handle) Height() int { return h.params.Height }

// Matches reports whether frames of the given size can be fed to this handle.
func (h *Handle) Matches(width, height int) bool {
	return h != nil && h.params.Width == width && h.params.Height == height
}

// Encode submits a frame and returns whatever bitstream is ready. A full
// queue drops the frame and returns no units and no error.
func (h *Handle) Encode(ctx context.Context, frame *media.Frame) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Image == nil {
		return nil, services.Wrap(services.ErrExternalTool, "encoder", "encode", "frame has no pixels", nil)
	}
	if !h.Matches(frame.Width, frame.Height) {
		return nil, services.Wrap(services.ErrExternalTool, "encoder", "encode",
			fmt.Sprintf("frame %dx%d does not match encoder %dx%d", frame.Width, frame.Height, h.params.Width, h.params.Height), nil)
	}

	if err := h.codec.Submit(frame.Bytes()); err != nil {
		if errors.Is(err, services.ErrEncoderCapacity) {
			h.recordDrop(err)
			return nil, nil
		}
		return nil, services.Wrap(services.ErrExternalTool, "encoder", "encode", "", err)
	}
	h.encoded.Add(1)

	chunks := h.codec.Drain()
	if len(chunks) == 0 {
		return nil, nil
	}
	units := make([]Unit, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk) > 0 {
			units = append(units, Unit(chunk))
		}
	}
	return units, nil
}

func (h *Handle) recordDrop(err error) {
	total := h.dropped.Add(1)
	if total == 1 {
		logging.WarnWithContext(h.logger, "encoder queue full, dropping frame", "encoder_capacity",
			logging.Error(err),
			logging.Uint64("frames_dropped", total),
			logging.String(logging.FieldErrorHint, "lower encoding.bitrate_kbps or raise encoding.queue_frames"),
			logging.String(logging.FieldImpact, "frame skipped; stream continues"),
		)
		return
	}
	h.logger.Debug("encoder queue full, dropping frame", logging.Uint64("frames_dropped", total))
}

// Dropped returns the number of frames discarded for capacity.
func (h *Handle) Dropped() uint64 { return h.dropped.Load() }

// Encoded returns the number of frames accepted by the codec.
func (h *Handle) Encoded() uint64 { return h.encoded.Load() }

// Close releases the codec. Safe to call more than once.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closeErr = h.codec.Close()
		h.logger.Debug("encoder closed",
			logging.Uint64("frames_encoded", h.encoded.Load()),
			logging.Uint64("frames_dropped", h.dropped.Load()),
		)
	})
	return h.closeErr
}
