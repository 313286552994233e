package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"overlaycast/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Store.Driver = config.DriverSQLite
	cfgVal.Store.Path = filepath.Join(base, "data", "overlay.db")
	cfgVal.Source.Input = filepath.Join(base, "input.mp4")
	cfgVal.Egress.Destinations = nil
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDestinations sets the static egress destinations.
func WithDestinations(urls ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Egress.Destinations = append([]string(nil), urls...)
	}
}

// WithAPIToken sets the control-plane token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// points the tool configuration at them. If names is empty, ffmpeg and
// ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			path := WriteStub(b.t, binDir, name, "exit 0")
			switch name {
			case "ffmpeg":
				b.cfg.Tools.FFmpeg = path
			case "ffprobe":
				b.cfg.Tools.FFprobe = path
			}
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}

// EnsureDirs creates the config's directories or fails the test.
func EnsureDirs(t testing.TB, cfg *config.Config) {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := os.MkdirAll(BaseDir(cfg), 0o755); err != nil {
		t.Fatalf("mkdir base: %v", err)
	}
}
