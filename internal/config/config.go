package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir  string `toml:"log_dir"`
	DataDir string `toml:"data_dir"`
}

// Tools names the external binaries the relay delegates media work to.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Source contains configuration for the input stream.
type Source struct {
	Input         string `toml:"input"`
	Loop          bool   `toml:"loop"`
	Realtime      bool   `toml:"realtime"`
	RetryInterval int    `toml:"retry_interval"`
	ProbeTimeout  int    `toml:"probe_timeout"`
}

// Encoding contains the fixed H.264 output profile.
type Encoding struct {
	Encoder          string `toml:"encoder"`
	BitrateKbps      int    `toml:"bitrate_kbps"`
	FPS              int    `toml:"fps"`
	KeyframeInterval int    `toml:"keyframe_interval"`
	Profile          string `toml:"profile"`
	Level            string `toml:"level"`
	Tune             string `toml:"tune"`
	DefaultWidth     int    `toml:"default_width"`
	DefaultHeight    int    `toml:"default_height"`
	QueueFrames      int    `toml:"queue_frames"`
}

// Egress contains configuration for live-ingestion delivery.
type Egress struct {
	Destinations []string `toml:"destinations"`
	StopTimeout  int      `toml:"stop_timeout"`
	RedisURL     string   `toml:"redis_url"`
	RedisKey     string   `toml:"redis_key"`
}

// Overlay contains configuration for the overlay refresh loop and seed data.
type Overlay struct {
	RefreshInterval int    `toml:"refresh_interval"`
	PaymentURL      string `toml:"payment_url"`
	PaymentLabel    string `toml:"payment_label"`
	SeedFile        string `toml:"seed_file"`
}

// Store contains configuration for the donations database.
type Store struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// API contains configuration for the control-plane HTTP server.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	StreamStarted  bool   `toml:"stream_started"`
	SourceLost     bool   `toml:"source_lost"`
	Egress         bool   `toml:"egress"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for overlaycast.
//
// Configuration sections by subsystem:
//   - Paths: log and data directories
//   - Tools: ffmpeg/ffprobe binaries
//   - Source: input locator, looping, and reconnect backoff
//   - Encoding: fixed CBR H.264 profile
//   - Egress: ingestion destinations and sink shutdown
//   - Overlay: refresh interval and payment link seed
//   - Store: donations database driver and location
//   - API: control-plane bind address and token
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tools         Tools         `toml:"tools"`
	Source        Source        `toml:"source"`
	Encoding      Encoding      `toml:"encoding"`
	Egress        Egress        `toml:"egress"`
	Overlay       Overlay       `toml:"overlay"`
	Store         Store         `toml:"store"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("overlaycast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for relay operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.DataDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.StoreDriver() == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for decode, encode, and mux.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Tools.FFmpeg); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable used for source inspection.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Tools.FFprobe); bin != "" {
		return bin
	}
	return "ffprobe"
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreDriver returns the effective donations database driver. An empty driver
// selects postgres when a DSN is configured and SQLite otherwise.
func (c *Config) StoreDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if driver != "" {
		return driver
	}
	if strings.TrimSpace(c.Store.DSN) != "" {
		return DriverPostgres
	}
	return DriverSQLite
}

// SourceRetryInterval returns the acquisition backoff.
func (c *Config) SourceRetryInterval() time.Duration {
	return time.Duration(c.Source.RetryInterval) * time.Second
}

// SourceProbeTimeout returns the ffprobe deadline applied when opening a source.
func (c *Config) SourceProbeTimeout() time.Duration {
	return time.Duration(c.Source.ProbeTimeout) * time.Second
}

// OverlayRefreshInterval returns the period of the overlay refresh task.
func (c *Config) OverlayRefreshInterval() time.Duration {
	return time.Duration(c.Overlay.RefreshInterval) * time.Second
}

// EgressStopTimeout returns how long the sink waits for the mux process to exit.
func (c *Config) EgressStopTimeout() time.Duration {
	return time.Duration(c.Egress.StopTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
