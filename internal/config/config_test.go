package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"overlaycast/internal/config"
)

func clearOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OVERLAYCAST_SOURCE", "OVERLAYCAST_DESTINATIONS", "OVERLAYCAST_API_TOKEN", "DATABASE_URL", "REDIS_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearOverrides(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogs := filepath.Join(tempHome, ".local", "share", "overlaycast", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	wantStore := filepath.Join(tempHome, ".local", "share", "overlaycast", "overlay.db")
	if cfg.Store.Path != wantStore {
		t.Fatalf("unexpected store path: got %q want %q", cfg.Store.Path, wantStore)
	}
	if cfg.StoreDriver() != config.DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.StoreDriver())
	}
	if cfg.API.Bind != "127.0.0.1:5001" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.OverlayRefreshInterval() != 8*time.Second {
		t.Fatalf("unexpected overlay refresh interval: %s", cfg.OverlayRefreshInterval())
	}
	if cfg.SourceRetryInterval() != 5*time.Second {
		t.Fatalf("unexpected retry interval: %s", cfg.SourceRetryInterval())
	}
	if cfg.Encoding.Encoder != "libx264" || cfg.Encoding.BitrateKbps != 4500 || cfg.Encoding.FPS != 30 {
		t.Fatalf("unexpected encoding defaults: %+v", cfg.Encoding)
	}
	if cfg.Encoding.Tune != "zerolatency" || cfg.Encoding.Profile != "high" {
		t.Fatalf("unexpected encoding profile: %+v", cfg.Encoding)
	}
	if len(cfg.Egress.Destinations) != 0 {
		t.Fatalf("expected no destinations by default, got %v", cfg.Egress.Destinations)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearOverrides(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "overlaycast.toml")

	type payload struct {
		Source struct {
			Input string `toml:"input"`
			Loop  bool   `toml:"loop"`
		} `toml:"source"`
		Egress struct {
			Destinations []string `toml:"destinations"`
		} `toml:"egress"`
		Store struct {
			Driver string `toml:"driver"`
			Path   string `toml:"path"`
		} `toml:"store"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Source.Input = "/media/loop.mp4"
	custom.Source.Loop = true
	custom.Egress.Destinations = []string{" rtmp://a/live ", "rtmp://a/live", "", "rtmp://b/live"}
	custom.Store.Driver = "SQLite3"
	custom.Store.Path = filepath.Join(tempDir, "db", "overlay.db")
	custom.Logging.Format = "JSON"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Source.Input != "/media/loop.mp4" || !cfg.Source.Loop {
		t.Fatalf("unexpected source: %+v", cfg.Source)
	}
	want := []string{"rtmp://a/live", "rtmp://b/live"}
	if strings.Join(cfg.Egress.Destinations, ",") != strings.Join(want, ",") {
		t.Fatalf("expected trimmed, deduplicated destinations %v, got %v", want, cfg.Egress.Destinations)
	}
	if cfg.Store.Driver != config.DriverSQLite {
		t.Fatalf("expected driver alias normalized to sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
	if cfg.Encoding.BitrateKbps != config.Default().Encoding.BitrateKbps {
		t.Fatalf("expected unspecified sections to keep defaults, got %d", cfg.Encoding.BitrateKbps)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "db")); err != nil {
		t.Fatalf("expected store directory to be created: %v", err)
	}
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	clearOverrides(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OVERLAYCAST_SOURCE", "rtsp://camera.local/live")
	t.Setenv("OVERLAYCAST_DESTINATIONS", "rtmp://one/live, rtmp://two/live")
	t.Setenv("OVERLAYCAST_API_TOKEN", "secret")
	t.Setenv("DATABASE_URL", "postgres://overlay:pw@localhost/overlay")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	contents := "[source]\ninput = \"/from/file.mp4\"\n[api]\ntoken = \"file-token\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Source.Input != "rtsp://camera.local/live" {
		t.Fatalf("expected env source, got %q", cfg.Source.Input)
	}
	if len(cfg.Egress.Destinations) != 2 || cfg.Egress.Destinations[1] != "rtmp://two/live" {
		t.Fatalf("unexpected destinations: %v", cfg.Egress.Destinations)
	}
	if cfg.API.Token != "secret" {
		t.Fatalf("expected env token, got %q", cfg.API.Token)
	}
	if cfg.StoreDriver() != config.DriverPostgres {
		t.Fatalf("expected DATABASE_URL to select postgres, got %q", cfg.StoreDriver())
	}
	if cfg.Egress.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url: %q", cfg.Egress.RedisURL)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_stream_key_here") {
		t.Fatalf("sample config missing placeholder stream key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Encoding.QueueFrames != 8 {
		t.Fatalf("expected sample queue_frames 8, got %d", cfg.Encoding.QueueFrames)
	}
	if !strings.Contains(cfg.Store.Path, "overlaycast") {
		t.Fatalf("expected store path to contain overlaycast, got %q", cfg.Store.Path)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"missing source":       func(c *config.Config) { c.Source.Input = " " },
		"zero retry":           func(c *config.Config) { c.Source.RetryInterval = 0 },
		"zero fps":             func(c *config.Config) { c.Encoding.FPS = 0 },
		"odd width":            func(c *config.Config) { c.Encoding.DefaultWidth = 1921 },
		"unknown profile":      func(c *config.Config) { c.Encoding.Profile = "ultra" },
		"unknown tune":         func(c *config.Config) { c.Encoding.Tune = "fast" },
		"zero stop timeout":    func(c *config.Config) { c.Egress.StopTimeout = 0 },
		"spaced destination":   func(c *config.Config) { c.Egress.Destinations = []string{"rtmp://a b"} },
		"bad redis url":        func(c *config.Config) { c.Egress.RedisURL = "http://localhost" },
		"zero refresh":         func(c *config.Config) { c.Overlay.RefreshInterval = 0 },
		"http payment url":     func(c *config.Config) { c.Overlay.PaymentURL = "http://pay.example" },
		"long payment label":   func(c *config.Config) { c.Overlay.PaymentLabel = strings.Repeat("x", 65) },
		"unknown driver":       func(c *config.Config) { c.Store.Driver = "mysql" },
		"postgres without dsn": func(c *config.Config) { c.Store.Driver = config.DriverPostgres },
		"bad bind":             func(c *config.Config) { c.API.Bind = "localhost" },
		"zero notify timeout":  func(c *config.Config) { c.Notifications.RequestTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}

	cfg := config.Default()
	cfg.Overlay.PaymentURL = "https://pay.example/donate"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with https payment url to validate, got %v", err)
	}
}
