package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeSource()
	c.normalizeEncoding()
	c.normalizeEgress()
	if err := c.normalizeOverlay(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = "ffprobe"
	}
}

func (c *Config) normalizeSource() {
	if value, ok := os.LookupEnv("OVERLAYCAST_SOURCE"); ok && strings.TrimSpace(value) != "" {
		c.Source.Input = value
	}
	c.Source.Input = strings.TrimSpace(c.Source.Input)
}

func (c *Config) normalizeEncoding() {
	c.Encoding.Encoder = strings.TrimSpace(c.Encoding.Encoder)
	if c.Encoding.Encoder == "" {
		c.Encoding.Encoder = defaultEncoder
	}
	c.Encoding.Profile = strings.ToLower(strings.TrimSpace(c.Encoding.Profile))
	c.Encoding.Level = strings.TrimSpace(c.Encoding.Level)
	c.Encoding.Tune = strings.ToLower(strings.TrimSpace(c.Encoding.Tune))
	if c.Encoding.QueueFrames <= 0 {
		c.Encoding.QueueFrames = defaultQueueFrames
	}
}

func (c *Config) normalizeEgress() {
	if value, ok := os.LookupEnv("OVERLAYCAST_DESTINATIONS"); ok && strings.TrimSpace(value) != "" {
		c.Egress.Destinations = strings.Split(value, ",")
	}
	destinations := make([]string, 0, len(c.Egress.Destinations))
	seen := make(map[string]struct{}, len(c.Egress.Destinations))
	for _, dest := range c.Egress.Destinations {
		trimmed := strings.TrimSpace(dest)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		destinations = append(destinations, trimmed)
	}
	c.Egress.Destinations = destinations

	if value, ok := os.LookupEnv("REDIS_URL"); ok && strings.TrimSpace(value) != "" {
		c.Egress.RedisURL = value
	}
	c.Egress.RedisURL = strings.TrimSpace(c.Egress.RedisURL)
	c.Egress.RedisKey = strings.TrimSpace(c.Egress.RedisKey)
	if c.Egress.RedisKey == "" {
		c.Egress.RedisKey = defaultRedisKey
	}
}

func (c *Config) normalizeOverlay() error {
	c.Overlay.PaymentURL = strings.TrimSpace(c.Overlay.PaymentURL)
	c.Overlay.PaymentLabel = strings.TrimSpace(c.Overlay.PaymentLabel)
	if c.Overlay.PaymentLabel == "" {
		c.Overlay.PaymentLabel = defaultPaymentLabel
	}
	if strings.TrimSpace(c.Overlay.SeedFile) != "" {
		var err error
		if c.Overlay.SeedFile, err = expandPath(strings.TrimSpace(c.Overlay.SeedFile)); err != nil {
			return fmt.Errorf("overlay.seed_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeStore() error {
	if value, ok := os.LookupEnv("DATABASE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Store.DSN = value
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "sqlite3" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == "postgresql" || c.Store.Driver == "pgx" {
		c.Store.Driver = DriverPostgres
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = defaultStorePath
	}
	var err error
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	if value, ok := os.LookupEnv("OVERLAYCAST_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.API.Token = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	c.API.Bind = strings.TrimSpace(c.API.Bind)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
