package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	maxPaymentURLLength   = 2048
	maxPaymentLabelLength = 64
)

var (
	validProfiles = map[string]struct{}{"baseline": {}, "main": {}, "high": {}}
	validTunes    = map[string]struct{}{"zerolatency": {}, "film": {}, "animation": {}, "grain": {}, "stillimage": {}, "fastdecode": {}}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateEgress(); err != nil {
		return err
	}
	if err := c.validateOverlay(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSource() error {
	if strings.TrimSpace(c.Source.Input) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("source.input is required. Set OVERLAYCAST_SOURCE or edit %s (create with 'overlaycast config init')", defaultPath)
	}
	return ensurePositiveMap(map[string]int{
		"source.retry_interval": c.Source.RetryInterval,
		"source.probe_timeout":  c.Source.ProbeTimeout,
	})
}

func (c *Config) validateEncoding() error {
	if err := ensurePositiveMap(map[string]int{
		"encoding.bitrate_kbps":      c.Encoding.BitrateKbps,
		"encoding.fps":               c.Encoding.FPS,
		"encoding.keyframe_interval": c.Encoding.KeyframeInterval,
		"encoding.default_width":     c.Encoding.DefaultWidth,
		"encoding.default_height":    c.Encoding.DefaultHeight,
		"encoding.queue_frames":      c.Encoding.QueueFrames,
	}); err != nil {
		return err
	}
	if c.Encoding.DefaultWidth%2 != 0 || c.Encoding.DefaultHeight%2 != 0 {
		return errors.New("encoding.default_width and encoding.default_height must be even for yuv420p output")
	}
	if _, ok := validProfiles[c.Encoding.Profile]; !ok {
		return fmt.Errorf("encoding.profile %q is not supported (use baseline, main, or high)", c.Encoding.Profile)
	}
	if c.Encoding.Level == "" {
		return errors.New("encoding.level must be set")
	}
	if _, ok := validTunes[c.Encoding.Tune]; !ok {
		return fmt.Errorf("encoding.tune %q is not supported", c.Encoding.Tune)
	}
	return nil
}

func (c *Config) validateEgress() error {
	if c.Egress.StopTimeout <= 0 {
		return errors.New("egress.stop_timeout must be positive (seconds)")
	}
	for _, dest := range c.Egress.Destinations {
		if strings.ContainsAny(dest, " \t\n") {
			return fmt.Errorf("egress.destinations entry %q must not contain whitespace", dest)
		}
	}
	if c.Egress.RedisURL != "" && !strings.HasPrefix(c.Egress.RedisURL, "redis://") && !strings.HasPrefix(c.Egress.RedisURL, "rediss://") {
		return errors.New("egress.redis_url must start with redis:// or rediss://")
	}
	return nil
}

func (c *Config) validateOverlay() error {
	if c.Overlay.RefreshInterval <= 0 {
		return errors.New("overlay.refresh_interval must be positive (seconds)")
	}
	if url := c.Overlay.PaymentURL; url != "" {
		if !strings.HasPrefix(url, "https://") || len(url) > maxPaymentURLLength {
			return fmt.Errorf("overlay.payment_url must be https and at most %d characters", maxPaymentURLLength)
		}
	}
	if len(c.Overlay.PaymentLabel) > maxPaymentLabelLength {
		return fmt.Errorf("overlay.payment_label must be at most %d characters", maxPaymentLabelLength)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.StoreDriver() {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("store.path must be set when store.driver is sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("store.dsn must be set when store.driver is postgres (or set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported (use sqlite or postgres)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q must be host:port: %w", c.API.Bind, err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
