// Package config loads, normalizes, and validates overlaycast configuration data.
//
// It supplies repository defaults (the live H.264 profile, overlay refresh
// cadence, reconnect backoff), expands user paths, reads TOML files, and
// honours environment overrides such as OVERLAYCAST_SOURCE and DATABASE_URL.
// Validation failures are configuration errors: the relay refuses to start.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
