// Package notifications delivers stream events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. Each
// event family can be switched off individually in the [notifications]
// section, so the relay can publish unconditionally.
package notifications
