package testsupport

import (
	"context"
	"testing"
	"time"

	"overlaycast/internal/config"
	"overlaycast/internal/donations"
	"overlaycast/internal/logging"
)

// MustOpenStore opens the donations store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...donations.Option) *donations.Store {
	t.Helper()

	store, err := donations.Open(context.Background(), cfg, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("donations.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// FixedClock returns a clock option pinned to now.
func FixedClock(now time.Time) donations.Option {
	return donations.WithClock(func() time.Time { return now })
}
