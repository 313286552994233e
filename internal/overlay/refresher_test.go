package overlay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"overlaycast/internal/services"
)

type scriptedProvider struct {
	mu      sync.Mutex
	results []providerResult
	calls   int
}

type providerResult struct {
	update Update
	err    error
}

func (p *scriptedProvider) Snapshot(context.Context) (Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	return p.results[idx].update, p.results[idx].err
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRefreshFailureKeepsState(t *testing.T) {
	seed := sampleState()
	store := NewStore(&seed)
	before := store.Snapshot()

	unreachable := services.Wrap(services.ErrOverlayStoreUnreachable, "overlay", "snapshot", "db down", errors.New("dial tcp: refused"))
	provider := &scriptedProvider{results: []providerResult{{err: unreachable}}}
	refresher := NewRefresher(store, provider, time.Second, nil)

	if err := refresher.RefreshOnce(context.Background()); !errors.Is(err, services.ErrOverlayStoreUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	after := store.Snapshot()
	if after != before || !reflect.DeepEqual(*after, sampleState()) {
		t.Fatalf("state changed after failed refresh: %+v", after)
	}
	if stats := refresher.Stats(); stats.ConsecutiveFailures != 1 || stats.LastError == "" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRefresherLogsFirstFailureAsWarningThenRecovery(t *testing.T) {
	var out lockedBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fail := providerResult{err: errors.New("db down")}
	ok := providerResult{update: FullUpdate(State{Alerts: []Alert{{Message: "hi"}}})}
	provider := &scriptedProvider{results: []providerResult{fail, fail, ok}}
	store := NewStore(nil)
	refresher := NewRefresher(store, provider, time.Second, logger)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = refresher.RefreshOnce(ctx)
	}

	logs := out.String()
	if strings.Count(logs, "level=WARN") != 1 {
		t.Fatalf("expected exactly one warning, got:\n%s", logs)
	}
	if !strings.Contains(logs, "overlay refresh still failing") {
		t.Fatalf("expected debug log for repeated failure:\n%s", logs)
	}
	if !strings.Contains(logs, "overlay store reachable again") {
		t.Fatalf("expected recovery log:\n%s", logs)
	}
	if len(store.Snapshot().Alerts) != 1 {
		t.Fatal("expected successful refresh to apply")
	}
}

func TestRefresherLoopRefreshesImmediatelyAndOnTrigger(t *testing.T) {
	provider := &scriptedProvider{results: []providerResult{{update: FullUpdate(State{})}}}
	refresher := NewRefresher(NewStore(nil), provider, time.Hour, nil)

	if err := refresher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := refresher.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	waitFor(t, func() bool { return provider.Calls() >= 1 })
	refresher.Trigger()
	waitFor(t, func() bool { return provider.Calls() >= 2 })
	refresher.Stop()
	refresher.Stop()
}

func TestRefresherRejectsNonPositiveInterval(t *testing.T) {
	refresher := NewRefresher(NewStore(nil), &scriptedProvider{}, 0, nil)
	if err := refresher.Start(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
