package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"overlaycast/internal/logging"
	"overlaycast/internal/services"
)

// SnapshotProvider reads the overlay data from the system of record. An error
// means "unreachable", which is distinct from a successful empty result.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (Update, error)
}

// RefreshStats summarizes refresher activity for status output.
type RefreshStats struct {
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Refresher periodically pulls a snapshot and applies it to the store. It
// never touches the frame path; failures keep the last-known-good state.
type Refresher struct {
	store    *Store
	provider SnapshotProvider
	interval time.Duration
	logger   *slog.Logger

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   RefreshStats
}

// NewRefresher constructs a refresher. interval must be positive.
func NewRefresher(store *Store, provider SnapshotProvider, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:    store,
		provider: provider,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "overlay-refresh"),
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the background loop. The first refresh happens immediately.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("overlay refresher already running")
	}
	if r.interval <= 0 {
		return services.Wrap(services.ErrConfiguration, "overlay", "start refresher", "refresh interval must be positive", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(runCtx)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Trigger requests an out-of-schedule refresh, for example after a control-plane write.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the refresh counters.
func (r *Refresher) Stats() RefreshStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	r.RefreshOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		r.RefreshOnce(ctx)
	}
}

// RefreshOnce performs a single read and apply. It returns the provider error, if any,
// after logging it; the store is left untouched on failure.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	update, err := r.provider.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.recordFailure(err)
		return err
	}
	state := r.store.Apply(update)
	r.recordSuccess(state)
	return nil
}

func (r *Refresher) recordFailure(err error) {
	r.mu.Lock()
	r.stats.ConsecutiveFailures++
	r.stats.LastError = err.Error()
	failures := r.stats.ConsecutiveFailures
	r.mu.Unlock()

	if failures == 1 {
		logging.WarnWithContext(r.logger, "overlay store unreachable; keeping last known overlay", "overlay_refresh_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store.path or DATABASE_URL connectivity"),
			logging.String(logging.FieldImpact, "overlay shows the previous ranking, alerts, and payment link"),
		)
		return
	}
	r.logger.Debug("overlay refresh still failing",
		logging.Error(err),
		logging.Int("consecutive_failures", failures),
	)
}

func (r *Refresher) recordSuccess(state *State) {
	r.mu.Lock()
	failures := r.stats.ConsecutiveFailures
	r.stats.ConsecutiveFailures = 0
	r.stats.LastError = ""
	r.stats.LastSuccess = time.Now()
	r.mu.Unlock()

	if failures > 0 {
		r.logger.Info("overlay store reachable again",
			logging.String(logging.FieldEventType, "overlay_refresh_recovered"),
			logging.Int("failed_attempts", failures),
		)
	}
	r.logger.Debug("overlay refreshed",
		logging.Int("ranking_entries", len(state.Ranking)),
		logging.Int("alerts", len(state.Alerts)),
		logging.Bool("payment_link", state.PaymentLink != nil),
	)
}
