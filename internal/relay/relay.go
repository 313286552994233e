package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"overlaycast/internal/compositor"
	"overlaycast/internal/config"
	"overlaycast/internal/destinations"
	"overlaycast/internal/egress"
	"overlaycast/internal/encoder"
	"overlaycast/internal/logging"
	"overlaycast/internal/notifications"
	"overlaycast/internal/overlay"
	"overlaycast/internal/services"
	"overlaycast/internal/source"
	"overlaycast/internal/timeline"
)

// State is a pipeline state.
type State string

const (
	StateIdle               State = "idle"
	StateAcquiring          State = "acquiring"
	StateStreaming          State = "streaming"
	StateRecoverableFailure State = "recoverable_failure"
	StateSourceExhausted    State = "source_exhausted"
	StateFatalFailure       State = "fatal_failure"
	StateStopped            State = "stopped"
)

// Terminal reports whether the pipeline can leave this state.
func (s State) Terminal() bool {
	return s == StateFatalFailure || s == StateStopped
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	State            State     `json:"state"`
	Attempt          int64     `json:"attempt"`
	FramesProcessed  uint64    `json:"frames_processed"`
	FramesDropped    uint64    `json:"frames_dropped"`
	UnitsWritten     uint64    `json:"units_written"`
	BytesWritten     uint64    `json:"bytes_written"`
	EgressFailures   uint64    `json:"egress_failures"`
	Reconnects       uint64    `json:"reconnects"`
	Restarts         uint64    `json:"restarts"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	NextPTS          int64     `json:"next_pts"`
	NextDTS          int64     `json:"next_dts"`
	LiveDestinations int       `json:"live_destinations"`
	StartedAt        time.Time `json:"started_at"`
	LastError        string    `json:"last_error,omitempty"`
}

// Options are the static run parameters.
type Options struct {
	Locator       string
	Loop          bool
	RetryInterval time.Duration
	FPS           int
}

// OptionsFromConfig maps the source and encoding sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Locator:       cfg.Source.Input,
		Loop:          cfg.Source.Loop,
		RetryInterval: cfg.SourceRetryInterval(),
		FPS:           cfg.Encoding.FPS,
	}
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Deps are the collaborators the pipeline drives. Opener, Encoders, and
// Overlay are required.
type Deps struct {
	Opener       source.Opener
	Encoders     *encoder.Factory
	Sink         egress.Sink
	Destinations destinations.Provider
	Overlay      *overlay.Store
	Timeline     *timeline.Counter
	Notifier     notifications.Service
	Logger       *slog.Logger
	Wait         WaitFunc
}

// Pipeline is the relay orchestrator. Run drives it; Stats and Restart are
// safe to call from other goroutines.
type Pipeline struct {
	opts     Options
	opener   source.Opener
	encoders *encoder.Factory
	sink     egress.Sink
	dests    destinations.Provider
	overlay  *overlay.Store
	timeline *timeline.Counter
	notifier notifications.Service
	logger   *slog.Logger
	wait     WaitFunc

	restart chan struct{}
	notify  sync.WaitGroup

	// Owned by the Run goroutine.
	encoder     *encoder.Handle
	droppedBase uint64
	sourceLost  bool
	announced   bool

	mu           sync.RWMutex
	stats        Stats
	onTransition func(from, to State)
}

// New validates deps and returns an idle pipeline.
func New(opts Options, deps Deps) (*Pipeline, error) {
	if deps.Opener == nil || deps.Encoders == nil || deps.Overlay == nil {
		return nil, services.Wrap(services.ErrConfiguration, "relay", "init", "opener, encoder factory, and overlay store are required", nil)
	}
	if strings.TrimSpace(opts.Locator) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "relay", "init", "source locator is empty", nil)
	}
	p := &Pipeline{
		opts:     opts,
		opener:   deps.Opener,
		encoders: deps.Encoders,
		sink:     deps.Sink,
		dests:    deps.Destinations,
		overlay:  deps.Overlay,
		timeline: deps.Timeline,
		notifier: deps.Notifier,
		logger:   logging.NewComponentLogger(deps.Logger, "relay"),
		wait:     deps.Wait,
		restart:  make(chan struct{}, 1),
	}
	if p.timeline == nil {
		p.timeline = timeline.New()
	}
	if p.notifier == nil {
		p.notifier = notifications.Noop()
	}
	if p.dests == nil {
		p.dests = destinations.Static(nil)
	}
	if p.wait == nil {
		p.wait = sleep
	}
	p.stats.State = StateIdle
	return p, nil
}

// OnTransition registers a hook called on every state change. The hook runs
// on the frame path and must not block.
func (p *Pipeline) OnTransition(fn func(from, to State)) {
	p.mu.Lock()
	p.onTransition = fn
	p.mu.Unlock()
}

// Stats returns a copy of the current counters.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	stats := p.stats
	p.mu.RUnlock()
	stats.NextPTS, stats.NextDTS = p.timeline.Next()
	return stats
}

// Restart requests an intentional discontinuity: the current source is
// closed, timestamps restart from zero, and the source is reacquired. It
// returns false when a restart is already pending.
func (p *Pipeline) Restart() bool {
	select {
	case p.restart <- struct{}{}:
		return true
	default:
		return false
	}
}

type outcome int

const (
	outcomeExhausted outcome = iota
	outcomeFailed
	outcomeFatal
	outcomeCancelled
	outcomeRestart
)

// Run drives the state machine until ctx is cancelled (nil), the source is
// exhausted without looping (nil), or a configuration error occurs.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.stats.StartedAt = time.Now()
	p.mu.Unlock()

	defer p.notify.Wait()
	defer p.closeEncoder()

	for {
		attempt := p.nextAttempt()
		attemptCtx := services.WithStage(services.WithAttempt(ctx, attempt), "relay")
		logger := logging.WithContext(attemptCtx, p.logger)

		p.setState(StateAcquiring)
		logger.Debug("acquiring source", logging.String("source", p.opts.Locator))
		src, err := p.opener.Open(attemptCtx, p.opts.Locator)
		if err != nil {
			if ctx.Err() != nil {
				return p.stop(ctx, "cancelled")
			}
			if services.Classify(err) == services.DispositionFatal {
				return p.fail(ctx, logger, err)
			}
			p.recordError(err)
			logging.WarnWithContext(logger, "source acquisition failed; retrying", "source_unavailable",
				logging.Error(err),
				logging.Duration("retry_in", p.opts.RetryInterval),
				logging.String(logging.FieldErrorHint, "check source.input and that the upstream is publishing"),
				logging.String(logging.FieldImpact, "stream stalls until the source returns"),
			)
			p.setState(StateRecoverableFailure)
			if err := p.wait(ctx, p.opts.RetryInterval); err != nil {
				return p.stop(ctx, "cancelled")
			}
			p.countReconnect()
			continue
		}

		// A restart requested while acquiring applies to the fresh source.
		select {
		case <-p.restart:
			p.resetTimeline(logger)
		default:
		}

		result, streamErr := p.stream(attemptCtx, logger, src)
		switch result {
		case outcomeCancelled:
			return p.stop(ctx, "cancelled")
		case outcomeFatal:
			return p.fail(ctx, logger, streamErr)
		case outcomeRestart:
			p.resetTimeline(logger)
			p.countRestart()
		case outcomeExhausted:
			p.setState(StateSourceExhausted)
			if !p.opts.Loop {
				logger.Info("source exhausted; stopping")
				return p.stop(ctx, "source ended")
			}
			logger.Info("source exhausted; looping")
		case outcomeFailed:
			p.recordError(streamErr)
			p.setState(StateRecoverableFailure)
			logging.WarnWithContext(logger, "stream interrupted; reacquiring", "stream_interrupted",
				logging.Error(streamErr),
				logging.Duration("retry_in", p.opts.RetryInterval),
				logging.String(logging.FieldErrorHint, "inspect the source and encoder logs"),
				logging.String(logging.FieldImpact, "stream stalls until the source is reacquired; timestamps continue"),
			)
			if !p.sourceLost {
				p.sourceLost = true
				p.publish(ctx, notifications.EventSourceLost, notifications.Payload{
					"source": p.opts.Locator,
					"error":  streamErr,
				})
			}
			if err := p.wait(ctx, p.opts.RetryInterval); err != nil {
				return p.stop(ctx, "cancelled")
			}
			p.countReconnect()
		}
	}
}

// stream runs one attempt. The source and every egress connection started
// here are released before it returns.
func (p *Pipeline) stream(ctx context.Context, logger *slog.Logger, src source.Source) (outcome, error) {
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			logger.Debug("source close failed", logging.Error(closeErr))
		}
	}()

	info := src.Info()
	if err := p.ensureEncoder(ctx, info.Width, info.Height, info.FPS); err != nil {
		return p.encoderOutcome(ctx, err)
	}

	conns := p.startEgress(ctx, logger)
	defer p.stopEgress(conns)

	p.setState(StateStreaming)
	p.announce(ctx, info, conns)

	for {
		if ctx.Err() != nil {
			return outcomeCancelled, nil
		}
		select {
		case <-p.restart:
			logger.Info("restart requested")
			return outcomeRestart, nil
		default:
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return outcomeCancelled, nil
			}
			if errors.Is(err, io.EOF) {
				return outcomeExhausted, nil
			}
			if services.Classify(err) == services.DispositionFatal {
				return outcomeFatal, err
			}
			return outcomeFailed, err
		}

		if !p.encoder.Matches(frame.Width, frame.Height) {
			logger.Info("frame geometry changed",
				logging.String("resolution", fmt.Sprintf("%dx%d", frame.Width, frame.Height)),
			)
			if err := p.ensureEncoder(ctx, frame.Width, frame.Height, info.FPS); err != nil {
				return p.encoderOutcome(ctx, err)
			}
		}

		out := compositor.Render(frame, p.overlay.Snapshot())
		p.timeline.Assign(out)

		dropped := p.encoder.Dropped()
		units, err := p.encoder.Encode(ctx, out)
		if err == nil && p.encoder.Dropped() != dropped {
			p.syncDropped()
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return outcomeCancelled, nil
			}
			switch services.Classify(err) {
			case services.DispositionDrop:
				p.syncDropped()
				continue
			case services.DispositionFatal:
				return outcomeFatal, err
			default:
				p.closeEncoder()
				return outcomeFailed, err
			}
		}
		p.recordFrame()
		p.writeUnits(ctx, logger, conns, units)
	}
}

func (p *Pipeline) encoderOutcome(ctx context.Context, err error) (outcome, error) {
	if ctx.Err() != nil {
		return outcomeCancelled, nil
	}
	if services.Classify(err) == services.DispositionFatal {
		return outcomeFatal, err
	}
	return outcomeFailed, err
}

// ensureEncoder keeps the current encoder when it matches the geometry and
// otherwise replaces it.
func (p *Pipeline) ensureEncoder(ctx context.Context, width, height int, sourceFPS float64) error {
	if p.encoder.Matches(width, height) {
		return nil
	}
	p.closeEncoder()
	fps := p.opts.FPS
	if fps <= 0 {
		fps = int(math.Round(sourceFPS))
	}
	handle, err := p.encoders.Create(ctx, width, height, fps)
	if err != nil {
		return err
	}
	p.encoder = handle
	p.mu.Lock()
	p.stats.Width, p.stats.Height = width, height
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) closeEncoder() {
	if p.encoder == nil {
		return
	}
	p.droppedBase += p.encoder.Dropped()
	if err := p.encoder.Close(); err != nil {
		p.logger.Debug("encoder close failed", logging.Error(err))
	}
	p.encoder = nil
	p.mu.Lock()
	p.stats.FramesDropped = p.droppedBase
	p.mu.Unlock()
}

func (p *Pipeline) syncDropped() {
	total := p.droppedBase
	if p.encoder != nil {
		total += p.encoder.Dropped()
	}
	p.mu.Lock()
	p.stats.FramesDropped = total
	p.mu.Unlock()
}

type liveConn struct {
	conn egress.Conn
	dead bool
}

func (p *Pipeline) startEgress(ctx context.Context, logger *slog.Logger) []*liveConn {
	if p.sink == nil {
		return nil
	}
	targets, err := p.dests.Destinations(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "destination lookup failed", "destinations_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check egress.destinations or the redis provider"),
			logging.String(logging.FieldImpact, "egress disabled for this attempt; encoding continues"),
		)
		targets = nil
	}
	if len(targets) == 0 {
		logging.WarnWithContext(logger, "no egress destinations; running encode only", "egress_disabled",
			logging.String(logging.FieldErrorHint, "set egress.destinations or OVERLAYCAST_DESTINATIONS"),
			logging.String(logging.FieldImpact, "nothing is delivered to an ingestion endpoint"),
		)
		p.setLive(0)
		return nil
	}

	conns := make([]*liveConn, 0, len(targets))
	for _, target := range targets {
		conn := p.sink.Start(ctx, target)
		if conn == nil {
			p.countEgressFailure()
			p.publish(ctx, notifications.EventEgressUnavailable, notifications.Payload{
				"destination": egress.Redact(target),
				"reason":      "transport could not be started",
			})
			continue
		}
		conns = append(conns, &liveConn{conn: conn})
	}
	p.setLive(len(conns))
	return conns
}

func (p *Pipeline) stopEgress(conns []*liveConn) {
	for _, c := range conns {
		c.conn.Stop()
	}
	p.setLive(0)
}

func (p *Pipeline) writeUnits(ctx context.Context, logger *slog.Logger, conns []*liveConn, units []encoder.Unit) {
	if len(units) == 0 || len(conns) == 0 {
		return
	}
	var written, bytes uint64
	for _, unit := range units {
		for _, c := range conns {
			if c.dead {
				continue
			}
			if c.conn.Write(unit) {
				written++
				bytes += uint64(len(unit))
				continue
			}
			c.dead = true
			p.onConnDead(ctx, logger, c.conn, conns)
		}
	}
	p.mu.Lock()
	p.stats.UnitsWritten += written
	p.stats.BytesWritten += bytes
	p.mu.Unlock()
}

func (p *Pipeline) onConnDead(ctx context.Context, logger *slog.Logger, conn egress.Conn, conns []*liveConn) {
	live := 0
	for _, c := range conns {
		if !c.dead {
			live++
		}
	}
	p.countEgressFailure()
	p.setLive(live)
	destination := egress.Redact(conn.Destination())
	logging.WarnWithContext(logger, "egress connection lost", "egress_unavailable",
		logging.String("destination", destination),
		logging.Int("live_destinations", live),
		logging.String(logging.FieldErrorHint, "check the ingestion endpoint and stream key"),
		logging.String(logging.FieldImpact, "output to this destination is disabled until the next attempt"),
	)
	p.publish(ctx, notifications.EventEgressUnavailable, notifications.Payload{
		"destination": destination,
		"reason":      "write failed",
	})
}

func (p *Pipeline) announce(ctx context.Context, info source.Info, conns []*liveConn) {
	if p.sourceLost {
		p.sourceLost = false
		p.publish(ctx, notifications.EventSourceRecovered, notifications.Payload{"source": p.opts.Locator})
		return
	}
	if p.announced {
		return
	}
	p.announced = true
	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, egress.Redact(c.conn.Destination()))
	}
	p.publish(ctx, notifications.EventStreamStarted, notifications.Payload{
		"source":       p.opts.Locator,
		"resolution":   fmt.Sprintf("%dx%d", info.Width, info.Height),
		"destinations": strings.Join(names, ", "),
	})
}

// publish sends a notification without blocking the frame path. Run waits
// for outstanding sends before returning.
func (p *Pipeline) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	p.notify.Add(1)
	go func() {
		defer p.notify.Done()
		if err := p.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
			p.logger.Debug("notification failed",
				logging.String("event", string(event)),
				logging.Error(err),
			)
		}
	}()
}

func (p *Pipeline) stop(ctx context.Context, reason string) error {
	p.setState(StateStopped)
	stats := p.Stats()
	p.logger.Info("relay stopped",
		logging.String("reason", reason),
		logging.Uint64("frames_processed", stats.FramesProcessed),
		logging.Uint64("frames_dropped", stats.FramesDropped),
		logging.Uint64("units_written", stats.UnitsWritten),
	)
	if p.announced {
		p.publish(ctx, notifications.EventStreamStopped, notifications.Payload{
			"reason":   reason,
			"duration": time.Since(stats.StartedAt).Round(time.Second).String(),
		})
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, err error) error {
	p.recordError(err)
	p.setState(StateFatalFailure)
	logging.ErrorWithContext(logger, "relay stopped on configuration error", "relay_fatal",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "fix the configuration and restart overlaycast"),
		logging.String(logging.FieldImpact, "stream is offline"),
	)
	p.publish(ctx, notifications.EventError, notifications.Payload{
		"context": "relay",
		"error":   err,
	})
	return err
}

func (p *Pipeline) resetTimeline(logger *slog.Logger) {
	p.timeline.Reset()
	logger.Info("timestamps reset")
}

func (p *Pipeline) setState(next State) {
	p.mu.Lock()
	prev := p.stats.State
	p.stats.State = next
	hook := p.onTransition
	p.mu.Unlock()
	if prev != next && hook != nil {
		hook(prev, next)
	}
}

func (p *Pipeline) nextAttempt() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Attempt++
	return p.stats.Attempt
}

func (p *Pipeline) recordError(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.stats.LastError = err.Error()
	p.mu.Unlock()
}

func (p *Pipeline) recordFrame() {
	p.mu.Lock()
	p.stats.FramesProcessed++
	p.mu.Unlock()
}

func (p *Pipeline) countReconnect() {
	p.mu.Lock()
	p.stats.Reconnects++
	p.mu.Unlock()
}

func (p *Pipeline) countRestart() {
	p.mu.Lock()
	p.stats.Restarts++
	p.mu.Unlock()
}

func (p *Pipeline) countEgressFailure() {
	p.mu.Lock()
	p.stats.EgressFailures++
	p.mu.Unlock()
}

func (p *Pipeline) setLive(n int) {
	p.mu.Lock()
	p.stats.LiveDestinations = n
	p.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
