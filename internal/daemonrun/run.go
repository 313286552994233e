package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"overlaycast/internal/api"
	"overlaycast/internal/config"
	"overlaycast/internal/destinations"
	"overlaycast/internal/donations"
	"overlaycast/internal/egress"
	"overlaycast/internal/encoder"
	"overlaycast/internal/logging"
	"overlaycast/internal/notifications"
	"overlaycast/internal/overlay"
	"overlaycast/internal/preflight"
	"overlaycast/internal/relay"
	"overlaycast/internal/services"
	"overlaycast/internal/source"
	"overlaycast/internal/timeline"
)

const (
	lockFileName    = "overlaycast.lock"
	pidFileName     = "overlaycast.pid"
	logPointerName  = "overlaycast.log"
	runLogPattern   = "overlaycast-*.log"
	runStampLayout  = "20060102T150405.000Z"
	runIDShortChars = 8
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// LockPath returns the single-instance lock location for cfg.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, lockFileName)
}

// PIDPath returns the PID file location for cfg.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, pidFileName)
}

// LogPointerPath returns the link that always names the current run's log.
func LogPointerPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, logPointerName)
}

// Run starts the relay, overlay refresher and control-plane API, and blocks
// until the pipeline stops or a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := newRunID(time.Now())
	ctx := services.WithRunID(signalCtx, runID)
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("overlaycast-%s.log", runID))

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		JSONPath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runLogger := logging.WithContext(ctx, logger)

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logPointerName, err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, runLogPattern,
		time.Duration(cfg.Logging.RetentionDays)*24*time.Hour, logPath)

	lock := flock.New(LockPath(cfg))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another overlaycast instance is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release instance lock", logging.Error(err))
		}
	}()

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := donations.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open donations store", logging.Error(err))
		return err
	}
	defer store.Close()

	provider, closeProvider, err := destinations.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeProvider() }()

	targets := preflight.Targets{Store: store}
	if pinger, ok := provider.(preflight.Pinger); ok {
		targets.Redis = pinger
	}
	checks := preflight.RunAll(ctx, cfg, targets)
	logDependencySnapshot(runLogger, cfg, checks)

	overlayStore := overlay.NewStore(nil)
	if err := bootstrapOverlay(ctx, cfg, store, overlayStore, logger); err != nil {
		return err
	}

	refresher := overlay.NewRefresher(overlayStore, store, cfg.OverlayRefreshInterval(), logger)
	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("start overlay refresher: %w", err)
	}
	defer refresher.Stop()

	pipeline, err := relay.New(relay.OptionsFromConfig(cfg), relay.Deps{
		Opener:       source.NewFFmpegOpener(cfg, logger),
		Encoders:     encoder.NewFactory(encoder.SettingsFromConfig(cfg), nil, logger),
		Sink:         egress.NewFFmpegSink(cfg.FFmpegBinary(), cfg.EgressStopTimeout(), logger),
		Destinations: provider,
		Overlay:      overlayStore,
		Timeline:     timeline.New(),
		Notifier:     notifications.NewService(cfg),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	pipeline.OnTransition(func(from, to relay.State) {
		logger.Debug("relay state changed",
			logging.String("from", string(from)),
			logging.String("to", string(to)),
		)
	})

	server := api.NewServer(cfg, api.Deps{
		Store:        store,
		Relay:        pipeline,
		Overlay:      overlayStore,
		Refresher:    refresher,
		Preflight:    checks,
		Destinations: destinations.Describe(provider),
		RunID:        runID,
		Logger:       logger,
	})
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()

	runLogger.Info("overlaycast started",
		logging.String("source", cfg.Source.Input),
		logging.Bool("loop", cfg.Source.Loop),
		logging.String("destinations", destinations.Describe(provider)),
		logging.String("api", server.Addr()),
		logging.String("log_path", logPath),
	)

	if err := pipeline.Run(ctx); err != nil {
		return err
	}
	runLogger.Info("overlaycast shutting down")
	return nil
}

// bootstrapOverlay applies the optional YAML seed to the in-memory overlay and
// seeds the payment link row from config when none exists yet.
func bootstrapOverlay(ctx context.Context, cfg *config.Config, store *donations.Store, overlayStore *overlay.Store, logger *slog.Logger) error {
	if path := strings.TrimSpace(cfg.Overlay.SeedFile); path != "" {
		seed, err := overlay.LoadSeed(path)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "overlay", "load seed", path, err)
		}
		overlayStore.Apply(seed.Update())
		logger.Info("overlay seeded", logging.String("seed_file", path))
	}
	created, err := store.EnsurePaymentLink(ctx, cfg.Overlay.PaymentURL, cfg.Overlay.PaymentLabel)
	if errors.Is(err, services.ErrOverlayStoreUnreachable) {
		logging.WarnWithContext(logger, "overlay store unreachable at startup", "store_unreachable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store.dsn and that the database is running"),
			logging.String(logging.FieldImpact, "overlay shows seed and config state until the store recovers"),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if created {
		logger.Info("payment link seeded from config", logging.String("label", cfg.Overlay.PaymentLabel))
	}
	return nil
}

func newRunID(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return now.UTC().Format(runStampLayout) + "-" + id[:runIDShortChars]
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logPointerName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config, checks []preflight.Result) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := cfg.FFmpegBinary()
	ffprobe := cfg.FFprobeBinary()
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", binaryAvailable(ffmpeg)),
		logging.String("ffmpeg_binary", ffmpeg),
		logging.Bool("ffprobe_available", binaryAvailable(ffprobe)),
		logging.String("ffprobe_binary", ffprobe),
		logging.String("encoder", cfg.Encoding.Encoder),
		logging.String("store_driver", cfg.StoreDriver()),
		logging.Bool("redis_configured", strings.TrimSpace(cfg.Egress.RedisURL) != ""),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
	for _, failed := range preflight.Failed(checks) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run `overlaycast deps` for details"),
			logging.String(logging.FieldImpact, "the relay keeps retrying but may not stream"),
		)
	}
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
