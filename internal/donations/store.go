package donations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"overlaycast/internal/config"
	"overlaycast/internal/logging"
	"overlaycast/internal/services"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the donations database.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	logger *slog.Logger

	readyMu sync.Mutex
	ready   bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for alert windows and audit columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open returns a store for the configured database. SQLite is migrated up
// front; a Postgres server is only contacted on first use so the relay can
// start while it is down.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	driver := cfg.StoreDriver()
	switch driver {
	case config.DriverSQLite:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.Store.Path, logger, opts...)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.Store.DSN, logger, opts...)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", "unsupported driver "+driver, nil)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := newStore(db, config.DriverSQLite, logger, opts)
	if err := store.ensureReady(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres prepares a pgx database/sql handle. No connection is made
// here; migrations run on the first call that needs the schema.
func OpenPostgres(_ context.Context, dsn string, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open", "postgres dsn", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newStore(db, config.DriverPostgres, logger, opts), nil
}

func newStore(db *sql.DB, driver string, logger *slog.Logger, opts []Option) *Store {
	store := &Store{
		db:     db,
		driver: driver,
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "store"),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// ensureReady connects and migrates once. Failures are retried on the next
// call.
func (s *Store) ensureReady(ctx context.Context) error {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return services.Wrap(services.ErrOverlayStoreUnreachable, "store", "connect", s.driver, err)
	}
	if err := s.applyMigrations(ctx); err != nil {
		return services.Wrap(services.ErrOverlayStoreUnreachable, "store", "migrate", s.driver, err)
	}
	s.ready = true
	s.logger.Debug("store ready", logging.String("driver", s.driver))
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return services.Wrap(services.ErrOverlayStoreUnreachable, "store", "ping", "", err)
	}
	return nil
}

// Driver returns the active database driver name.
func (s *Store) Driver() string { return s.driver }

type migration struct {
	version    string
	statements []string
}

func (s *Store) loadMigrations() ([]migration, error) {
	dir := "migrations/" + s.driver
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{
			version:    strings.TrimSuffix(name, ".sql"),
			statements: splitStatements(string(data)),
		})
	}
	return migrations, nil
}

// splitStatements breaks a migration file on semicolons. The pgx extended
// protocol rejects multi-statement strings.
func splitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (s *Store) applyMigrations(ctx context.Context) error {
	migrations, err := s.loadMigrations()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		row := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(1) FROM schema_migrations WHERE version = ?"), m.version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		s.logger.Debug("applied store migration", logging.String("version", m.version), logging.String("driver", s.driver))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
