package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgx5migrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigratorConfig configures a Migrator.
type MigratorConfig struct {
	// TableName is the schema migrations table name.
	TableName string
	// MigrationsPath is the path within the source fs.FS holding
	// migration files.
	MigrationsPath string
	// Logger receives migration lifecycle events.
	Logger *Logger
}

// DefaultMigratorConfig returns sane defaults.
func DefaultMigratorConfig() MigratorConfig {
	return MigratorConfig{
		TableName:      "schema_migrations",
		MigrationsPath: ".",
	}
}

// MigratorOption configures a MigratorConfig.
type MigratorOption func(*MigratorConfig)

// WithMigrationsTable sets the migrations table name.
func WithMigrationsTable(name string) MigratorOption {
	return func(c *MigratorConfig) { c.TableName = name }
}

// WithMigrationsPath sets the path within the source filesystem.
func WithMigrationsPath(path string) MigratorOption {
	return func(c *MigratorConfig) { c.MigrationsPath = path }
}

// WithMigratorLogger sets the migrator's logger.
func WithMigratorLogger(logger *Logger) MigratorOption {
	return func(c *MigratorConfig) { c.Logger = logger }
}

// Migrator applies schema migrations against the same database a Client
// talks to. It is deliberately independent of Pool/Client: migrations run
// through database/sql (golang-migrate's only supported entry point), via a
// short-lived pgxpool.Pool opened just for this purpose.
type Migrator struct {
	config  MigratorConfig
	migrate *migrate.Migrate
}

// NewMigrator builds a Migrator from a pgxpool.Pool and a migration source
// filesystem (typically an embed.FS). Migration files must follow
// golang-migrate's NNNN_description.up.sql / .down.sql convention.
func NewMigrator(pool *pgxpool.Pool, migrations fs.FS, opts ...MigratorOption) (*Migrator, error) {
	if pool == nil {
		return nil, New(CodeConfigurationError, "migrator pool cannot be nil")
	}
	if migrations == nil {
		return nil, New(CodeConfigurationError, "migrations filesystem cannot be nil")
	}

	config := DefaultMigratorConfig()
	for _, opt := range opts {
		opt(&config)
	}

	sourceDriver, err := iofs.New(migrations, config.MigrationsPath)
	if err != nil {
		return nil, Wrap(CodeConfigurationError, "creating migration source", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	dbDriver, err := pgx5migrate.WithInstance(db, &pgx5migrate.Config{
		MigrationsTable: config.TableName,
	})
	if err != nil {
		return nil, Wrap(CodeConfigurationError, "creating migration database driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", dbDriver)
	if err != nil {
		return nil, Wrap(CodeConfigurationError, "creating migrate instance", err)
	}

	return &Migrator{config: config, migrate: m}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	start := time.Now()
	m.log("starting up migrations")

	err := m.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		m.logError("up migration failed", err)
		return Wrap(CodeConfigurationError, "running up migrations", err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		m.log("no pending migrations")
		return nil
	}

	m.log("up migrations completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Down rolls back all migrations.
func (m *Migrator) Down(ctx context.Context) error {
	start := time.Now()
	m.log("starting down migrations")

	err := m.migrate.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		m.logError("down migration failed", err)
		return Wrap(CodeConfigurationError, "running down migrations", err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		m.log("no migrations to roll back")
		return nil
	}

	m.log("down migrations completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Steps applies n migrations (n < 0 rolls back).
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	start := time.Now()
	m.log("applying migration steps", "n", n)

	err := m.migrate.Steps(n)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		m.logError("migration steps failed", err)
		return Wrap(CodeConfigurationError, fmt.Sprintf("applying %d migration steps", n), err)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		m.log("no migrations to apply")
		return nil
	}

	m.log("migration steps completed", "n", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Version returns the current migration version and dirty flag.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, Wrap(CodeConfigurationError, "getting migration version", err)
	}
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, nil
}

// Force sets the migration version without running any migration files.
// Used to recover from a dirty migration state.
func (m *Migrator) Force(version int) error {
	m.log("forcing migration version", "version", version)
	if err := m.migrate.Force(version); err != nil {
		m.logError("force version failed", err)
		return Wrap(CodeConfigurationError, fmt.Sprintf("forcing migration version %d", version), err)
	}
	return nil
}

// Close releases the migrator's source and database driver resources.
func (m *Migrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database driver: %w", dbErr)
	}
	return nil
}

func (m *Migrator) log(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Info(msg, args...)
	}
}

func (m *Migrator) logError(msg string, err error) {
	if m.config.Logger != nil {
		m.config.Logger.Error(msg, "error", err.Error())
	}
}
