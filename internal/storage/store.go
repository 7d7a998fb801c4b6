// Package storage implements the Persistence Gateway (C9): a pooled
// relational store with idempotent schema bootstrap, parameterized
// queries, and retrying writes. Pool setup is grounded on the teacher's
// pkg/database.database.go (sql.Open + pool tuning); query composition on
// internal/transaction.repository.go; schema bootstrap generalizes the
// teacher's db/migrate.go CLI into an automatic startup step using
// golang-migrate's iofs driver over an embedded migration set.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/blackms/arbitragemonitor/internal/obsmetrics"
	"github.com/blackms/arbitragemonitor/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrPersistence is surfaced once a write exhausts its retry budget,
// per spec §4.9.
var ErrPersistence = errors.New("storage: persistence operation failed")

var retryBackoff = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

const dbOperationTimeout = 5 * time.Second

// Store is the pooled connection to the relational store.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// Config tunes the connection pool, per spec §4.9's defaults.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open establishes the connection pool and pings it.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return &Store{db: sqlx.NewDb(sqlDB, "postgres"), logger: log.Named("storage")}, nil
}

// Migrate idempotently applies the embedded schema. Safe to call on
// every startup.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: load migration source: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("storage: postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs op up to len(retryBackoff)+1 times, retrying transient
// failures with the 0.5s/1s/2s schedule before surfacing ErrPersistence.
func (s *Store) withRetry(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	var lastErr error
	attempts := len(retryBackoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < len(retryBackoff) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff[attempt]):
			}
		}
	}
	s.logger.Error("persistence operation exhausted retries", "operation", operation, "err", lastErr.Error())
	obsmetrics.PersistenceFailures.WithLabelValues(operation).Inc()
	return fmt.Errorf("%w: %s: %v", ErrPersistence, operation, lastErr)
}
