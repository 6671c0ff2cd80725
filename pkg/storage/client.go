// Package storage is the persistence layer for incidents, resolution
// requests, memory/knowledge records, and run artifacts: pgx/v5 connection
// pooling plus golang-migrate-applied, embedded SQL migrations.
package storage

import (
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"context"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for golang-migrate
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pgx connection pool and exposes the repository
// constructors that operate over it.
type Client struct {
	Pool *pgxpool.Pool

	Incidents          *IncidentRepo
	Resolutions        *ResolutionRepo
	Memory             *MemoryRepo
	Knowledge          *KnowledgeRepo
	Integrations       *IntegrationRepo
	IntegrationConfigs *IntegrationConfigRepo
	Logs               *LogRepo
	Runs               *RunRepo
}

// NewClient opens a pgx pool, applies pending migrations, and wires the
// repository set.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(cfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{
		Pool:               pool,
		Incidents:          &IncidentRepo{pool: pool},
		Resolutions:        &ResolutionRepo{pool: pool},
		Memory:             &MemoryRepo{pool: pool},
		Knowledge:          &KnowledgeRepo{pool: pool},
		Integrations:       &IntegrationRepo{pool: pool},
		IntegrationConfigs: &IntegrationConfigRepo{pool: pool},
		Logs:               &LogRepo{pool: pool},
		Runs:               &RunRepo{pool: pool},
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.Pool.Close()
}

// runMigrations applies every pending embedded migration using a
// stdlib *sql.DB opened against the same DSN (golang-migrate drives
// database/sql, not pgxpool, directly).
func runMigrations(cfg Config) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary built incorrectly")
	}

	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
