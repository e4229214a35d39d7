package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/farstore/registry-sync/internal/app/storage"
	"github.com/farstore/registry-sync/internal/app/storage/memory"
	"github.com/farstore/registry-sync/internal/app/storage/sqlstore"
	"github.com/farstore/registry-sync/internal/config"
	"github.com/farstore/registry-sync/internal/platform/migrations"
)

// OpenDatabase opens and pings the configured SQL database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpen > 0 {
		db.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.Driver == config.DriverSQLite {
		// A single connection keeps in-memory databases shared.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// buildStore returns the store for cfg and the database handle backing it, if
// any. Schema migration runs first when AutoMigrate is set.
func buildStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, *sql.DB, error) {
	if cfg.Driver == config.DriverMemory {
		return memory.New(), nil, nil
	}

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := migrations.Apply(db, cfg.Driver); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	store, err := sqlstore.New(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
