package store

import (
	"context"
	"fmt"

	"github.com/aurlink/waitlist/internal/config"
)

// Open builds the subscriber store selected by cfg.StoreDriver. Schema
// migrations are applied before it is returned.
func Open(ctx context.Context, cfg *config.Config) (SubscriberStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return NewMemory(), nil
	case config.DriverPostgres:
		pg, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
