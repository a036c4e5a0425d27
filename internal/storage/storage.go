// Package storage persists subscriptions and subscriber directory data so
// the registry survives restarts. It is optional: with the driver unset the
// registry runs memory-only.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"chesster/internal/subscription"
	"chesster/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API consumed by the subscription registry plus
// the startup load path.
type Store interface {
	subscription.Store

	LoadSubscriptions(ctx context.Context) ([]subscription.Subscription, error)
	LoadSubscribers(ctx context.Context) ([]subscription.Subscriber, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
