package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chesster/internal/subscription"
	"chesster/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutSubscription(ctx context.Context, sub subscription.Subscription) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(subscriber, topic, league, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(subscriber, topic, league) DO NOTHING`,
		sub.Subscriber, sub.Topic, sub.League, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, sub subscription.Subscription) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber = ? AND topic = ? AND league = ?`,
		sub.Subscriber, sub.Topic, sub.League,
	)
	return err
}

func (s *sqliteStore) DeleteSubscriber(ctx context.Context, subscriber string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscriber = ?`, subscriber)
	return err
}

func (s *sqliteStore) PutSubscriber(ctx context.Context, sub subscription.Subscriber) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, chat_id, offset_minutes, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   chat_id = excluded.chat_id,
		   offset_minutes = excluded.offset_minutes,
		   updated_at = excluded.updated_at`,
		sub.ID, sub.ChatID, sub.OffsetMinutes, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadSubscriptions returns all persisted subscriptions in creation order,
// so the registry's registration order survives restarts.
func (s *sqliteStore) LoadSubscriptions(ctx context.Context) ([]subscription.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber, topic, league FROM subscriptions ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		var sub subscription.Subscription
		if err := rows.Scan(&sub.Subscriber, &sub.Topic, &sub.League); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LoadSubscribers(ctx context.Context) ([]subscription.Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, offset_minutes FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []subscription.Subscriber
	for rows.Next() {
		var sub subscription.Subscriber
		if err := rows.Scan(&sub.ID, &sub.ChatID, &sub.OffsetMinutes); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
