// Package sql implements the stats store on database/sql, for SQLite and Postgres.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mohitkumar/actionrouter/logger"
	"github.com/mohitkumar/actionrouter/model"
	"github.com/mohitkumar/actionrouter/persistence"
	"go.uber.org/zap"
)

type Dialect string

const DIALECT_SQLITE Dialect = "sqlite3"
const DIALECT_POSTGRES Dialect = "postgres"

const migrations = `
CREATE TABLE IF NOT EXISTS action_stats (
	user_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	last_used_at BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, action_id)
);
CREATE TABLE IF NOT EXISTS action_usage (
	user_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	day TEXT NOT NULL,
	suggested INTEGER NOT NULL DEFAULT 0,
	used INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, action_id, mode, day)
);
CREATE TABLE IF NOT EXISTS user_items (
	user_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	day TEXT NOT NULL,
	items INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, mode, day)
);
`

var _ persistence.StatsStore = new(SQLStatsStore)

type Opts struct {
	Dialect Dialect
	DSN     string
}

type Option func(*Opts)

func WithDialect(d Dialect) Option {
	return func(o *Opts) { o.Dialect = d }
}

func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

type SQLStatsStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStatsStore opens the database and applies migrations. For SQLite the DSN
// is a file path whose directory is created when missing.
func NewSQLStatsStore(opts ...Option) (*SQLStatsStore, error) {
	cfg := Opts{Dialect: DIALECT_SQLITE}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Dialect == DIALECT_SQLITE && !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Dialect == DIALECT_SQLITE {
		// a single writer avoids SQLITE_BUSY under concurrent lanes
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("sql stats store ready", zap.String("dialect", string(cfg.Dialect)))
	return &SQLStatsStore{db: db, dialect: cfg.Dialect}, nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStatsStore) rebind(query string) string {
	if s.dialect != DIALECT_POSTGRES {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// windowFilter narrows a query on table t to the day window and, unless mode is MODE_ANY, to one mode.
func windowFilter(t string, userId string, mode model.Mode, since time.Time) (string, []any) {
	clause := t + ".user_id = ? AND " + t + ".day >= ?"
	args := []any{userId, persistence.DayKey(since)}
	if mode != model.MODE_ANY && mode != "" {
		clause += " AND " + t + ".mode = ?"
		args = append(args, string(mode))
	}
	return clause, args
}

func (s *SQLStatsStore) GetUserStats(ctx context.Context, userId string, mode model.Mode, since time.Time) (map[string]model.UserActionStats, error) {
	items, err := s.CorpusSize(ctx, userId, mode, since)
	if err != nil {
		return nil, err
	}
	where, args := windowFilter("u", userId, mode, since)
	query := `SELECT u.action_id, SUM(u.suggested), SUM(u.used), COALESCE(MAX(a.last_used_at), 0)
		FROM action_usage u LEFT JOIN action_stats a ON a.user_id = u.user_id AND a.action_id = u.action_id
		WHERE ` + where + ` GROUP BY u.action_id`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		logger.Error("error in querying user stats", zap.String("user", userId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	out := make(map[string]model.UserActionStats)
	for rows.Next() {
		var st model.UserActionStats
		var lastMs int64
		if err := rows.Scan(&st.ActionId, &st.TimesSuggested, &st.TimesUsed, &lastMs); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		st.UserId = userId
		if lastMs > 0 {
			st.LastUsedAt = time.UnixMilli(lastMs).UTC()
		}
		st.Derive(items)
		out[st.ActionId] = st
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return out, nil
}

func (s *SQLStatsStore) CorpusSize(ctx context.Context, userId string, mode model.Mode, since time.Time) (int, error) {
	where, args := windowFilter("i", userId, mode, since)
	var total int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(SUM(i.items), 0) FROM user_items i WHERE `+where), args...).Scan(&total)
	if err != nil {
		logger.Error("error in querying corpus size", zap.String("user", userId), zap.Error(err))
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return total, nil
}

func (s *SQLStatsStore) ApplyEvent(ctx context.Context, ev model.ExecutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	defer tx.Rollback()

	day := persistence.DayKey(ev.At)
	suggest := s.rebind(`INSERT INTO action_usage (user_id, action_id, mode, day, suggested) VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (user_id, action_id, mode, day) DO UPDATE SET suggested = action_usage.suggested + 1`)
	for _, id := range ev.Suggested {
		if _, err := tx.ExecContext(ctx, suggest, ev.UserId, id, string(ev.Mode), day); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	}
	if ev.ActionId != "" {
		use := s.rebind(`INSERT INTO action_usage (user_id, action_id, mode, day, used) VALUES (?, ?, ?, ?, 1)
			ON CONFLICT (user_id, action_id, mode, day) DO UPDATE SET used = action_usage.used + 1`)
		if _, err := tx.ExecContext(ctx, use, ev.UserId, ev.ActionId, string(ev.Mode), day); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		at := ev.At.UnixMilli()
		last := s.rebind(`INSERT INTO action_stats (user_id, action_id, last_used_at) VALUES (?, ?, ?)
			ON CONFLICT (user_id, action_id) DO UPDATE SET
			last_used_at = CASE WHEN action_stats.last_used_at < ? THEN ? ELSE action_stats.last_used_at END`)
		if _, err := tx.ExecContext(ctx, last, ev.UserId, ev.ActionId, at, at, at); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	}
	item := s.rebind(`INSERT INTO user_items (user_id, mode, day, items) VALUES (?, ?, ?, 1)
		ON CONFLICT (user_id, mode, day) DO UPDATE SET items = user_items.items + 1`)
	if _, err := tx.ExecContext(ctx, item, ev.UserId, string(ev.Mode), day); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := tx.Commit(); err != nil {
		logger.Error("error in applying execution event", zap.String("user", ev.UserId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *SQLStatsStore) Close() error {
	return s.db.Close()
}
