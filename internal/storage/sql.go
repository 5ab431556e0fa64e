package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store, TargetStore and ScoreStore over database/sql.
// Queries are written with ? placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) ready() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return nil
}

func (s *sqlStore) GetCursor(ctx context.Context, key watch.Key) (watch.Cursor, bool, error) {
	if err := s.ready(); err != nil {
		return watch.Cursor{}, false, err
	}
	var (
		fact    sql.NullString
		checked sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT last_fact_id, last_checked_at FROM watch_cursors
		 WHERE tenant_id = ? AND feature_kind = ? AND entity_key = ?`),
		key.TenantID, string(key.Kind), key.EntityKey,
	).Scan(&fact, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return watch.Cursor{}, false, nil
	}
	if err != nil {
		return watch.Cursor{}, false, fmt.Errorf("get cursor %s: %w", key, err)
	}
	c := watch.Cursor{Key: key, LastFactID: fact.String}
	if checked.Valid {
		c.LastCheckedAt = time.UnixMilli(checked.Int64)
	}
	return c, true, nil
}

func (s *sqlStore) AdvanceCursor(ctx context.Context, key watch.Key, factID string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if factID == "" {
		return fmt.Errorf("advance cursor %s: empty fact id", key)
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO watch_cursors(tenant_id, feature_kind, entity_key, last_fact_id, last_checked_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(tenant_id, feature_kind, entity_key)
		 DO UPDATE SET last_fact_id = excluded.last_fact_id, last_checked_at = excluded.last_checked_at`),
		key.TenantID, string(key.Kind), key.EntityKey, factID, msOrNil(at),
	)
	if err != nil {
		return fmt.Errorf("advance cursor %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) TouchCursor(ctx context.Context, key watch.Key, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO watch_cursors(tenant_id, feature_kind, entity_key, last_fact_id, last_checked_at)
		 VALUES(?,?,?,NULL,?)
		 ON CONFLICT(tenant_id, feature_kind, entity_key)
		 DO UPDATE SET last_checked_at = excluded.last_checked_at`),
		key.TenantID, string(key.Kind), key.EntityKey, msOrNil(at),
	)
	if err != nil {
		return fmt.Errorf("touch cursor %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) ListCursors(ctx context.Context, tenantID string) ([]watch.Cursor, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT feature_kind, entity_key, last_fact_id, last_checked_at FROM watch_cursors
		 WHERE tenant_id = ? ORDER BY feature_kind, entity_key`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []watch.Cursor
	for rows.Next() {
		var (
			kind, entity string
			fact         sql.NullString
			checked      sql.NullInt64
		)
		if err := rows.Scan(&kind, &entity, &fact, &checked); err != nil {
			return nil, fmt.Errorf("list cursors: %w", err)
		}
		c := watch.Cursor{
			Key:        watch.Key{TenantID: tenantID, Kind: watch.Kind(kind), EntityKey: entity},
			LastFactID: fact.String,
		}
		if checked.Valid {
			c.LastCheckedAt = time.UnixMilli(checked.Int64)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteCursor(ctx context.Context, key watch.Key) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM watch_cursors WHERE tenant_id = ? AND feature_kind = ? AND entity_key = ?`),
		key.TenantID, string(key.Kind), key.EntityKey)
	if err != nil {
		return fmt.Errorf("delete cursor %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) PutTarget(ctx context.Context, r TargetRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	settings := "{}"
	if len(r.Settings) > 0 {
		b, err := json.Marshal(r.Settings)
		if err != nil {
			return fmt.Errorf("put target %s: %w", r.Key, err)
		}
		settings = string(b)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO watch_targets(tenant_id, feature_kind, entity_key, enabled, interval_seconds,
		                           channel_id, thread_id, user_id, settings, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(tenant_id, feature_kind, entity_key) DO UPDATE SET
		   enabled = excluded.enabled,
		   interval_seconds = excluded.interval_seconds,
		   channel_id = excluded.channel_id,
		   thread_id = excluded.thread_id,
		   user_id = excluded.user_id,
		   settings = excluded.settings,
		   updated_at = excluded.updated_at`),
		r.Key.TenantID, string(r.Key.Kind), r.Key.EntityKey, r.Enabled, int64(r.Interval/time.Second),
		r.Destination.ChannelID, r.Destination.ThreadID, r.Destination.UserID, settings, r.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put target %s: %w", r.Key, err)
	}
	return nil
}

func (s *sqlStore) DeleteTarget(ctx context.Context, key watch.Key) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM watch_targets WHERE tenant_id = ? AND feature_kind = ? AND entity_key = ?`),
		key.TenantID, string(key.Kind), key.EntityKey)
	if err != nil {
		return fmt.Errorf("delete target %s: %w", key, err)
	}
	return nil
}

// ListTargets returns every row of kind, enabled or not. Rows whose settings
// column cannot be decoded come back with nil Settings and a warning.
func (s *sqlStore) ListTargets(ctx context.Context, kind watch.Kind) ([]TargetRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT tenant_id, entity_key, enabled, interval_seconds, channel_id, thread_id, user_id, settings, updated_at
		 FROM watch_targets WHERE feature_kind = ? ORDER BY tenant_id, entity_key`), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []TargetRecord
	for rows.Next() {
		var (
			r        TargetRecord
			secs     int64
			settings string
			updated  int64
		)
		r.Key.Kind = kind
		if err := rows.Scan(&r.Key.TenantID, &r.Key.EntityKey, &r.Enabled, &secs,
			&r.Destination.ChannelID, &r.Destination.ThreadID, &r.Destination.UserID, &settings, &updated); err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		r.Interval = time.Duration(secs) * time.Second
		r.UpdatedAt = time.UnixMilli(updated)
		if settings != "" && settings != "{}" {
			if err := json.Unmarshal([]byte(settings), &r.Settings); err != nil {
				s.log.Warn("target settings unreadable", logx.String("key", r.Key.String()), logx.Err(err))
				r.Settings = nil
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddScore(ctx context.Context, tenantID, board string, e ScoreEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO scoreboard_entries(tenant_id, board, user_id, display_name, score, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(tenant_id, board, user_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   score = scoreboard_entries.score + excluded.score,
		   updated_at = excluded.updated_at`),
		tenantID, board, e.UserID, e.DisplayName, e.Score, e.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("add score: %w", err)
	}
	return nil
}

func (s *sqlStore) TopScores(ctx context.Context, tenantID, board string, limit int) ([]ScoreEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT user_id, display_name, score, updated_at FROM scoreboard_entries
		 WHERE tenant_id = ? AND board = ?
		 ORDER BY score DESC, user_id ASC LIMIT ?`), tenantID, board, limit)
	if err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreEntry
	for rows.Next() {
		var (
			e  ScoreEntry
			ms int64
		)
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Score, &ms); err != nil {
			return nil, fmt.Errorf("top scores: %w", err)
		}
		e.UpdatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}
