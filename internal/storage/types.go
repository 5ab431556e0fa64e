package storage

import (
	"context"
	"errors"
	"time"

	"guildwatch/internal/watch"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values: "sqlite" (default), "postgres", "file", "memory", "none".
// Path is used by sqlite and file; DSN by postgres.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// Store is the cursor persistence API used by the engine and the admin API.
type Store interface {
	watch.CursorStore
	ListCursors(ctx context.Context, tenantID string) ([]watch.Cursor, error)
	DeleteCursor(ctx context.Context, key watch.Key) error
	Close() error
}

// TargetRecord is one row of the watch_targets table, written by the admin
// API (or any other CRUD layer) and read by the tenant provider.
type TargetRecord struct {
	Key         watch.Key         `json:"key"`
	Enabled     bool              `json:"enabled"`
	Interval    time.Duration     `json:"interval"`
	Destination watch.Destination `json:"destination"`
	Settings    map[string]string `json:"settings,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Target converts the record into an engine target.
func (r TargetRecord) Target() watch.Target {
	return watch.Target{Key: r.Key, Interval: r.Interval, Destination: r.Destination, Settings: r.Settings}
}

// TargetStore is implemented by drivers that can hold watch targets.
type TargetStore interface {
	PutTarget(ctx context.Context, r TargetRecord) error
	DeleteTarget(ctx context.Context, key watch.Key) error
	ListTargets(ctx context.Context, kind watch.Kind) ([]TargetRecord, error)
}

// ScoreEntry is one participant on a tenant scoreboard.
type ScoreEntry struct {
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Score       int64     `json:"score"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScoreStore is implemented by drivers that keep scoreboards.
type ScoreStore interface {
	AddScore(ctx context.Context, tenantID, board string, e ScoreEntry) error
	TopScores(ctx context.Context, tenantID, board string, limit int) ([]ScoreEntry, error)
}

func msOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
