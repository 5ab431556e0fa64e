package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"guildwatch/internal/watch"
)

type boardKey struct{ tenant, board string }

// Memory keeps everything in process memory. It implements Store,
// TargetStore and ScoreStore.
type Memory struct {
	mu      sync.RWMutex
	closed  bool
	cursors map[watch.Key]watch.Cursor
	targets map[watch.Key]TargetRecord
	scores  map[boardKey]map[int64]ScoreEntry
}

func NewMemory() *Memory {
	return &Memory{
		cursors: map[watch.Key]watch.Cursor{},
		targets: map[watch.Key]TargetRecord{},
		scores:  map[boardKey]map[int64]ScoreEntry{},
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetCursor(_ context.Context, key watch.Key) (watch.Cursor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return watch.Cursor{}, false, ErrClosed
	}
	c, ok := m.cursors[key]
	return c, ok, nil
}

func (m *Memory) AdvanceCursor(_ context.Context, key watch.Key, factID string, at time.Time) error {
	if factID == "" {
		return errors.New("advance cursor: empty fact id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cursors[key] = watch.Cursor{Key: key, LastFactID: factID, LastCheckedAt: at}
	return nil
}

func (m *Memory) TouchCursor(_ context.Context, key watch.Key, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	c := m.cursors[key]
	c.Key = key
	c.LastCheckedAt = at
	m.cursors[key] = c
	return nil
}

func (m *Memory) ListCursors(_ context.Context, tenantID string) ([]watch.Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []watch.Cursor
	for k, c := range m.cursors {
		if k.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sortCursors(out)
	return out, nil
}

func (m *Memory) DeleteCursor(_ context.Context, key watch.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.cursors, key)
	return nil
}

func (m *Memory) PutTarget(_ context.Context, r TargetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	if r.Settings != nil {
		cp := make(map[string]string, len(r.Settings))
		for k, v := range r.Settings {
			cp[k] = v
		}
		r.Settings = cp
	}
	m.targets[r.Key] = r
	return nil
}

func (m *Memory) DeleteTarget(_ context.Context, key watch.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.targets, key)
	return nil
}

func (m *Memory) ListTargets(_ context.Context, kind watch.Kind) ([]TargetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []TargetRecord
	for k, r := range m.targets {
		if k.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (m *Memory) AddScore(_ context.Context, tenantID, board string, e ScoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bk := boardKey{tenantID, board}
	b := m.scores[bk]
	if b == nil {
		b = map[int64]ScoreEntry{}
		m.scores[bk] = b
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	cur := b[e.UserID]
	e.Score += cur.Score
	b[e.UserID] = e
	return nil
}

func (m *Memory) TopScores(_ context.Context, tenantID, board string, limit int) ([]ScoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}
	var out []ScoreEntry
	for _, e := range m.scores[boardKey{tenantID, board}] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
