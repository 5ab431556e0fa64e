package watchtest

import (
	"context"
	"sync"
	"time"

	"guildwatch/internal/watch"
)

// CursorWrite records one Advance or Touch call.
type CursorWrite struct {
	Key     watch.Key
	Advance bool
	FactID  string
	At      time.Time
}

// Store is an in-memory watch.CursorStore that records every write.
type Store struct {
	mu      sync.Mutex
	cursors map[watch.Key]watch.Cursor
	writes  []CursorWrite

	// FailAdvance, when set, is returned by AdvanceCursor.
	FailAdvance error
}

func NewStore() *Store { return &Store{cursors: map[watch.Key]watch.Cursor{}} }

func (s *Store) GetCursor(_ context.Context, key watch.Key) (watch.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[key]
	return c, ok, nil
}

func (s *Store) AdvanceCursor(_ context.Context, key watch.Key, factID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAdvance != nil {
		return s.FailAdvance
	}
	s.cursors[key] = watch.Cursor{Key: key, LastFactID: factID, LastCheckedAt: at}
	s.writes = append(s.writes, CursorWrite{Key: key, Advance: true, FactID: factID, At: at})
	return nil
}

func (s *Store) TouchCursor(_ context.Context, key watch.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cursors[key]
	c.Key = key
	c.LastCheckedAt = at
	s.cursors[key] = c
	s.writes = append(s.writes, CursorWrite{Key: key, At: at})
	return nil
}

// Set seeds a cursor without recording a write.
func (s *Store) Set(c watch.Cursor) {
	s.mu.Lock()
	s.cursors[c.Key] = c
	s.mu.Unlock()
}

func (s *Store) Cursor(key watch.Key) (watch.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[key]
	return c, ok
}

// Writes returns the recorded writes for key (all keys when key is zero).
func (s *Store) Writes(key watch.Key) []CursorWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CursorWrite
	for _, w := range s.writes {
		if key == (watch.Key{}) || w.Key == key {
			out = append(out, w)
		}
	}
	return out
}
