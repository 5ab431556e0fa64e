package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

// fileStore is a cursor-only backend without a database.
//
// Files:
//   - <prefix>.cursors.snapshot.json (periodic snapshot)
//   - <prefix>.cursors.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on
// Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	cursors      map[watch.Key]cursorRecord

	writes       int
	compactEvery int
}

type cursorRecord struct {
	Tenant  string `json:"t"`
	Kind    string `json:"k"`
	Entity  string `json:"e"`
	FactID  string `json:"f,omitempty"`
	Checked int64  `json:"c,omitempty"` // unix milli; 0 = never
	Deleted bool   `json:"d,omitempty"`
}

func (r cursorRecord) key() watch.Key {
	return watch.Key{TenantID: r.Tenant, Kind: watch.Kind(r.Kind), EntityKey: r.Entity}
}

func (r cursorRecord) cursor() watch.Cursor {
	c := watch.Cursor{Key: r.key(), LastFactID: r.FactID}
	if r.Checked != 0 {
		c.LastCheckedAt = time.UnixMilli(r.Checked)
	}
	return c
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".cursors.snapshot.json"
	journalPath := prefix + ".cursors.journal.jsonl"

	cursors := map[watch.Key]cursorRecord{}
	if err := loadCursorSnapshot(snapPath, cursors); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("cursor snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayCursorJournal(journalPath, cursors); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("cursor journal replay incomplete", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", logx.String("path", prefix), logx.Int("cursors", len(cursors)))
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		cursors:      cursors,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) GetCursor(_ context.Context, key watch.Key) (watch.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return watch.Cursor{}, false, ErrClosed
	}
	r, ok := s.cursors[key]
	if !ok {
		return watch.Cursor{}, false, nil
	}
	return r.cursor(), true, nil
}

func (s *fileStore) AdvanceCursor(_ context.Context, key watch.Key, factID string, at time.Time) error {
	if factID == "" {
		return errors.New("advance cursor: empty fact id")
	}
	return s.write(key, func(r *cursorRecord) {
		r.FactID = factID
		r.Checked = at.UnixMilli()
	})
}

func (s *fileStore) TouchCursor(_ context.Context, key watch.Key, at time.Time) error {
	return s.write(key, func(r *cursorRecord) { r.Checked = at.UnixMilli() })
}

func (s *fileStore) DeleteCursor(_ context.Context, key watch.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.cursors[key]; !ok {
		return nil
	}
	delete(s.cursors, key)
	return s.appendLocked(cursorRecord{Tenant: key.TenantID, Kind: string(key.Kind), Entity: key.EntityKey, Deleted: true})
}

func (s *fileStore) ListCursors(_ context.Context, tenantID string) ([]watch.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	var out []watch.Cursor
	for k, r := range s.cursors {
		if k.TenantID == tenantID {
			out = append(out, r.cursor())
		}
	}
	sortCursors(out)
	return out, nil
}

func (s *fileStore) write(key watch.Key, mutate func(*cursorRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	r, ok := s.cursors[key]
	if !ok {
		r = cursorRecord{Tenant: key.TenantID, Kind: string(key.Kind), Entity: key.EntityKey}
	}
	mutate(&r)
	if err := s.appendLocked(r); err != nil {
		return err
	}
	s.cursors[key] = r
	return nil
}

func (s *fileStore) appendLocked(r cursorRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("cursor compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	recs := make([]cursorRecord, 0, len(s.cursors))
	for _, r := range s.cursors {
		recs = append(recs, r)
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadCursorSnapshot(path string, out map[watch.Key]cursorRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []cursorRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		out[r.key()] = r
	}
	return nil
}

func replayCursorJournal(path string, out map[watch.Key]cursorRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r cursorRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Tenant == "" {
			// torn tail write
			continue
		}
		if r.Deleted {
			delete(out, r.key())
			continue
		}
		out[r.key()] = r
	}
	return sc.Err()
}

func sortCursors(cs []watch.Cursor) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Key.Kind != cs[j].Key.Kind {
			return cs[i].Key.Kind < cs[j].Key.Kind
		}
		return cs[i].Key.EntityKey < cs[j].Key.EntityKey
	})
}
