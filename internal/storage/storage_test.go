package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

func openers(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file": func() Store {
			s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
			require.NoError(t, err)
			return s
		},
	}
}

func TestCursorSemantics(t *testing.T) {
	t.Parallel()
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			k := watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: "UC1"}
			_, ok, err := s.GetCursor(ctx, k)
			require.NoError(t, err)
			require.False(t, ok)

			t0 := time.UnixMilli(1_700_000_000_000)
			require.NoError(t, s.TouchCursor(ctx, k, t0))
			c, ok, err := s.GetCursor(ctx, k)
			require.NoError(t, err)
			require.True(t, ok)
			require.Empty(t, c.LastFactID, "touch must not invent a fact")
			require.True(t, c.LastCheckedAt.Equal(t0))

			t1 := t0.Add(time.Minute)
			require.NoError(t, s.AdvanceCursor(ctx, k, "f1", t1))
			t2 := t1.Add(time.Minute)
			require.NoError(t, s.TouchCursor(ctx, k, t2))
			c, _, err = s.GetCursor(ctx, k)
			require.NoError(t, err)
			require.Equal(t, "f1", c.LastFactID, "touch keeps the last fact")
			require.True(t, c.LastCheckedAt.Equal(t2))

			other := watch.Key{TenantID: "g2", Kind: watch.KindVideo, EntityKey: "UC1"}
			require.NoError(t, s.AdvanceCursor(ctx, other, "x", t2))
			list, err := s.ListCursors(ctx, "g1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, k, list[0].Key)

			require.NoError(t, s.DeleteCursor(ctx, k))
			_, ok, err = s.GetCursor(ctx, k)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cursors")
	k := watch.Key{TenantID: "g1", Kind: watch.KindSocial, EntityKey: "alice"}
	gone := watch.Key{TenantID: "g1", Kind: watch.KindSocial, EntityKey: "bob"}

	s, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	s.compactEvery = 3
	at := time.UnixMilli(1_700_000_000_000)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AdvanceCursor(ctx, k, id, at))
	}
	require.NoError(t, s.AdvanceCursor(ctx, gone, "z", at))
	require.NoError(t, s.DeleteCursor(ctx, gone))
	// no Close: the journal tail must be replayed on reopen
	s.journal.Close()
	s.journal = nil

	s2, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer s2.Close()
	c, ok, err := s2.GetCursor(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d", c.LastFactID)
	_, ok, _ = s2.GetCursor(ctx, gone)
	require.False(t, ok)
}

func TestClosedStoreErrors(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	require.NoError(t, m.Close())
	_, _, err := m.GetCursor(context.Background(), watch.Key{})
	require.True(t, errors.Is(err, ErrClosed))
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
	_, err = Open(Config{Driver: "bogus"}, logx.Nop())
	require.Error(t, err)
	s, err := Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err, "sqlite needs a path")
	require.Nil(t, s)
	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err, "postgres needs a dsn")
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()
	pg := &sqlStore{dialect: dialectPostgres}
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3", pg.q("SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?"))
	lite := &sqlStore{dialect: dialectSQLite}
	require.Equal(t, "x = ?", lite.q("x = ?"))
}

func targetStores(t *testing.T) map[string]interface {
	TargetStore
	ScoreStore
} {
	lite, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "t.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	return map[string]interface {
		TargetStore
		ScoreStore
	}{"memory": NewMemory(), "sqlite": lite}
}

func TestTargetRecords(t *testing.T) {
	t.Parallel()
	for name, s := range targetStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := TargetRecord{
				Key:         watch.Key{TenantID: "g1", Kind: watch.KindReminder, EntityKey: "standup"},
				Enabled:     true,
				Interval:    time.Minute,
				Destination: watch.Destination{ChannelID: -100123, ThreadID: 4},
				Settings:    map[string]string{"time": "09:30", "days": "mon-fri"},
			}
			require.NoError(t, s.PutTarget(ctx, r))
			r.Enabled = false
			r.Interval = 2 * time.Minute
			require.NoError(t, s.PutTarget(ctx, r))

			got, err := s.ListTargets(ctx, watch.KindReminder)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.False(t, got[0].Enabled)
			require.Equal(t, 2*time.Minute, got[0].Interval)
			require.Equal(t, r.Destination, got[0].Destination)
			require.Equal(t, "09:30", got[0].Settings["time"])

			none, err := s.ListTargets(ctx, watch.KindVideo)
			require.NoError(t, err)
			require.Empty(t, none)

			require.NoError(t, s.DeleteTarget(ctx, r.Key))
			got, err = s.ListTargets(ctx, watch.KindReminder)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestScoreboard(t *testing.T) {
	t.Parallel()
	for name, s := range targetStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddScore(ctx, "g1", "trivia", ScoreEntry{UserID: 1, DisplayName: "ann", Score: 5}))
			require.NoError(t, s.AddScore(ctx, "g1", "trivia", ScoreEntry{UserID: 2, DisplayName: "bo", Score: 7}))
			require.NoError(t, s.AddScore(ctx, "g1", "trivia", ScoreEntry{UserID: 1, DisplayName: "ann", Score: 3}))
			require.NoError(t, s.AddScore(ctx, "g2", "trivia", ScoreEntry{UserID: 9, Score: 100}))

			top, err := s.TopScores(ctx, "g1", "trivia", 5)
			require.NoError(t, err)
			require.Len(t, top, 2)
			require.Equal(t, int64(1), top[0].UserID)
			require.Equal(t, int64(8), top[0].Score)
			require.Equal(t, int64(2), top[1].UserID)

			top, err = s.TopScores(ctx, "g1", "trivia", 1)
			require.NoError(t, err)
			require.Len(t, top, 1)
		})
	}
}
