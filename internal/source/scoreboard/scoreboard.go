// Package scoreboard republishes a tenant scoreboard whenever its standings
// change. The entity key names the board.
package scoreboard

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"guildwatch/internal/storage"
	"guildwatch/internal/watch"
)

type Source struct {
	scores storage.ScoreStore
	limit  int
}

// New returns a source over scores. limit is the default number of entries
// shown; a target's "limit" setting overrides it.
func New(scores storage.ScoreStore, limit int) *Source {
	if limit <= 0 {
		limit = 10
	}
	return &Source{scores: scores, limit: limit}
}

// Standings is the fact payload.
type Standings struct {
	Board   string
	Title   string
	Entries []storage.ScoreEntry
}

func (s Standings) Render() string {
	var b strings.Builder
	title := s.Title
	if title == "" {
		title = s.Board
	}
	b.WriteString("🏆 " + title)
	for i, e := range s.Entries {
		name := e.DisplayName
		if name == "" {
			name = strconv.FormatInt(e.UserID, 10)
		}
		fmt.Fprintf(&b, "\n%d. %s - %d", i+1, name, e.Score)
	}
	return b.String()
}

// Hash identifies the standings by rank, user and score.
func (s Standings) Hash() string {
	h := fnv.New64a()
	for _, e := range s.Entries {
		fmt.Fprintf(h, "%d:%d:%s;", e.UserID, e.Score, e.DisplayName)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Source) limitFor(t watch.Target) (int, error) {
	v := t.Setting("limit")
	if v == "" {
		return s.limit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &watch.ConfigError{Key: t.Key, Field: "limit", Msg: "must be a positive integer"}
	}
	return n, nil
}

func (s *Source) ValidateTarget(t watch.Target) error {
	_, err := s.limitFor(t)
	return err
}

func (s *Source) FetchLatest(ctx context.Context, t watch.Target) (watch.Fact, bool, error) {
	limit, err := s.limitFor(t)
	if err != nil {
		return watch.Fact{}, false, err
	}
	entries, err := s.scores.TopScores(ctx, t.TenantID, t.EntityKey, limit)
	if err != nil {
		return watch.Fact{}, false, &watch.FetchError{Key: t.Key, Err: err}
	}
	if len(entries) == 0 {
		return watch.Fact{}, false, nil
	}
	st := Standings{Board: t.EntityKey, Title: t.Setting("title"), Entries: entries}
	return watch.Fact{ID: st.Hash(), Payload: st, ObservedAt: time.Now()}, true, nil
}
