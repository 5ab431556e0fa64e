package sports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildwatch/internal/watch"
)

func target(entity string) watch.Target {
	return watch.Target{
		Key:         watch.Key{TenantID: "g1", Kind: watch.KindSports, EntityKey: entity},
		Interval:    time.Minute,
		Destination: watch.Destination{ChannelID: 1},
	}
}

func TestFetchLatest(t *testing.T) {
	t.Parallel()
	var score atomic.Int32
	score.Store(71)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k3y" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/events/lakers/latest":
			fmt.Fprintf(w, `{"event_id":"401","league":"nba","status":"in_progress","detail":"Q3",
				"home":{"name":"Lakers","score":%d},"away":{"name":"Celtics","score":68}}`, score.Load())
		case "/events/idle/latest":
			w.WriteHeader(http.StatusNoContent)
		case "/events/junk/latest":
			fmt.Fprint(w, `{"event_id":`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	src := New(Options{BaseURL: srv.URL + "/", APIKey: "k3y", RatePerSec: 100})
	ctx := context.Background()

	f, ok, err := src.FetchLatest(ctx, target("lakers"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "401:in_progress:71-68", f.ID)
	require.Equal(t, "[NBA] Lakers 71 - 68 Celtics\nin progress (Q3)", f.Payload.(Event).Render())

	score.Store(73)
	f2, _, err := src.FetchLatest(ctx, target("lakers"))
	require.NoError(t, err)
	require.NotEqual(t, f.ID, f2.ID, "a score change is a new fact")

	_, ok, err = src.FetchLatest(ctx, target("idle"))
	require.NoError(t, err)
	require.False(t, ok)

	for _, e := range []string{"junk", "missing"} {
		_, _, err = src.FetchLatest(ctx, target(e))
		var fe *watch.FetchError
		require.True(t, errors.As(err, &fe), e)
	}
}

func TestUnconfiguredProvider(t *testing.T) {
	t.Parallel()
	_, _, err := New(Options{}).FetchLatest(context.Background(), target("x"))
	var ce *watch.ConfigError
	require.True(t, errors.As(err, &ce))
	require.True(t, errors.As(New(Options{}).ValidateTarget(target("x")), &ce))
	require.Equal(t, "base_url", ce.Field)
}
