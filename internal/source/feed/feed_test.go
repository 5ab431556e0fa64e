package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildwatch/internal/watch"
)

const rss = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Chan</title>
<item><title>older</title><link>https://v.test/1</link><guid>vid-1</guid><pubDate>Mon, 03 Mar 2025 08:00:00 GMT</pubDate></item>
<item><title>newest</title><link>https://v.test/3</link><guid>vid-3</guid><pubDate>Mon, 03 Mar 2025 10:00:00 GMT</pubDate></item>
<item><title>middle</title><link>https://v.test/2</link><guid>vid-2</guid><pubDate>Mon, 03 Mar 2025 09:00:00 GMT</pubDate></item>
</channel></rss>`

const atomNoID = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Posts</title>
<entry><title>hello</title><link href="https://s.test/p/9"/><updated>2025-03-03T10:00:00Z</updated></entry>
</feed>`

func target(entity string) watch.Target {
	return watch.Target{
		Key:         watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: entity},
		Interval:    time.Minute,
		Destination: watch.Destination{ChannelID: 1},
	}
}

func server(t *testing.T, hits *atomic.Int32, gate chan struct{}) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if gate != nil {
			<-gate
		}
		switch r.URL.Query().Get("c") {
		case "rss":
			fmt.Fprint(w, rss)
		case "atom":
			fmt.Fprint(w, atomNoID)
		case "empty":
			fmt.Fprint(w, `<rss version="2.0"><channel><title>x</title></channel></rss>`)
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLatestItemIsTheFact(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := server(t, &hits, nil)
	src := NewSource(NewFetcher(Options{PerHostRPS: 100}), srv.URL+"/feed?c={id}")

	f, ok, err := src.FetchLatest(context.Background(), target("rss"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "vid-3", f.ID)
	item := f.Payload.(Item)
	require.Equal(t, "Chan: newest\nhttps://v.test/3", item.Render())

	f, ok, err = src.FetchLatest(context.Background(), target("atom"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://s.test/p/9", f.ID, "falls back to the link when there is no guid")

	_, ok, err = src.FetchLatest(context.Background(), target("empty"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpstreamFailureIsFetchError(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := server(t, &hits, nil)
	src := NewSource(NewFetcher(Options{PerHostRPS: 100}), srv.URL+"/feed?c={id}")

	_, _, err := src.FetchLatest(context.Background(), target("broken"))
	var fe *watch.FetchError
	require.True(t, errors.As(err, &fe))
	require.ErrorContains(t, err, "502")
}

func TestURLResolution(t *testing.T) {
	t.Parallel()
	src := NewSource(NewFetcher(Options{}), DefaultVideoTemplate)
	u, err := src.URL(target("UC a&b"))
	require.NoError(t, err)
	require.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id=UC+a%26b", u)

	tg := target("x")
	tg.Settings = map[string]string{"url": "https://blog.test/rss"}
	u, err = src.URL(tg)
	require.NoError(t, err)
	require.Equal(t, "https://blog.test/rss", u)

	_, err = NewSource(NewFetcher(Options{}), "").URL(target("x"))
	var ce *watch.ConfigError
	require.True(t, errors.As(err, &ce))

	require.True(t, errors.As(NewSource(NewFetcher(Options{}), "").ValidateTarget(target("x")), &ce))
	require.Equal(t, "url", ce.Field)
	require.NoError(t, NewSource(NewFetcher(Options{}), "").ValidateTarget(tg))
}

func TestConcurrentFetchesShareOneRequest(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	gate := make(chan struct{})
	srv := server(t, &hits, gate)
	src := NewSource(NewFetcher(Options{PerHostRPS: 100}), srv.URL+"/feed?c={id}")

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tg := target("rss")
			tg.TenantID = fmt.Sprintf("g%d", i)
			f, _, err := src.FetchLatest(context.Background(), tg)
			if err == nil {
				ids[i] = f.ID
			}
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 3*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), hits.Load())
	for _, id := range ids {
		require.Equal(t, "vid-3", id)
	}
}

func TestCallerCancellationDoesNotBlock(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	gate := make(chan struct{})
	srv := server(t, &hits, gate)
	defer close(gate)
	src := NewSource(NewFetcher(Options{PerHostRPS: 100}), srv.URL+"/feed?c={id}")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := src.FetchLatest(ctx, target("rss"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
