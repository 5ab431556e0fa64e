// Package feed is the fact source for social and video watchers. Both are
// RSS/Atom feeds addressed by a URL template; the newest item is the fact.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

// DefaultVideoTemplate is the channel feed of the video platform.
const DefaultVideoTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id={id}"

type Options struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
	// PerHostRPS limits requests per host across all targets. Default 1.
	PerHostRPS   float64
	PerHostBurst int
	Log          logx.Logger
}

// Fetcher downloads and parses feeds. One Fetcher is shared by every feed
// source so host limits and in-flight de-duplication span all tenants.
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	rps       rate.Limit
	burst     int
	log       logx.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	group singleflight.Group
}

func NewFetcher(opt Options) *Fetcher {
	if opt.Client == nil {
		opt.Client = &http.Client{}
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 20 * time.Second
	}
	if opt.PerHostRPS <= 0 {
		opt.PerHostRPS = 1
	}
	if opt.PerHostBurst <= 0 {
		opt.PerHostBurst = 3
	}
	if strings.TrimSpace(opt.UserAgent) == "" {
		opt.UserAgent = "guildwatch/1.0"
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Fetcher{
		client:    opt.Client,
		userAgent: opt.UserAgent,
		timeout:   opt.Timeout,
		rps:       rate.Limit(opt.PerHostRPS),
		burst:     opt.PerHostBurst,
		log:       opt.Log.With(logx.String("comp", "feed")),
		limiters:  map[string]*rate.Limiter{},
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.limiters[host]
	if l == nil {
		l = rate.NewLimiter(f.rps, f.burst)
		f.limiters[host] = l
	}
	return l
}

// Fetch returns the parsed feed at u. Concurrent calls for the same URL share
// one request.
func (f *Fetcher) Fetch(ctx context.Context, u string) (*gofeed.Feed, error) {
	ch := f.group.DoChan(u, func() (any, error) {
		// The shared request outlives the cancellation of any one caller.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(fctx, u)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*gofeed.Feed), nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, u string) (*gofeed.Feed, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if err := f.limiter(pu.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", pu.Host, err)
	}
	start := time.Now()
	p := gofeed.NewParser()
	p.Client = f.client
	p.UserAgent = f.userAgent
	feed, err := p.ParseURLWithContext(u, ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			return nil, fmt.Errorf("fetch %s: http %d", pu.Host, he.StatusCode)
		}
		return nil, fmt.Errorf("fetch %s: %w", pu.Host, err)
	}
	f.log.Debug("feed fetched", logx.String("host", pu.Host), logx.Int("items", len(feed.Items)), logx.Duration("took", time.Since(start)))
	return feed, nil
}

// Source is a watch.Source over one feed family.
type Source struct {
	fetcher  *Fetcher
	template string
}

// NewSource returns a source that resolves a target's entity key through
// template ({id} is replaced by the url-escaped key). A target's "url"
// setting overrides the template.
func NewSource(f *Fetcher, template string) *Source {
	return &Source{fetcher: f, template: template}
}

// Item is the fact payload.
type Item struct {
	FeedTitle string
	Title     string
	Link      string
	Author    string
	Published time.Time
}

func (it Item) Render() string {
	var b strings.Builder
	if it.FeedTitle != "" {
		b.WriteString(it.FeedTitle)
		b.WriteString(": ")
	}
	b.WriteString(it.Title)
	if it.Link != "" {
		b.WriteString("\n")
		b.WriteString(it.Link)
	}
	return b.String()
}

func (s *Source) URL(t watch.Target) (string, error) {
	if u := t.Setting("url"); u != "" {
		return u, nil
	}
	if s.template == "" {
		return "", &watch.ConfigError{Key: t.Key, Field: "url", Msg: "no url setting and no url template configured"}
	}
	return strings.ReplaceAll(s.template, "{id}", url.QueryEscape(t.EntityKey)), nil
}

func (s *Source) ValidateTarget(t watch.Target) error {
	_, err := s.URL(t)
	return err
}

func (s *Source) FetchLatest(ctx context.Context, t watch.Target) (watch.Fact, bool, error) {
	u, err := s.URL(t)
	if err != nil {
		return watch.Fact{}, false, err
	}
	feed, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		return watch.Fact{}, false, &watch.FetchError{Key: t.Key, Err: err}
	}
	it := Latest(feed)
	if it == nil {
		return watch.Fact{}, false, nil
	}
	id := strings.TrimSpace(it.GUID)
	if id == "" {
		id = strings.TrimSpace(it.Link)
	}
	if id == "" {
		return watch.Fact{}, false, nil
	}
	item := Item{FeedTitle: feed.Title, Title: it.Title, Link: it.Link}
	if it.Author != nil {
		item.Author = it.Author.Name
	}
	if ts := itemTime(it); ts != nil {
		item.Published = *ts
	}
	return watch.Fact{ID: id, Payload: item, ObservedAt: time.Now()}, true, nil
}

// Latest picks the newest item by published (or updated) time. Items without
// any time fall back to feed order, where the first item is the newest.
func Latest(feed *gofeed.Feed) *gofeed.Item {
	if feed == nil || len(feed.Items) == 0 {
		return nil
	}
	best := feed.Items[0]
	for _, it := range feed.Items[1:] {
		bt, it2 := itemTime(best), itemTime(it)
		if it2 != nil && (bt == nil || it2.After(*bt)) {
			best = it
		}
	}
	return best
}

func itemTime(it *gofeed.Item) *time.Time {
	if it.PublishedParsed != nil {
		return it.PublishedParsed
	}
	return it.UpdatedParsed
}
