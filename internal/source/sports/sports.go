// Package sports is the fact source for live sports polling. It reads a
// normalized JSON snapshot of a team's or league's latest event:
//
//	GET {base}/events/{entity}/latest
//	{"event_id":"401","league":"nba","status":"in_progress","detail":"Q3 4:12",
//	 "home":{"name":"Lakers","score":71},"away":{"name":"Celtics","score":68}}
//
// 204 No Content (or an empty event_id) means there is nothing to report.
package sports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"guildwatch/internal/watch"
)

type Options struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Timeout time.Duration
	// RatePerSec limits requests to the provider. Default 2.
	RatePerSec float64
}

type Source struct {
	base    string
	apiKey  string
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

func New(opt Options) *Source {
	if opt.Client == nil {
		opt.Client = &http.Client{}
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	if opt.RatePerSec <= 0 {
		opt.RatePerSec = 2
	}
	return &Source{
		base:    strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/"),
		apiKey:  opt.APIKey,
		client:  opt.Client,
		timeout: opt.Timeout,
		limiter: rate.NewLimiter(rate.Limit(opt.RatePerSec), 4),
	}
}

type Side struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Event is the fact payload.
type Event struct {
	EventID string `json:"event_id"`
	League  string `json:"league"`
	Status  string `json:"status"`
	Detail  string `json:"detail"`
	Home    Side   `json:"home"`
	Away    Side   `json:"away"`
}

func (e Event) Render() string {
	s := fmt.Sprintf("%s %d - %d %s", e.Home.Name, e.Home.Score, e.Away.Score, e.Away.Name)
	status := strings.ReplaceAll(e.Status, "_", " ")
	if e.Detail != "" {
		status += " (" + e.Detail + ")"
	}
	if e.League != "" {
		s = "[" + strings.ToUpper(e.League) + "] " + s
	}
	return s + "\n" + status
}

// FactID changes whenever the event, its status or the score changes.
func (e Event) FactID() string {
	return fmt.Sprintf("%s:%s:%d-%d", e.EventID, e.Status, e.Home.Score, e.Away.Score)
}

func (s *Source) ValidateTarget(t watch.Target) error {
	if s.base == "" {
		return &watch.ConfigError{Key: t.Key, Field: "base_url", Msg: "sports provider not configured"}
	}
	return nil
}

func (s *Source) FetchLatest(ctx context.Context, t watch.Target) (watch.Fact, bool, error) {
	if err := s.ValidateTarget(t); err != nil {
		return watch.Fact{}, false, err
	}
	ev, ok, err := s.fetch(ctx, t.EntityKey)
	if err != nil {
		return watch.Fact{}, false, &watch.FetchError{Key: t.Key, Err: err}
	}
	if !ok {
		return watch.Fact{}, false, nil
	}
	return watch.Fact{ID: ev.FactID(), Payload: ev, ObservedAt: time.Now()}, true, nil
}

func (s *Source) fetch(ctx context.Context, entity string) (Event, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Event{}, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u := s.base + "/events/" + url.PathEscape(entity) + "/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Event{}, false, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Event{}, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return Event{}, false, nil
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return Event{}, false, fmt.Errorf("sports provider: http %d", resp.StatusCode)
	}

	var ev Event
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ev); err != nil {
		return Event{}, false, fmt.Errorf("sports provider: decode: %w", err)
	}
	if strings.TrimSpace(ev.EventID) == "" {
		return Event{}, false, nil
	}
	return ev, true, nil
}
