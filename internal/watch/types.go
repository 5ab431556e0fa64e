package watch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind names a feature that polls something on behalf of a tenant.
type Kind string

const (
	KindReminder   Kind = "reminder"
	KindSocial     Kind = "social-watch"
	KindVideo      Kind = "video-watch"
	KindSports     Kind = "sports-watch"
	KindScoreboard Kind = "scoreboard-refresh"
)

// Kinds lists every known feature kind in a stable order.
var Kinds = []Kind{KindReminder, KindSocial, KindVideo, KindSports, KindScoreboard}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown feature kind %q", s)
	}
	return k, nil
}

// Key identifies one watched thing: (tenant, feature, entity).
type Key struct {
	TenantID  string `json:"tenant_id"`
	Kind      Kind   `json:"kind"`
	EntityKey string `json:"entity_key"`
}

func (k Key) String() string {
	return k.TenantID + "/" + string(k.Kind) + "/" + k.EntityKey
}

// Destination is where a feature wants its notifications. The engine never
// interprets it; notifiers resolve it.
type Destination struct {
	ChannelID int64 `json:"channel_id,omitempty"`
	ThreadID  int   `json:"thread_id,omitempty"`
	UserID    int64 `json:"user_id,omitempty"`
}

func (d Destination) IsZero() bool { return d.ChannelID == 0 && d.UserID == 0 }

// Target is one enabled WatchTarget as reported by a TargetProvider.
type Target struct {
	Key
	Interval    time.Duration
	Destination Destination
	// Settings carries feature-specific options (feed url, reminder time, ...).
	Settings map[string]string
}

func (t Target) Setting(name string) string {
	if t.Settings == nil {
		return ""
	}
	return strings.TrimSpace(t.Settings[name])
}

func (t Target) sameConfig(o Target) bool {
	if t.Key != o.Key || t.Interval != o.Interval || t.Destination != o.Destination {
		return false
	}
	if len(t.Settings) != len(o.Settings) {
		return false
	}
	for k, v := range t.Settings {
		if ov, ok := o.Settings[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Cursor is the persisted "last seen" marker for a key.
// An empty LastFactID or zero LastCheckedAt means the column is NULL.
type Cursor struct {
	Key           Key       `json:"key"`
	LastFactID    string    `json:"last_fact_id,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Fact is one externally observed unit of novelty. ID must be non-empty.
type Fact struct {
	ID         string
	Payload    any
	ObservedAt time.Time
}

// Renderer is implemented by fact payloads that know their plain-text form.
type Renderer interface {
	Render() string
}

// MessageRef points at a delivered message.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	ThreadID  int   `json:"thread_id,omitempty"`
	MessageID int   `json:"message_id"`
}

// Source fetches the most recent fact for a target. ok=false means there is
// nothing to report right now. Implementations must not have side effects.
type Source interface {
	FetchLatest(ctx context.Context, t Target) (f Fact, ok bool, err error)
}

// Validator is implemented by sources that can reject a target's settings
// before a lease is started for it.
type Validator interface {
	ValidateTarget(t Target) error
}

// Notifier delivers a single fact. The engine calls it at most once per new
// fact per cycle and never retries within a cycle.
type Notifier interface {
	Deliver(ctx context.Context, t Target, f Fact) (MessageRef, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, t Target) (Fact, bool, error)

func (fn SourceFunc) FetchLatest(ctx context.Context, t Target) (Fact, bool, error) {
	return fn(ctx, t)
}

// Feature binds a kind to its adapter pair.
type Feature struct {
	Kind     Kind
	Source   Source
	Notifier Notifier
}

// CursorStore persists cursors. Advance and Touch have upsert semantics.
type CursorStore interface {
	GetCursor(ctx context.Context, key Key) (Cursor, bool, error)
	AdvanceCursor(ctx context.Context, key Key, factID string, checkedAt time.Time) error
	TouchCursor(ctx context.Context, key Key, checkedAt time.Time) error
}

// TargetProvider yields enabled targets per kind.
type TargetProvider interface {
	ListEnabled(ctx context.Context, kind Kind) ([]Target, error)
}
