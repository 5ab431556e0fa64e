// Package tenant turns tenant feature configuration into watch targets.
//
// Targets come from two places: rows in the store (written through the admin
// API) and the config file's targets list. Merged serves both.
package tenant

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"guildwatch/internal/config"
	"guildwatch/internal/storage"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

// Store serves enabled rows of a storage.TargetStore.
type Store struct {
	ts  storage.TargetStore
	log logx.Logger
}

func NewStore(ts storage.TargetStore, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{ts: ts, log: log.With(logx.String("comp", "tenant"))}
}

func (s *Store) ListEnabled(ctx context.Context, kind watch.Kind) ([]watch.Target, error) {
	rows, err := s.ts.ListTargets(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s targets: %w", kind, err)
	}
	out := make([]watch.Target, 0, len(rows))
	for _, r := range rows {
		if !r.Enabled {
			continue
		}
		t := r.Target()
		if err := watch.ValidateTarget(t); err != nil {
			s.log.Warn("stored target excluded", logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Static serves targets declared in the config file. Replace swaps the whole
// set atomically on reload.
type Static struct {
	byKind atomic.Pointer[map[watch.Kind][]watch.Target]
}

func NewStatic() *Static {
	s := &Static{}
	empty := map[watch.Kind][]watch.Target{}
	s.byKind.Store(&empty)
	return s
}

func (s *Static) Replace(ts []watch.Target) {
	m := map[watch.Kind][]watch.Target{}
	for _, t := range ts {
		m[t.Kind] = append(m[t.Kind], t)
	}
	s.byKind.Store(&m)
}

func (s *Static) ListEnabled(_ context.Context, kind watch.Kind) ([]watch.Target, error) {
	m := *s.byKind.Load()
	return append([]watch.Target(nil), m[kind]...), nil
}

// FromConfig converts config-file targets. Disabled entries are skipped;
// malformed entries come back as *watch.ConfigError and are left out.
func FromConfig(list []config.TargetConfig) ([]watch.Target, []error) {
	var (
		out  []watch.Target
		errs []error
	)
	for i, tc := range list {
		key := watch.Key{
			TenantID:  strings.TrimSpace(tc.Tenant),
			Kind:      watch.Kind(strings.ToLower(strings.TrimSpace(tc.Kind))),
			EntityKey: strings.TrimSpace(tc.Entity),
		}
		if !tc.IsEnabled() {
			continue
		}
		every, err := config.ParseDurationField(fmt.Sprintf("targets[%d].interval", i), tc.Interval)
		if err != nil {
			errs = append(errs, &watch.ConfigError{Key: key, Field: "interval", Msg: err.Error()})
			continue
		}
		t := watch.Target{
			Key:         key,
			Interval:    every,
			Destination: watch.Destination{ChannelID: tc.ChannelID, ThreadID: tc.ThreadID, UserID: tc.UserID},
			Settings:    tc.Settings,
		}
		if err := watch.ValidateTarget(t); err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	return out, errs
}

// Merged consults providers in order. The first provider to list a key owns
// it. Any provider error fails the whole listing so the engine keeps the
// kind's leases rather than dropping targets it cannot see.
type Merged []watch.TargetProvider

func (m Merged) ListEnabled(ctx context.Context, kind watch.Kind) ([]watch.Target, error) {
	seen := map[watch.Key]bool{}
	var out []watch.Target
	for _, p := range m {
		if p == nil {
			continue
		}
		ts, err := p.ListEnabled(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, t := range ts {
			if seen[t.Key] {
				continue
			}
			seen[t.Key] = true
			out = append(out, t)
		}
	}
	return out, nil
}
