package watch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"guildwatch/internal/eventbus"
	logx "guildwatch/pkg/logx"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	At       time.Time     `json:"at"`
	Took     time.Duration `json:"took"`
	Added    []Key         `json:"added,omitempty"`
	Removed  []Key         `json:"removed,omitempty"`
	Replaced []Key         `json:"replaced,omitempty"`
	Updated  []Key         `json:"updated,omitempty"`
	Live     int           `json:"live"`
	// Invalid holds the targets excluded because their configuration is malformed.
	Invalid []string `json:"invalid,omitempty"`
	// ProviderErrors maps kinds whose listing failed; their leases were kept.
	ProviderErrors map[Kind]string `json:"provider_errors,omitempty"`
}

func (r ReconcileReport) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Replaced)+len(r.Updated) > 0
}

type kindListing struct {
	targets []Target
	err     error
}

// Reconcile brings the lease table in line with the provider:
// new targets get a lease (and an immediate catch-up cycle), removed targets
// lose theirs, interval changes replace the lease, and other changes are
// picked up by the live lease in place. Cursors are never touched here.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	e.rmu.Lock()
	defer e.rmu.Unlock()

	e.mu.Lock()
	running := e.sup != nil && !e.stopped
	e.mu.Unlock()
	if !running {
		return ReconcileReport{}, ErrStopped
	}

	start := time.Now()
	rep := ReconcileReport{At: e.clock.Now()}
	kinds := e.kinds()

	listings := make([]kindListing, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ProviderConcurrency)
	for i, k := range kinds {
		g.Go(func() error {
			ts, err := e.provider.ListEnabled(gctx, k)
			listings[i] = kindListing{targets: ts, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	desired := map[Key]Target{}
	failed := map[Kind]bool{}
	for i, k := range kinds {
		ls := listings[i]
		if ls.err != nil {
			failed[k] = true
			if rep.ProviderErrors == nil {
				rep.ProviderErrors = map[Kind]string{}
			}
			rep.ProviderErrors[k] = ls.err.Error()
			e.log.Warn("target listing failed; keeping live leases",
				logx.String("kind", string(k)), logx.Err(ls.err))
			continue
		}
		for _, t := range ls.targets {
			var err error
			if t.Kind != k {
				err = &ConfigError{Key: t.Key, Field: "kind", Msg: "listed under " + string(k)}
			} else {
				err = e.Validate(t)
			}
			if err != nil {
				rep.Invalid = append(rep.Invalid, err.Error())
				e.log.Warn("target excluded", logx.Err(err))
				continue
			}
			if _, dup := desired[t.Key]; dup {
				err := &ConfigError{Key: t.Key, Msg: "duplicate target"}
				rep.Invalid = append(rep.Invalid, err.Error())
				e.log.Warn("target excluded", logx.Err(err))
				continue
			}
			desired[t.Key] = t
		}
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return rep, ErrStopped
	}
	for key, l := range e.leases {
		if failed[key.Kind] {
			continue
		}
		if _, ok := desired[key]; !ok {
			e.dropLease(l, "disabled")
			rep.Removed = append(rep.Removed, key)
		}
	}
	now := e.clock.Now()
	parent := e.sup.Context()
	for key, t := range desired {
		l, ok := e.leases[key]
		switch {
		case !ok:
			e.startLease(newLease(parent, t, now))
			rep.Added = append(rep.Added, key)
		case l.interval != t.Interval:
			e.dropLease(l, "interval changed")
			e.startLease(newLease(parent, t, now))
			rep.Replaced = append(rep.Replaced, key)
		case !l.target.Load().sameConfig(t):
			tt := t
			l.target.Store(&tt)
			rep.Updated = append(rep.Updated, key)
		}
	}
	rep.Live = len(e.leases)
	e.mu.Unlock()

	rep.Took = time.Since(start)
	e.lastRec.Store(&rep)
	e.publish(eventbus.TopicReconciled, rep)
	if rep.Changed() {
		e.log.Info("reconciled",
			logx.Int("added", len(rep.Added)),
			logx.Int("removed", len(rep.Removed)),
			logx.Int("replaced", len(rep.Replaced)),
			logx.Int("updated", len(rep.Updated)),
			logx.Int("live", rep.Live))
	} else {
		e.log.Debug("reconciled; no changes", logx.Int("live", rep.Live))
	}
	if len(failed) > 0 {
		return rep, fmt.Errorf("reconcile: %w (%d kinds)", ErrProviderFailed, len(failed))
	}
	return rep, nil
}
