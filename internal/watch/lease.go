package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"guildwatch/internal/eventbus"
	logx "guildwatch/pkg/logx"
)

var errRevoked = errors.New("lease revoked")

// lease is the live polling handle for one key. The interval is fixed for the
// lifetime of a lease; an interval change replaces the lease.
type lease struct {
	id       string
	key      Key
	interval time.Duration
	created  time.Time
	target   atomic.Pointer[Target]

	ctx    context.Context
	cancel context.CancelFunc

	// mu is held shared by cursor writes and exclusively by revoke.
	mu sync.RWMutex

	inflight atomic.Bool
	fires    atomic.Uint64
	skipped  atomic.Uint64
	lastFire atomic.Int64
	last     atomic.Pointer[CycleReport]
}

func newLease(parent context.Context, t Target, now time.Time) *lease {
	ctx, cancel := context.WithCancel(parent)
	l := &lease{
		id:       uuid.NewString(),
		key:      t.Key,
		interval: t.Interval,
		created:  now,
		ctx:      ctx,
		cancel:   cancel,
	}
	tt := t
	l.target.Store(&tt)
	return l
}

// revoke cancels the lease and waits for any cursor write in progress.
// After it returns no cycle of this lease can mutate the store.
func (l *lease) revoke() {
	l.cancel()
	l.mu.Lock()
	//nolint:staticcheck // empty critical section is the barrier
	l.mu.Unlock()
}

// commit runs a cursor write unless the lease has been revoked.
func (l *lease) commit(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ctx.Err() != nil {
		return errRevoked
	}
	return fn()
}

func (l *lease) info() LeaseInfo {
	li := LeaseInfo{
		Key:       l.key,
		LeaseID:   l.id,
		Interval:  l.interval,
		CreatedAt: l.created,
		Fires:     l.fires.Load(),
		Skipped:   l.skipped.Load(),
		InFlight:  l.inflight.Load(),
	}
	if ns := l.lastFire.Load(); ns != 0 {
		li.LastFireAt = time.Unix(0, ns)
	}
	if r := l.last.Load(); r != nil {
		li.LastResult = r.Result
		li.LastError = r.Err
	}
	return li
}

// startLease registers l and launches its timer goroutine. Caller holds e.mu.
func (e *Engine) startLease(l *lease) {
	e.leases[l.key] = l
	e.sup.Go0("watch.lease", func(context.Context) { e.runLease(l) })
	e.publish(eventbus.TopicLeaseAdded, l.info())
	e.log.Debug("lease started",
		logx.String("key", l.key.String()),
		logx.String("lease", l.id),
		logx.Duration("interval", l.interval))
}

// dropLease revokes and unregisters l. Caller holds e.mu.
func (e *Engine) dropLease(l *lease, reason string) {
	l.revoke()
	if cur := e.leases[l.key]; cur == l {
		delete(e.leases, l.key)
	}
	e.publish(eventbus.TopicLeaseRemoved, l.info())
	e.log.Debug("lease dropped",
		logx.String("key", l.key.String()),
		logx.String("lease", l.id),
		logx.String("reason", reason))
}

// runLease fires once immediately to catch up, then on every tick.
func (e *Engine) runLease(l *lease) {
	t := e.clock.NewTicker(l.interval)
	defer t.Stop()

	e.fire(l)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-t.C():
			e.fire(l)
		}
	}
}

// fire dispatches a cycle unless one is already running, in which case the
// fire is dropped.
func (e *Engine) fire(l *lease) {
	if l.ctx.Err() != nil {
		return
	}
	l.fires.Add(1)
	l.lastFire.Store(e.clock.Now().UnixNano())
	if !l.inflight.CompareAndSwap(false, true) {
		n := l.skipped.Add(1)
		e.publish(eventbus.TopicFireSkipped, l.key)
		e.log.Debug("fire skipped; cycle in flight", logx.String("key", l.key.String()), logx.Uint64("skipped", n))
		return
	}
	e.sup.Go0("watch.cycle", func(ctx context.Context) { e.runCycle(ctx, l, "timer") })
}
