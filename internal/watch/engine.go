package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"guildwatch/internal/eventbus"
	"guildwatch/internal/runtime/supervisor"
	logx "guildwatch/pkg/logx"
)

// Config controls the engine. Zero values get defaults.
type Config struct {
	// ReconcileEvery is the periodic reconciliation cadence. Trigger() forces an
	// earlier pass.
	ReconcileEvery time.Duration
	// CycleTimeout bounds one fetch->notify->advance cycle.
	CycleTimeout time.Duration
	// ProviderConcurrency limits parallel ListEnabled calls during reconcile.
	ProviderConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = 60 * time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 30 * time.Second
	}
	if c.ProviderConcurrency <= 0 {
		c.ProviderConcurrency = 4
	}
	return c
}

type Deps struct {
	Store    CursorStore
	Provider TargetProvider
	Clock    Clock
	Log      logx.Logger
	Bus      eventbus.Bus
}

// Engine owns the lease table. Only one Engine should run per deployment;
// two engines over the same store would both deliver.
type Engine struct {
	cfg      Config
	store    CursorStore
	provider TargetProvider
	clock    Clock
	log      logx.Logger
	bus      eventbus.Bus

	fmu      sync.RWMutex
	features map[Kind]Feature

	// mu guards the lease table and lifecycle state.
	mu      sync.Mutex
	leases  map[Key]*lease
	sup     *supervisor.Supervisor
	stopped bool

	// rmu serializes reconciliation passes.
	rmu     sync.Mutex
	lastRec atomic.Pointer[ReconcileReport]

	trigger chan struct{}
}

func New(cfg Config, deps Deps) *Engine {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    deps.Store,
		provider: deps.Provider,
		clock:    deps.Clock,
		log:      deps.Log.With(logx.String("comp", "watch")),
		bus:      deps.Bus,
		features: map[Kind]Feature{},
		leases:   map[Key]*lease{},
		trigger:  make(chan struct{}, 1),
	}
}

// Register binds a feature kind to its source and notifier. Registering the
// same kind twice replaces the previous pair for future cycles.
func (e *Engine) Register(f Feature) error {
	if !f.Kind.Valid() {
		return fmt.Errorf("register: unknown kind %q", f.Kind)
	}
	if f.Source == nil || f.Notifier == nil {
		return fmt.Errorf("register %s: source and notifier required", f.Kind)
	}
	e.fmu.Lock()
	e.features[f.Kind] = f
	e.fmu.Unlock()
	return nil
}

// Validate checks t the way Reconcile does: the common target rules first,
// then the settings check of the registered source, if it has one.
func (e *Engine) Validate(t Target) error {
	if err := ValidateTarget(t); err != nil {
		return err
	}
	f, ok := e.feature(t.Kind)
	if !ok {
		return nil
	}
	if v, ok := f.Source.(Validator); ok {
		return v.ValidateTarget(t)
	}
	return nil
}

func (e *Engine) feature(k Kind) (Feature, bool) {
	e.fmu.RLock()
	f, ok := e.features[k]
	e.fmu.RUnlock()
	return f, ok
}

func (e *Engine) kinds() []Kind {
	e.fmu.RLock()
	defer e.fmu.RUnlock()
	out := make([]Kind, 0, len(e.features))
	for _, k := range Kinds {
		if _, ok := e.features[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Start launches the reconciliation loop. The first pass runs on the first
// Trigger() or after ReconcileEvery, whichever comes first.
func (e *Engine) Start(ctx context.Context) error {
	if e.store == nil || e.provider == nil {
		return errors.New("watch: store and provider are required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if e.sup != nil {
		return nil
	}
	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))
	e.sup.GoRestart("watch.reconcile", e.loop)
	e.log.Info("engine started",
		logx.Duration("reconcile_every", e.cfg.ReconcileEvery),
		logx.Duration("cycle_timeout", e.cfg.CycleTimeout),
		logx.Int("features", len(e.kinds())))
	return nil
}

// Stop revokes every lease and waits for in-flight cycles until ctx expires.
// No cursor is written after Stop returns, even when ctx expired first.
func (e *Engine) Stop(ctx context.Context) error {
	start := time.Now()
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	sup := e.sup
	n := len(e.leases)
	for k, l := range e.leases {
		l.revoke()
		delete(e.leases, k)
	}
	e.mu.Unlock()

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}
	e.log.Info("engine stopped", logx.Int("leases", n), logx.Duration("took", time.Since(start)))
	return err
}

// Trigger requests a reconciliation pass. Calls coalesce and never block.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) error {
	t := e.clock.NewTicker(e.cfg.ReconcileEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
		case <-e.trigger:
		}
		if _, err := e.Reconcile(ctx); err != nil && !errors.Is(err, ErrStopped) && ctx.Err() == nil {
			e.log.Warn("reconcile failed", logx.Err(err))
		}
	}
}

// LeaseInfo is a point-in-time view of one live lease.
type LeaseInfo struct {
	Key        Key           `json:"key"`
	LeaseID    string        `json:"lease_id"`
	Interval   time.Duration `json:"interval"`
	CreatedAt  time.Time     `json:"created_at"`
	LastFireAt time.Time     `json:"last_fire_at,omitempty"`
	Fires      uint64        `json:"fires"`
	Skipped    uint64        `json:"skipped"`
	InFlight   bool          `json:"in_flight"`
	LastResult CycleResult   `json:"last_result,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// Leases returns the lease table sorted by key.
func (e *Engine) Leases() []LeaseInfo {
	e.mu.Lock()
	out := make([]LeaseInfo, 0, len(e.leases))
	for _, l := range e.leases {
		out = append(out, l.info())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// LastReconcile returns the most recent reconciliation report, if any.
func (e *Engine) LastReconcile() (ReconcileReport, bool) {
	r := e.lastRec.Load()
	if r == nil {
		return ReconcileReport{}, false
	}
	return *r, true
}

// RunOnce runs one cycle for a live lease in the caller's goroutine.
// It returns ErrBusy when a cycle for the key is already running.
func (e *Engine) RunOnce(ctx context.Context, key Key) (CycleReport, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return CycleReport{}, ErrStopped
	}
	l := e.leases[key]
	e.mu.Unlock()
	if l == nil {
		return CycleReport{}, ErrUnknownTarget
	}
	if !l.inflight.CompareAndSwap(false, true) {
		return CycleReport{}, ErrBusy
	}
	return e.runCycle(ctx, l, "manual"), nil
}

func (e *Engine) publish(topic string, data any) {
	e.bus.Publish(eventbus.Event{Type: topic, Time: e.clock.Now(), Data: data})
}
