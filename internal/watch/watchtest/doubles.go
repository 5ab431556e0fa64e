package watchtest

import (
	"context"
	"sync"

	"guildwatch/internal/watch"
)

// Provider is a mutable watch.TargetProvider.
type Provider struct {
	mu      sync.Mutex
	targets map[watch.Key]watch.Target
	fail    map[watch.Kind]error
}

func NewProvider(ts ...watch.Target) *Provider {
	p := &Provider{targets: map[watch.Key]watch.Target{}, fail: map[watch.Kind]error{}}
	for _, t := range ts {
		p.targets[t.Key] = t
	}
	return p
}

func (p *Provider) Put(t watch.Target) {
	p.mu.Lock()
	p.targets[t.Key] = t
	p.mu.Unlock()
}

func (p *Provider) Delete(k watch.Key) {
	p.mu.Lock()
	delete(p.targets, k)
	p.mu.Unlock()
}

// Fail makes ListEnabled return err for kind; nil clears it.
func (p *Provider) Fail(kind watch.Kind, err error) {
	p.mu.Lock()
	if err == nil {
		delete(p.fail, kind)
	} else {
		p.fail[kind] = err
	}
	p.mu.Unlock()
}

func (p *Provider) ListEnabled(_ context.Context, kind watch.Kind) ([]watch.Target, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[kind]; err != nil {
		return nil, err
	}
	var out []watch.Target
	for _, t := range p.targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

// Source returns whatever fact was last set per key. A Gate, when set, blocks
// FetchLatest until released so tests can hold a cycle in flight.
type Source struct {
	mu    sync.Mutex
	facts map[watch.Key]watch.Fact
	errs  map[watch.Key]error
	calls map[watch.Key]int
	gate  chan struct{}
	// Entered receives the key each time FetchLatest starts (non-blocking).
	Entered chan watch.Key
}

func NewSource() *Source {
	return &Source{
		facts:   map[watch.Key]watch.Fact{},
		errs:    map[watch.Key]error{},
		calls:   map[watch.Key]int{},
		Entered: make(chan watch.Key, 64),
	}
}

func (s *Source) SetFact(k watch.Key, f watch.Fact) {
	s.mu.Lock()
	s.facts[k] = f
	delete(s.errs, k)
	s.mu.Unlock()
}

func (s *Source) SetError(k watch.Key, err error) {
	s.mu.Lock()
	s.errs[k] = err
	s.mu.Unlock()
}

// Hold makes subsequent fetches block until the returned release func runs.
func (s *Source) Hold() (release func()) {
	g := make(chan struct{})
	s.mu.Lock()
	s.gate = g
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == g {
				s.gate = nil
			}
			s.mu.Unlock()
			close(g)
		})
	}
}

func (s *Source) Calls(k watch.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[k]
}

func (s *Source) FetchLatest(ctx context.Context, t watch.Target) (watch.Fact, bool, error) {
	s.mu.Lock()
	s.calls[t.Key]++
	gate := s.gate
	s.mu.Unlock()

	select {
	case s.Entered <- t.Key:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return watch.Fact{}, false, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[t.Key]; err != nil {
		return watch.Fact{}, false, err
	}
	f, ok := s.facts[t.Key]
	return f, ok, nil
}

// Delivery is one recorded Notifier call.
type Delivery struct {
	Target watch.Target
	Fact   watch.Fact
}

// Notifier records deliveries and can be told to fail.
type Notifier struct {
	mu   sync.Mutex
	sent []Delivery
	err  error
	next int
}

func (n *Notifier) SetError(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *Notifier) Deliver(_ context.Context, t watch.Target, f watch.Fact) (watch.MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return watch.MessageRef{}, n.err
	}
	n.next++
	n.sent = append(n.sent, Delivery{Target: t, Fact: f})
	return watch.MessageRef{ChatID: t.Destination.ChannelID, ThreadID: t.Destination.ThreadID, MessageID: n.next}, nil
}

func (n *Notifier) Sent() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.sent...)
}

// SentIDs returns the fact ids delivered for key in order.
func (n *Notifier) SentIDs(k watch.Key) []string {
	var out []string
	for _, d := range n.Sent() {
		if d.Target.Key == k {
			out = append(out, d.Fact.ID)
		}
	}
	return out
}
