package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"guildwatch/internal/eventbus"
	"guildwatch/internal/transport"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

// SettingMessageID names the target setting holding a message to edit
// instead of posting a new one.
const SettingMessageID = "message_id"

var ErrNoDestination = errors.New("target has no destination")

// Service implements watch.Notifier for every feature kind.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

var _ watch.Notifier = (*Service)(nil)

func New(cfg Config, sender transport.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, now: time.Now}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSec)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.Burst)
}

// Deliver renders f and posts it to t's destination. It returns a
// *watch.DeliverError on failure.
func (s *Service) Deliver(ctx context.Context, t watch.Target, f watch.Fact) (watch.MessageRef, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	start := s.now()
	to, err := resolve(t.Destination)
	if err != nil {
		return watch.MessageRef{}, &watch.DeliverError{Key: t.Key, Reason: watch.ReasonNotFound, Err: err}
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()

	var ref transport.MessageRef
	edit := editRef(t, to)
	if err = lim.Wait(sctx); err == nil {
		text := Render(f)
		opt := &transport.SendOptions{DisablePreview: cfg.DisableLinkPreview}
		if edit != nil {
			ref = *edit
			err = s.sender.EditText(sctx, ref, text, opt)
		} else {
			ref, err = s.sender.SendText(sctx, to, text, opt)
		}
	}

	ev := NotificationEvent{
		Key:       t.Key.String(),
		FactID:    f.ID,
		ChatID:    to.ChatID,
		ThreadID:  to.ThreadID,
		MessageID: ref.MessageID,
		At:        start,
		Took:      s.now().Sub(start),
	}
	item := HistoryItem{At: start, Key: ev.Key, FactID: f.ID, ChatID: to.ChatID, MessageID: ref.MessageID, Edited: edit != nil}

	if err != nil {
		derr := watch.AsDeliverError(t.Key, reason(err), err)
		var de *watch.DeliverError
		errors.As(derr, &de)
		ev.Reason, ev.Error = string(de.Reason), err.Error()
		item.Error = err.Error()
		s.appendHistory(item, cfg.HistorySize)
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicNotifyFailed, Data: ev})
		return watch.MessageRef{}, derr
	}

	s.appendHistory(item, cfg.HistorySize)
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicNotifySent, Data: ev})
	s.log.Debug("delivered",
		logx.String("key", ev.Key),
		logx.String("fact_id", f.ID),
		logx.Int64("chat_id", to.ChatID),
		logx.Int("message_id", ref.MessageID),
		logx.Bool("edited", edit != nil),
		logx.Duration("took", ev.Took),
	)
	return watch.MessageRef{ChatID: ref.ChatID, ThreadID: ref.ThreadID, MessageID: ref.MessageID}, nil
}

// Snapshot returns recent deliveries, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) appendHistory(it HistoryItem, limit int) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = append(s.history[:0], s.history[len(s.history)-limit:]...)
	}
}

// Render returns the plain-text form of a fact.
func Render(f watch.Fact) string {
	var text string
	switch p := f.Payload.(type) {
	case watch.Renderer:
		text = p.Render()
	case string:
		text = p
	case nil:
	default:
		text = fmt.Sprint(p)
	}
	if strings.TrimSpace(text) == "" {
		return f.ID
	}
	return text
}

func resolve(d watch.Destination) (transport.ChatTarget, error) {
	switch {
	case d.ChannelID != 0:
		return transport.ChatTarget{ChatID: d.ChannelID, ThreadID: d.ThreadID}, nil
	case d.UserID != 0:
		// private chat ids equal user ids
		return transport.ChatTarget{ChatID: d.UserID}, nil
	}
	return transport.ChatTarget{}, ErrNoDestination
}

func editRef(t watch.Target, to transport.ChatTarget) *transport.MessageRef {
	if t.Kind != watch.KindScoreboard {
		return nil
	}
	id, err := strconv.Atoi(t.Setting(SettingMessageID))
	if err != nil || id <= 0 {
		return nil
	}
	return &transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}
}

func reason(err error) watch.DeliverReason {
	switch {
	case errors.Is(err, transport.ErrForbidden):
		return watch.ReasonForbidden
	case errors.Is(err, transport.ErrNotFound):
		return watch.ReasonNotFound
	}
	return watch.ReasonTransport
}
