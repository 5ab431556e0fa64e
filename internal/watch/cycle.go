package watch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"guildwatch/internal/eventbus"
	logx "guildwatch/pkg/logx"
)

// CycleResult is the outcome of one fetch cycle.
type CycleResult string

const (
	ResultDelivered     CycleResult = "delivered"
	ResultUnchanged     CycleResult = "unchanged"
	ResultEmpty         CycleResult = "empty"
	ResultFetchFailed   CycleResult = "fetch_failed"
	ResultInvalid       CycleResult = "invalid"
	ResultDeliverFailed CycleResult = "deliver_failed"
	ResultCursorFailed  CycleResult = "cursor_failed"
	ResultDiscarded     CycleResult = "discarded"
	ResultPanicked      CycleResult = "panicked"
)

type CycleReport struct {
	Key      Key           `json:"key"`
	LeaseID  string        `json:"lease_id"`
	Trigger  string        `json:"trigger"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took"`
	Result   CycleResult   `json:"result"`
	FactID   string        `json:"fact_id,omitempty"`
	Message  *MessageRef   `json:"message,omitempty"`
	Err      string        `json:"error,omitempty"`
	Reason   DeliverReason `json:"reason,omitempty"`
	errValue error
}

// Error returns the underlying cycle error, if any.
func (r CycleReport) Error() error { return r.errValue }

// runCycle executes fetch -> compare -> notify -> advance for l. The caller
// must have set l.inflight; runCycle clears it.
func (e *Engine) runCycle(parent context.Context, l *lease, trigger string) (rep CycleReport) {
	ctx, cancel := context.WithTimeout(l.ctx, e.cfg.CycleTimeout)
	defer cancel()
	stop := context.AfterFunc(parent, cancel)
	defer stop()

	t := *l.target.Load()
	rep = CycleReport{Key: l.key, LeaseID: l.id, Trigger: trigger, Started: e.clock.Now()}

	defer func() {
		if r := recover(); r != nil {
			rep.Result = ResultPanicked
			rep.errValue = fmt.Errorf("panic: %v", r)
			rep.Err = rep.errValue.Error()
			e.log.Error("fetch cycle panicked",
				logx.String("key", l.key.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
		rep.Took = e.clock.Now().Sub(rep.Started)
		l.inflight.Store(false)
		r := rep
		l.last.Store(&r)
		e.publish(eventbus.TopicCycle, r)
		e.logCycle(r)
	}()

	rep.Result, rep.errValue = e.cycle(ctx, l, t, &rep)
	if rep.errValue != nil {
		rep.Err = rep.errValue.Error()
		var de *DeliverError
		if errors.As(rep.errValue, &de) {
			rep.Reason = de.Reason
		}
	}
	return rep
}

func (e *Engine) cycle(ctx context.Context, l *lease, t Target, rep *CycleReport) (CycleResult, error) {
	if l.ctx.Err() != nil {
		return ResultDiscarded, errRevoked
	}
	feat, ok := e.feature(t.Kind)
	if !ok {
		return ResultFetchFailed, &FetchError{Key: t.Key, Err: ErrNoFeature}
	}

	fact, found, err := feat.Source.FetchLatest(ctx, t)
	if l.ctx.Err() != nil {
		return ResultDiscarded, errRevoked
	}
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return ResultInvalid, err
		}
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Key: t.Key, Err: err}
		}
		return ResultFetchFailed, err
	}
	if !found {
		return e.touch(ctx, l, ResultEmpty)
	}
	if fact.ID == "" {
		return ResultFetchFailed, &FetchError{Key: t.Key, Err: errors.New("source returned a fact without id")}
	}
	rep.FactID = fact.ID

	cur, have, err := e.store.GetCursor(ctx, t.Key)
	if err != nil {
		return ResultCursorFailed, fmt.Errorf("read cursor: %w", err)
	}
	if have && cur.LastFactID != "" && cur.LastFactID == fact.ID {
		return e.touch(ctx, l, ResultUnchanged)
	}

	// Last chance to abort before a side effect.
	if l.ctx.Err() != nil {
		return ResultDiscarded, errRevoked
	}
	ref, err := feat.Notifier.Deliver(ctx, t, fact)
	if err != nil {
		return ResultDeliverFailed, AsDeliverError(t.Key, ReasonTransport, err)
	}
	rep.Message = &ref

	now := e.clock.Now()
	err = l.commit(func() error { return e.store.AdvanceCursor(ctx, t.Key, fact.ID, now) })
	switch {
	case errors.Is(err, errRevoked):
		return ResultDiscarded, err
	case err != nil:
		return ResultCursorFailed, fmt.Errorf("advance cursor: %w", err)
	}
	return ResultDelivered, nil
}

func (e *Engine) touch(ctx context.Context, l *lease, res CycleResult) (CycleResult, error) {
	now := e.clock.Now()
	err := l.commit(func() error { return e.store.TouchCursor(ctx, l.key, now) })
	switch {
	case errors.Is(err, errRevoked):
		return ResultDiscarded, err
	case err != nil:
		return ResultCursorFailed, fmt.Errorf("touch cursor: %w", err)
	}
	return res, nil
}

func (e *Engine) logCycle(r CycleReport) {
	fields := []logx.Field{
		logx.String("key", r.Key.String()),
		logx.String("result", string(r.Result)),
		logx.String("trigger", r.Trigger),
		logx.Duration("took", r.Took),
	}
	if r.FactID != "" {
		fields = append(fields, logx.String("fact", r.FactID))
	}
	if r.errValue != nil {
		fields = append(fields, logx.Err(r.errValue))
	}
	switch r.Result {
	case ResultDelivered:
		e.log.Info("fact delivered", fields...)
	case ResultFetchFailed:
		e.log.Warn("fetch failed", fields...)
	case ResultInvalid:
		e.log.Warn("target settings invalid", fields...)
	case ResultDeliverFailed:
		if r.Reason != "" {
			fields = append(fields, logx.String("reason", string(r.Reason)))
		}
		e.log.Warn("delivery failed", fields...)
	case ResultCursorFailed:
		e.log.Error("cursor write failed", fields...)
	case ResultPanicked:
		// logged with the stack already
	default:
		e.log.Debug("cycle done", fields...)
	}
}
