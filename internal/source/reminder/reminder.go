// Package reminder is the fact source for daily reminders.
//
// A reminder target carries its schedule in settings:
//
//	time    "HH:MM" (required)
//	days    day mask: "daily" (default), "weekdays", "weekends", or a cron
//	        day-of-week list such as "mon,wed,fri" or "mon-fri"
//	tz      IANA zone name (default: the source's location, UTC unless configured)
//	message text to send
//
// The fact for an occurrence is identified by its calendar date in the
// reminder's zone, so the engine's cursor lets each scheduled day through once.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"guildwatch/internal/watch"
)

// DateLayout is the fact id format.
const DateLayout = "2006-01-02"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Options struct {
	// Tolerance is how early a fetch may report an occurrence, and the
	// minimum lookback after it. Default 60s.
	Tolerance time.Duration
	Location  *time.Location
	Now       func() time.Time
}

type Source struct {
	tol time.Duration
	loc *time.Location
	now func() time.Time
}

func New(opt Options) *Source {
	if opt.Tolerance <= 0 {
		opt.Tolerance = 60 * time.Second
	}
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Source{tol: opt.Tolerance, loc: opt.Location, now: opt.Now}
}

// Reminder is the fact payload.
type Reminder struct {
	Name        string
	Message     string
	ScheduledAt time.Time
}

func (r Reminder) Render() string {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = r.Name
	}
	return "⏰ " + msg
}

// Schedule is a parsed reminder schedule.
type Schedule struct {
	cron cron.Schedule
	loc  *time.Location
}

// ParseSchedule validates the settings of a reminder target.
func ParseSchedule(t watch.Target, def *time.Location) (Schedule, error) {
	hh, mm, err := parseClock(t.Setting("time"))
	if err != nil {
		return Schedule{}, &watch.ConfigError{Key: t.Key, Field: "time", Msg: err.Error()}
	}
	dow, err := dayMask(t.Setting("days"))
	if err != nil {
		return Schedule{}, &watch.ConfigError{Key: t.Key, Field: "days", Msg: err.Error()}
	}
	loc := def
	if tz := t.Setting("tz"); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return Schedule{}, &watch.ConfigError{Key: t.Key, Field: "tz", Msg: err.Error()}
		}
	}
	sched, err := parser.Parse(fmt.Sprintf("%d %d * * %s", mm, hh, dow))
	if err != nil {
		return Schedule{}, &watch.ConfigError{Key: t.Key, Field: "days", Msg: err.Error()}
	}
	return Schedule{cron: sched, loc: loc}, nil
}

// Due returns the latest occurrence in [now-back, now+ahead], if any.
func (s Schedule) Due(now time.Time, back, ahead time.Duration) (time.Time, bool) {
	local := now.In(s.loc)
	end := local.Add(ahead)
	var at time.Time
	for next := s.cron.Next(local.Add(-back - time.Nanosecond)); !next.IsZero() && !next.After(end); next = s.cron.Next(next) {
		at = next
	}
	return at, !at.IsZero()
}

// ValidateTarget rejects malformed schedule settings before a lease exists.
func (s *Source) ValidateTarget(t watch.Target) error {
	_, err := ParseSchedule(t, s.loc)
	return err
}

// FetchLatest reports the latest occurrence since the previous poll. The
// lookback spans the target's interval; the cursor dedups overlapping windows.
func (s *Source) FetchLatest(_ context.Context, t watch.Target) (watch.Fact, bool, error) {
	sched, err := ParseSchedule(t, s.loc)
	if err != nil {
		return watch.Fact{}, false, err
	}
	now := s.now()
	at, ok := sched.Due(now, max(t.Interval, s.tol), s.tol)
	if !ok {
		return watch.Fact{}, false, nil
	}
	return watch.Fact{
		ID:         at.Format(DateLayout),
		ObservedAt: now,
		Payload:    Reminder{Name: t.EntityKey, Message: t.Setting("message"), ScheduledAt: at},
	}, true, nil
}

func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return hh, mm, nil
}

func dayMask(s string) (string, error) {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	switch s {
	case "", "*", "daily", "everyday":
		return "*", nil
	case "weekdays":
		return "mon-fri", nil
	case "weekends":
		return "sat,sun", nil
	}
	if _, err := parser.Parse("0 0 * * " + s); err != nil {
		return "", fmt.Errorf("invalid day mask %q", s)
	}
	return s, nil
}
