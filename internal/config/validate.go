package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate reports every structural problem in cfg. Individual watch targets
// are not checked here: a bad target is excluded at load time instead of
// rejecting the whole file.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.timeout", cfg.Telegram.Timeout)
	if u := strings.TrimSpace(cfg.Telegram.APIURL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			errs = append(errs, fmt.Errorf("telegram.api_url: %w", err))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "sqlite3", "file":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required for this driver"))
			}
		case "postgres", "postgresql", "pg":
			if strings.TrimSpace(s.DSN) == "" {
				errs = append(errs, errors.New("storage.dsn is required for postgres"))
			}
		case "memory", "mem", "none":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	w := cfg.Watch
	dur("watch.reconcile_every", w.ReconcileEvery)
	dur("watch.cycle_timeout", w.CycleTimeout)
	dur("watch.reminder_tolerance", w.ReminderTolerance)
	dur("watch.feed.timeout", w.Feed.Timeout)
	dur("watch.sports.timeout", w.Sports.Timeout)
	if w.ProviderConcurrency < 0 {
		errs = append(errs, errors.New("watch.provider_concurrency must be >= 0"))
	}
	if tz := strings.TrimSpace(w.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("watch.timezone: %w", err))
		}
	}
	for path, tmpl := range map[string]string{
		"watch.feed.social_url_template": w.Feed.SocialURLTemplate,
		"watch.feed.video_url_template":  w.Feed.VideoURLTemplate,
	} {
		if tmpl != "" && !strings.Contains(tmpl, "{id}") {
			errs = append(errs, fmt.Errorf("%s: must contain {id}", path))
		}
	}
	if b := strings.TrimSpace(w.Sports.BaseURL); b != "" {
		if _, err := url.ParseRequestURI(b); err != nil {
			errs = append(errs, fmt.Errorf("watch.sports.base_url: %w", err))
		}
	}

	if n := cfg.Notifier; n != nil {
		dur("notifier.send_timeout", n.SendTimeout)
		if n.RatePerSec < 0 || n.Burst < 0 {
			errs = append(errs, errors.New("notifier.rate_per_sec and notifier.burst must be >= 0"))
		}
	}

	if a := cfg.Admin; a != nil && a.Enabled {
		dur("admin.read_timeout", a.ReadTimeout)
		dur("admin.write_timeout", a.WriteTimeout)
	}

	return errors.Join(errs...)
}
