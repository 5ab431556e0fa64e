package app

import (
	"fmt"
	"strings"
	"time"

	"guildwatch/internal/adminapi"
	"guildwatch/internal/config"
	"guildwatch/internal/notifier"
	"guildwatch/internal/storage"
	"guildwatch/internal/transport/telegram"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			// alerts need somewhere to go
			Enabled:    cfg.Logging.Alerts.Enabled && cfg.Telegram.AlertChatID != 0,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  strings.TrimSpace(cfg.Telegram.APIURL),
		Timeout: timeout,
	}, nil
}

// mapStorageConfig returns ok=false when no persistent store is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file", "memory", "mem":
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql", "pg":
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN), MaxOpenConns: sc.MaxOpenConns}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapWatchConfig(cfg *config.Config) (watch.Config, error) {
	w := cfg.Watch
	every, err := config.ParseDurationOrDefault("watch.reconcile_every", w.ReconcileEvery, 60*time.Second)
	if err != nil {
		return watch.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("watch.cycle_timeout", w.CycleTimeout, 30*time.Second)
	if err != nil {
		return watch.Config{}, err
	}
	return watch.Config{
		ReconcileEvery:      every,
		CycleTimeout:        timeout,
		ProviderConcurrency: w.ProviderConcurrency,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	n := cfg.Notifier
	timeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:         n.RatePerSec,
		Burst:              n.Burst,
		SendTimeout:        timeout,
		DisableLinkPreview: n.DisableLinkPreview,
	}, nil
}

// mapAdminConfig returns ok=false when the admin API is disabled.
func mapAdminConfig(cfg *config.Config) (adminapi.Config, bool, error) {
	if cfg.Admin == nil || !cfg.Admin.Enabled {
		return adminapi.Config{}, false, nil
	}
	a := cfg.Admin
	rt, err := config.ParseDurationField("admin.read_timeout", a.ReadTimeout)
	if err != nil {
		return adminapi.Config{}, false, err
	}
	wt, err := config.ParseDurationField("admin.write_timeout", a.WriteTimeout)
	if err != nil {
		return adminapi.Config{}, false, err
	}
	addr := strings.TrimSpace(a.Addr)
	if addr == "" {
		addr = "127.0.0.1:8087"
	}
	return adminapi.Config{Addr: addr, Token: a.Token, ReadTimeout: rt, WriteTimeout: wt, Pprof: a.Pprof}, true, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
