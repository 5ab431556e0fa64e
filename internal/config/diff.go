package config

import (
	"reflect"
	"strings"

	logx "guildwatch/pkg/logx"
)

// Sections that can change on reload.
const (
	SectionTelegram = "telegram"
	SectionLogging  = "logging"
	SectionStorage  = "storage"
	SectionWatch    = "watch"
	SectionNotifier = "notifier"
	SectionAdmin    = "admin"
	SectionTargets  = "targets"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes tokens, DSNs or keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.APIURL) != strings.TrimSpace(newCfg.Telegram.APIURL) ||
		strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) ||
		oldCfg.Telegram.AlertChatID != newCfg.Telegram.AlertChatID ||
		oldCfg.Telegram.AlertThreadID != newCfg.Telegram.AlertThreadID {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.alert_chat_set", newCfg.Telegram.AlertChatID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, SectionStorage)
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, SectionWatch)
		attrs = append(attrs,
			logx.String("watch.reconcile_every", newCfg.Watch.ReconcileEvery),
			logx.String("watch.cycle_timeout", newCfg.Watch.CycleTimeout),
			logx.Bool("watch.sports_configured", newCfg.Watch.Sports.BaseURL != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, SectionNotifier)
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs, logx.Any("notifier.rate_per_sec", n.RatePerSec), logx.Int("notifier.burst", n.Burst))
		}
	}

	if adminView(oldCfg.Admin) != adminView(newCfg.Admin) {
		changed = append(changed, SectionAdmin)
		if a := newCfg.Admin; a != nil {
			attrs = append(attrs,
				logx.Bool("admin.enabled", a.Enabled),
				logx.String("admin.addr", a.Addr),
				logx.Bool("admin.token_set", a.Token != ""))
		}
	}

	if !reflect.DeepEqual(oldCfg.Targets, newCfg.Targets) {
		changed = append(changed, SectionTargets)
		attrs = append(attrs, logx.Int("targets.count", len(newCfg.Targets)))
	}

	return changed, attrs
}

func adminView(a *AdminConfig) AdminConfig {
	if a == nil {
		return AdminConfig{}
	}
	return *a
}

// Has reports whether section is in changed.
func Has(changed []string, section string) bool {
	for _, c := range changed {
		if c == section {
			return true
		}
	}
	return false
}
