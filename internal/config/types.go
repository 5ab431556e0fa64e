package config

// Config is the on-disk configuration. JSON, YAML and TOML files share this
// shape; YAML and TOML are coerced to JSON and decoded strictly.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Watch    WatchConfig     `json:"watch"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Admin    *AdminConfig    `json:"admin,omitempty"`

	// Targets are config-file watch targets. They are merged with targets
	// stored in the database; the database wins on key collisions.
	Targets []TargetConfig `json:"targets,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API server).
	APIURL string `json:"api_url,omitempty"`
	// Timeout bounds each Bot API request. Default "15s".
	Timeout string `json:"timeout,omitempty"`
	// AlertChatID receives log alerts when logging.alerts is enabled.
	AlertChatID   int64 `json:"alert_chat_id,omitempty"`
	AlertThreadID int   `json:"alert_thread_id,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the cursor store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/guildwatch.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// WatchConfig controls the polling engine and its fact sources.
//
// Defaults (when fields are omitted/zero):
//   - reconcile_every: "60s"
//   - cycle_timeout: "30s"
//   - provider_concurrency: 4
//   - reminder_tolerance: "60s"
//   - timezone: "UTC"
type WatchConfig struct {
	ReconcileEvery      string `json:"reconcile_every,omitempty"`
	CycleTimeout        string `json:"cycle_timeout,omitempty"`
	ProviderConcurrency int    `json:"provider_concurrency,omitempty"`
	ReminderTolerance   string `json:"reminder_tolerance,omitempty"`
	Timezone            string `json:"timezone,omitempty"`

	Feed       FeedConfig       `json:"feed"`
	Sports     SportsConfig     `json:"sports"`
	Scoreboard ScoreboardConfig `json:"scoreboard"`
}

// FeedConfig configures the social and video feed sources.
//
// URL templates use {id} for the watched entity key.
type FeedConfig struct {
	SocialURLTemplate string  `json:"social_url_template,omitempty"`
	VideoURLTemplate  string  `json:"video_url_template,omitempty"`
	UserAgent         string  `json:"user_agent,omitempty"`
	Timeout           string  `json:"timeout,omitempty"`
	PerHostRPS        float64 `json:"per_host_rps,omitempty"`
	PerHostBurst      int     `json:"per_host_burst,omitempty"`
}

type SportsConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"` // do not log
	Timeout string `json:"timeout,omitempty"`
}

type ScoreboardConfig struct {
	// Limit is how many entries a refresh shows. Default 10.
	Limit int `json:"limit,omitempty"`
}

// NotifierConfig controls delivery to the chat platform.
type NotifierConfig struct {
	RatePerSec         float64 `json:"rate_per_sec,omitempty"`
	Burst              int     `json:"burst,omitempty"`
	SendTimeout        string  `json:"send_timeout,omitempty"`
	DisableLinkPreview bool    `json:"disable_link_preview,omitempty"`
}

// AdminConfig controls the admin HTTP API.
//
// Security note: bind to localhost or set a token.
type AdminConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`  // default: "127.0.0.1:8087"
	Token        string `json:"token,omitempty"` // bearer token (do not log)
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

// TargetConfig declares one watch target in the config file.
//
// Enabled is a pointer so an omitted field means enabled.
type TargetConfig struct {
	Tenant    string            `json:"tenant"`
	Kind      string            `json:"kind"`
	Entity    string            `json:"entity"`
	Enabled   *bool             `json:"enabled,omitempty"`
	Interval  string            `json:"interval"`
	ChannelID int64             `json:"channel_id,omitempty"`
	ThreadID  int               `json:"thread_id,omitempty"`
	UserID    int64             `json:"user_id,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
}

func (t TargetConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }
