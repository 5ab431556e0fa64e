package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildwatch/internal/config"
	"guildwatch/internal/watch"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Chan</title>
<item><title>Episode 1</title><link>https://example.com/e1</link><guid>item-1</guid>
<pubDate>Mon, 02 Jan 2026 15:04:05 GMT</pubDate></item>
</channel></rss>`

type botAPI struct {
	mu   sync.Mutex
	sent int
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.sent++
	n := b.sent
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`, n)
}

func (b *botAPI) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

func writeConfig(t *testing.T, path, apiURL, feedURL string, entities ...string) {
	t.Helper()
	var targets []string
	for _, e := range entities {
		targets = append(targets, fmt.Sprintf(`{"tenant":"g1","kind":"video-watch","entity":%q,"interval":"1h","channel_id":-100}`, e))
	}
	body := fmt.Sprintf(`{
  "telegram": {"token": "1:test", "api_url": %q},
  "logging": {"level": "error"},
  "storage": {"driver": "memory"},
  "watch": {"feed": {"video_url_template": %q}},
  "targets": [%s]
}`, apiURL, feedURL+"/feeds/{id}", strings.Join(targets, ","))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestAppDeliversAndReloadsTargets(t *testing.T) {
	api := &botAPI{}
	tg := httptest.NewServer(api)
	defer tg.Close()
	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rss)
	}))
	defer feeds.Close()

	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, tg.URL, feeds.URL, "UC1")

	a, err := NewApp(path)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopSignal) }()

	key := watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: "UC1"}
	require.Eventually(t, func() bool {
		c, ok, err := a.store.GetCursor(context.Background(), key)
		return err == nil && ok && c.LastFactID == "item-1"
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, api.count())

	writeConfig(t, path, tg.URL, feeds.URL, "UC1", "UC2")
	require.Eventually(t, func() bool { return len(a.Engine().Leases()) == 2 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return api.count() == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestMapStorageConfig(t *testing.T) {
	_, ok, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	require.False(t, ok)

	sc, ok, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite3", Path: "x.db"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, time.Second, sc.BusyTimeout)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite"}})
	require.Error(t, err)
	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "redis"}})
	require.Error(t, err)

	sc, ok, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "pg", DSN: "postgres://x"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "postgres", sc.Driver)
}

func TestMapWatchAndAdminConfig(t *testing.T) {
	wc, err := mapWatchConfig(&config.Config{Watch: config.WatchConfig{ReconcileEvery: "2m", ProviderConcurrency: 3}})
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, wc.ReconcileEvery)
	require.Equal(t, 30*time.Second, wc.CycleTimeout)
	require.Equal(t, 3, wc.ProviderConcurrency)

	_, ok, err := mapAdminConfig(&config.Config{Admin: &config.AdminConfig{Enabled: false}})
	require.NoError(t, err)
	require.False(t, ok)
	ac, ok, err := mapAdminConfig(&config.Config{Admin: &config.AdminConfig{Enabled: true}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:8087", ac.Addr)
}

func TestMapLogConfigNeedsAlertChat(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Alerts.Enabled = true
	require.False(t, mapLogConfig(cfg).Alerts.Enabled)
	cfg.Telegram.AlertChatID = -1
	require.True(t, mapLogConfig(cfg).Alerts.Enabled)
}
