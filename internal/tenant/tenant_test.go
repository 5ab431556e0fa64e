package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildwatch/internal/config"
	"guildwatch/internal/storage"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

func TestStoreProviderFiltersRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	put := func(entity string, enabled bool, every time.Duration) {
		require.NoError(t, mem.PutTarget(ctx, storage.TargetRecord{
			Key:         watch.Key{TenantID: "g1", Kind: watch.KindSports, EntityKey: entity},
			Enabled:     enabled,
			Interval:    every,
			Destination: watch.Destination{ChannelID: 1},
		}))
	}
	put("nba", true, time.Minute)
	put("nfl", false, time.Minute)
	put("nhl", true, 0)

	got, err := NewStore(mem, logx.Nop()).ListEnabled(ctx, watch.KindSports)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "nba", got[0].EntityKey)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	off := false
	ts, errs := FromConfig([]config.TargetConfig{
		{Tenant: "g1", Kind: "Reminder", Entity: "standup", Interval: "1m", ChannelID: 5, Settings: map[string]string{"time": "09:00"}},
		{Tenant: "g1", Kind: "video-watch", Entity: "UC1", Interval: "1m", ChannelID: 5, Enabled: &off},
		{Tenant: "g1", Kind: "video-watch", Entity: "UC2", Interval: "often", ChannelID: 5},
		{Tenant: "g1", Kind: "weather", Entity: "x", Interval: "1m", ChannelID: 5},
		{Tenant: "g1", Kind: "sports-watch", Entity: "nba", Interval: "1m"},
	})
	require.Len(t, ts, 1)
	require.Equal(t, watch.KindReminder, ts[0].Kind)
	require.Len(t, errs, 3)
	for _, err := range errs {
		var ce *watch.ConfigError
		require.True(t, errors.As(err, &ce), err.Error())
	}
}

type failing struct{}

func (failing) ListEnabled(context.Context, watch.Kind) ([]watch.Target, error) {
	return nil, errors.New("db down")
}

func TestMergedFirstWinsAndFailsClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := watch.Key{TenantID: "g1", Kind: watch.KindVideo, EntityKey: "UC1"}
	a, b := NewStatic(), NewStatic()
	a.Replace([]watch.Target{{Key: k, Interval: time.Minute}})
	b.Replace([]watch.Target{
		{Key: k, Interval: time.Hour},
		{Key: watch.Key{TenantID: "g2", Kind: watch.KindVideo, EntityKey: "UC1"}, Interval: time.Hour},
	})

	got, err := Merged{a, b}.ListEnabled(ctx, watch.KindVideo)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, time.Minute, got[0].Interval)

	_, err = Merged{a, failing{}}.ListEnabled(ctx, watch.KindVideo)
	require.Error(t, err)

	none, err := a.ListEnabled(ctx, watch.KindSports)
	require.NoError(t, err)
	require.Empty(t, none)
}
