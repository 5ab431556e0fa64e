package app

import (
	"net/http"
	"time"

	"guildwatch/internal/config"
	"guildwatch/internal/source/feed"
	"guildwatch/internal/source/reminder"
	"guildwatch/internal/source/scoreboard"
	"guildwatch/internal/source/sports"
	"guildwatch/internal/storage"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

// buildFeatures binds every feature kind to its source. All kinds share one
// notifier. Scoreboard refresh is only available when scores is non-nil.
func buildFeatures(cfg *config.Config, n watch.Notifier, scores storage.ScoreStore, log logx.Logger) ([]watch.Feature, error) {
	w := cfg.Watch

	loc, err := loadLocation(w.Timezone)
	if err != nil {
		return nil, err
	}
	tol, err := config.ParseDurationOrDefault("watch.reminder_tolerance", w.ReminderTolerance, 60*time.Second)
	if err != nil {
		return nil, err
	}
	feedTimeout, err := config.ParseDurationField("watch.feed.timeout", w.Feed.Timeout)
	if err != nil {
		return nil, err
	}
	sportsTimeout, err := config.ParseDurationField("watch.sports.timeout", w.Sports.Timeout)
	if err != nil {
		return nil, err
	}

	client := &http.Client{}
	fetcher := feed.NewFetcher(feed.Options{
		Client:       client,
		UserAgent:    w.Feed.UserAgent,
		Timeout:      feedTimeout,
		PerHostRPS:   w.Feed.PerHostRPS,
		PerHostBurst: w.Feed.PerHostBurst,
		Log:          log.With(logx.String("comp", "feed")),
	})

	videoTmpl := w.Feed.VideoURLTemplate
	if videoTmpl == "" {
		videoTmpl = feed.DefaultVideoTemplate
	}

	out := []watch.Feature{
		{Kind: watch.KindReminder, Source: reminder.New(reminder.Options{Tolerance: tol, Location: loc}), Notifier: n},
		{Kind: watch.KindSocial, Source: feed.NewSource(fetcher, w.Feed.SocialURLTemplate), Notifier: n},
		{Kind: watch.KindVideo, Source: feed.NewSource(fetcher, videoTmpl), Notifier: n},
		{Kind: watch.KindSports, Source: sports.New(sports.Options{
			BaseURL: w.Sports.BaseURL,
			APIKey:  w.Sports.APIKey,
			Client:  client,
			Timeout: sportsTimeout,
		}), Notifier: n},
	}
	if scores != nil {
		out = append(out, watch.Feature{Kind: watch.KindScoreboard, Source: scoreboard.New(scores, w.Scoreboard.Limit), Notifier: n})
	} else {
		log.Warn("store keeps no scoreboards; scoreboard-refresh disabled")
	}
	return out, nil
}
