package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildwatch/internal/adminapi"
	"guildwatch/internal/config"
	"guildwatch/internal/eventbus"
	"guildwatch/internal/notifier"
	"guildwatch/internal/runtime/supervisor"
	"guildwatch/internal/storage"
	"guildwatch/internal/tenant"
	"guildwatch/internal/transport"
	"guildwatch/internal/transport/telegram"
	"guildwatch/internal/watch"
	logx "guildwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  storage.Store
	sender *telegram.Sender

	static *tenant.Static
	notif  *notifier.Service
	engine *watch.Engine
	admin  *adminapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	logSvc, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	sender, err := telegram.New(tcfg, root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if id := cfg.Telegram.AlertChatID; id != 0 {
		logSvc.SetAlertSender(sender.Alerts(transport.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.AlertThreadID}))
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, ok, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if ok {
		store, err = storage.Open(sc, root)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		store = storage.NewMemory()
		log.Warn("no persistent storage configured; cursors will not survive a restart")
	}

	static := tenant.NewStatic()
	providers := tenant.Merged{}
	targets, _ := store.(storage.TargetStore)
	if targets != nil {
		providers = append(providers, tenant.NewStore(targets, root))
	}
	providers = append(providers, static)
	applyTargets(static, cfg, log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sender, root.With(logx.String("comp", "notifier")), bus)

	wcfg, err := mapWatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := watch.New(wcfg, watch.Deps{
		Store:    store,
		Provider: providers,
		Log:      root.With(logx.String("comp", "watch")),
		Bus:      bus,
	})

	scores, _ := store.(storage.ScoreStore)
	features, err := buildFeatures(cfg, notif, scores, root)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		if err := engine.Register(f); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		sender: sender,
		static: static,
		notif:  notif,
		engine: engine,
	}

	if acfg, ok, err := mapAdminConfig(cfg); err != nil {
		return nil, err
	} else if ok {
		a.admin = adminapi.New(acfg, adminapi.Deps{
			Engine:  engine,
			Cursors: store,
			Targets: targets,
			Scores:  scores,
			History: notif.Snapshot,
			Log:     root.With(logx.String("comp", "adminapi")),
		})
	}
	return a, nil
}

func (a *App) Engine() *watch.Engine { return a.engine }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.engine.Start(a.sup.Context()); err != nil {
		return err
	}
	// first pass right away instead of after reconcile_every
	a.engine.Trigger()

	if a.admin != nil {
		a.sup.Go("adminapi", a.admin.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// applyConfig applies the hot-reloadable parts of a new config.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range []string{config.SectionStorage, config.SectionAdmin, config.SectionWatch} {
		if config.Has(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if config.Has(sections, config.SectionTelegram) {
		if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.APIURL != next.Telegram.APIURL || prev.Telegram.Timeout != next.Telegram.Timeout {
			a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
		}
		// alert target is live
		if id := next.Telegram.AlertChatID; id != 0 {
			a.logs.SetAlertSender(a.sender.Alerts(transport.ChatTarget{ChatID: id, ThreadID: next.Telegram.AlertThreadID}))
		} else {
			a.logs.SetAlertSender(nil)
		}
	}
	if config.Has(sections, config.SectionLogging) || config.Has(sections, config.SectionTelegram) {
		a.logs.Apply(mapLogConfig(next))
	}
	if config.Has(sections, config.SectionNotifier) {
		if ncfg, err := mapNotifierConfig(next); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}
	if config.Has(sections, config.SectionTargets) {
		applyTargets(a.static, next, a.log)
		a.engine.Trigger()
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func applyTargets(static *tenant.Static, cfg *config.Config, log logx.Logger) {
	targets, errs := tenant.FromConfig(cfg.Targets)
	for _, err := range errs {
		log.Warn("config target excluded", logx.Err(err))
	}
	static.Replace(targets)
}

// Stop shuts down in order: intake (config, admin) first, then the engine so
// no cycle outlives the store, then the store and log sinks.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("watch", 10*time.Second, a.engine.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
