// Package app wires configuration, logging, storage, transport, the command
// router, the cron dispatcher and plugins into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hadroid/internal/config"
	"hadroid/internal/cronbook"
	"hadroid/internal/eventbus"
	"hadroid/internal/plugin"
	"hadroid/internal/router"
	"hadroid/internal/runtime/supervisor"
	"hadroid/internal/storage"
	kit "hadroid/internal/transport"
	"hadroid/internal/transport/telegram"
	logx "hadroid/pkg/logx"
	"hadroid/plugins/base"
	"hadroid/plugins/coffee"
	"hadroid/plugins/cron"
	"hadroid/plugins/menu"
)

type Options struct {
	// Adapter replaces the telegram transport (console mode, tests).
	Adapter kit.Adapter
	// Plugins to register; nil selects DefaultPlugins.
	Plugins []plugin.Plugin
}

// DefaultPlugins is the bot's built-in plugin set.
func DefaultPlugins() []plugin.Plugin {
	return []plugin.Plugin{base.New(), coffee.New(), menu.New(), cron.New()}
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	router  *router.Router
	book    *cronbook.Book
	disp    *cronbook.Dispatcher
	pm      *plugin.Manager

	updates chan kit.Update

	mu         sync.Mutex
	cronCancel context.CancelFunc
	stopReason string
}

func New(cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	chatTo, err := chatLogTarget(cfg)
	if err != nil {
		return nil, err
	}

	ad := opt.Adapter
	if ad == nil {
		bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{
			Token:          cfg.Telegram.Token,
			PollTimeout:    cfg.Telegram.PollTimeoutOr(10 * time.Second),
			SendRatePerSec: cfg.Telegram.SendRatePerSec,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	// Set the chat target before the chat sink is enabled so Apply doesn't
	// warn about a missing room.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(chatTo)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()

	book, err := cronbook.OpenBook(context.Background(), store, cronbook.BookOptions{
		DocName:         cfg.Cron.Book,
		DefaultTimezone: cfg.Cron.DefaultTimezone,
		Logger:          log,
	})
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("open cron book: %w", err)
	}

	r := router.New(router.Options{
		Logger: log,
		Sender: ad,
		Store:  store,
		Bus:    bus,
	})
	r.SetConfig(cfg)

	disp := cronbook.NewDispatcher(book, cronbook.ExecutorFunc(r.Execute), cronbook.DispatcherOptions{
		Interval:       cfg.Cron.PollEvery(),
		CommandTimeout: cfg.Bot.Timeout(),
		Bus:            bus,
		Logger:         log,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		router:  r,
		book:    book,
		disp:    disp,
		updates: make(chan kit.Update, 256),
	}

	a.pm = plugin.NewManager(log, plugin.Deps{
		Logger:   log,
		Store:    store,
		Bus:      bus,
		Sender:   ad,
		Book:     book,
		Shutdown: a.Shutdown,
	}, r)
	plugins := opt.Plugins
	if plugins == nil {
		plugins = DefaultPlugins()
	}
	a.pm.Register(plugins...)
	return a, nil
}

func (a *App) Router() *router.Router { return a.router }

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error,
// Shutdown or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Shutdown asks the app to stop; the caller observes it through Done.
func (a *App) Shutdown(reason string) {
	a.mu.Lock()
	if a.stopReason == "" {
		a.stopReason = reason
	}
	sup := a.sup
	a.mu.Unlock()
	a.log.Warn("shutdown requested", logx.String("reason", reason))
	if sup != nil {
		sup.Cancel()
	}
}

// StopReason is the reason passed to the first Shutdown call.
func (a *App) StopReason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopReason
}

// prepare starts plugins behind a fresh supervisor. Nothing is read from the
// transport yet.
func (a *App) prepare(ctx context.Context) {
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)
	a.pm.StartAll(sup.Context(), a.cfgm.Get())
}

func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := chatLogTarget(cfg); err != nil {
		return err
	}
	return a.pm.ValidateConfig(ctx, cfg)
}

// Start runs the bot until Stop, Shutdown or a fatal error.
func (a *App) Start(ctx context.Context) error {
	a.prepare(ctx)
	runCtx := a.sup.Context()

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.updateMenu(runCtx)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	cfg := a.cfgm.Get()
	if cfg.Cron.Enabled {
		a.startCron(runCtx)
	} else {
		a.log.Info("cron dispatcher disabled")
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
				// keep only the newest of a burst
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Strings("plugins", a.pm.Running()))
	return nil
}

// RunOnce starts plugins, executes one privileged command in channel and
// stops. Cron events are not dispatched.
func (a *App) RunOnce(ctx context.Context, channel, command string) error {
	a.prepare(ctx)
	err := a.router.Execute(a.sup.Context(), channel, command)
	if errors.Is(err, router.ErrUnknownCommand) {
		// the usage reply was already sent
		err = nil
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(sctx, "oneshot")
	return err
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Strings("plugins", pluginChanged))
	}
	for _, s := range sections {
		if s == "storage" || s == "telegram" {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	// the validator already accepted the room
	to, _ := chatLogTarget(next)
	a.logs.SetChatTarget(to)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetConfig(next)
	a.disp.SetInterval(next.Cron.PollEvery())

	a.mu.Lock()
	cronRunning := a.cronCancel != nil
	a.mu.Unlock()
	switch {
	case next.Cron.Enabled && !cronRunning:
		a.log.Info("cron dispatcher enabled via config")
		a.startCron(ctx)
	case !next.Cron.Enabled && cronRunning:
		a.log.Info("cron dispatcher disabled via config")
		a.stopCron()
	}

	a.pm.Apply(next)
	a.updateMenu(ctx)
	a.log.Info("config reloaded", fields...)
}

func (a *App) startCron(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cronCancel = cancel
	a.mu.Unlock()
	a.sup.Go("cron.dispatch", func(context.Context) error {
		return a.disp.Run(cctx)
	})
}

func (a *App) stopCron() {
	a.mu.Lock()
	cancel := a.cronCancel
	a.cronCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// updateMenu pushes top-level commands to adapters with a command menu.
func (a *App) updateMenu(ctx context.Context) {
	mu, ok := a.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cmds := a.router.MenuCommands()
	a.sup.Go0("menu.update", func(context.Context) {
		uctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := mu.UpdateMenuCommands(uctx, cmds); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})
}

func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	if r := a.StopReason(); r != "" {
		reason = r
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.sup.Cancel()
	a.stopCron()

	// step bounds one shutdown stage; it never extends the caller's deadline.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
