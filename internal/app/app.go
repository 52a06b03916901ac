// Package app wires config, sources, dispatch and the ambient services into
// one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"logram/internal/config"
	"logram/internal/debounce"
	"logram/internal/dispatch"
	"logram/internal/eventbus"
	"logram/internal/heartbeat"
	"logram/internal/observability/metrics"
	"logram/internal/observability/server"
	rtsup "logram/internal/runtime/supervisor"
	"logram/internal/source"
	"logram/internal/storage"
	kit "logram/internal/transport"
	telegram "logram/internal/transport/telegram/adapter"
	logx "logram/pkg/logx"
	"logram/pkg/systemd"
)

type App struct {
	version  string
	hostname string

	cfgm *config.Manager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	target  kit.ChatTarget

	deb  *debounce.Debouncer
	disp *dispatch.Service
	obs  *server.Service
	beat *heartbeat.Service
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.Comp("telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		Proxy:       cfg.Telegram.Proxy,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Forwarding to Telegram is switched on in Start, once the chat is resolved.
	logCfg := mapLogConfig(cfg)
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dcfg, err := mapDispatchConfig(cfg, kit.ChatTarget{})
	if err != nil {
		return nil, err
	}
	deb := debounce.New(cfg.DebounceWindow())
	disp := dispatch.New(dcfg, ad, deb, log, bus, store)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown host"
	}

	a := &App{
		version:  version,
		hostname: hostname,
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.Comp("app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		deb:      deb,
		disp:     disp,
	}
	a.obs = server.New(server.Config{}, server.Hooks{Health: a.health, History: a.history}, log)
	a.beat = heartbeat.New(mapHeartbeatConfig(cfg), bus, disp.Notify, hostname, log)
	return a, nil
}

// Done is closed when the app stops or hits a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start resolves the chat, opens the sources and starts the pipeline.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.cfg

	chatID, err := a.adapter.ResolveChat(cfg.Telegram.ChatID.String())
	if err != nil {
		return err
	}
	a.target = kit.ChatTarget{ChatID: chatID}
	a.logs.SetTelegramTarget(a.target)
	a.logs.Apply(mapLogConfig(cfg))

	dcfg, err := mapDispatchConfig(cfg, a.target)
	if err != nil {
		return err
	}
	a.disp.Apply(dcfg)

	metrics.Init()
	scfg, err := mapServerConfig(cfg)
	if err != nil {
		return err
	}
	a.obs.Reconfigure(run, scfg)

	sources, infos, initErrs := OpenSources(cfg.Sources, a.log)
	metrics.SetActiveSources(len(sources))

	if cfg.Hello() {
		if err := a.disp.Notify(run, "Hello", dispatch.FormatHello(a.version, a.hostname, infos)); err != nil {
			a.log.Warn("hello message failed", logx.Err(err))
		}
	}
	for _, err := range initErrs {
		if herr := a.disp.Handle(run, source.Result{Source: "init", Err: err}); herr != nil {
			a.log.Warn("init error delivery failed", logx.Err(herr))
		}
	}

	merged := source.Start(run, sources...)
	a.sup.Go("dispatch", func(c context.Context) error {
		err := a.disp.Run(c, merged)
		if err == nil {
			a.log.Warn("all sources finished; nothing left to dispatch")
			metrics.SetActiveSources(0)
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := a.beat.Start(run); err != nil {
		a.log.Warn("heartbeat disabled", logx.Err(err))
	}

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go("systemd.watchdog", systemd.Watchdog)
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status(fmt.Sprintf("watching %d sources", len(sources)))
	}

	a.log.Info("app started", logx.Int("sources", len(sources)), logx.Int("init_errors", len(initErrs)))
	return nil
}

func (a *App) startEventLog() {
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
				a.log.Trace("event", logx.String("type", e.Type), logx.String("source", e.Source))
			}
		}
	})
}

func (a *App) startConfigReload() {
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapDispatchConfig(cfg, a.target); err != nil {
			return err
		}
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	change := config.Diff(prev, next)
	if len(change.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	if restart := change.NeedsRestart(); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}
	if change.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if change.Has("debounce") {
		a.deb.SetTimeout(next.DebounceWindow())
	}
	if change.Has("dispatch") {
		if dcfg, err := mapDispatchConfig(next, a.target); err != nil {
			a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
		} else {
			a.disp.Apply(dcfg)
		}
	}
	if change.Has("heartbeat") {
		if err := a.beat.Apply(mapHeartbeatConfig(next)); err != nil {
			a.log.Warn("invalid heartbeat config", logx.Err(err))
		}
	}
	if change.Has("observability") {
		if scfg, err := mapServerConfig(next); err != nil {
			a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
		} else {
			a.obs.Reconfigure(ctx, scfg)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

func (a *App) history(ctx context.Context, limit int) ([]storage.DeliveryEntry, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentDeliveries(ctx, limit)
}

// Stop shuts everything down, giving each step a bounded share of ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "heartbeat", time.Second, func(context.Context) error { a.beat.Stop(); return nil })
	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	a.step(ctx, "dispatch", time.Second, func(context.Context) error { a.disp.Close(); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn with at most max of the remaining ctx budget. A step that
// overruns is logged and abandoned.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	start := time.Now()
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
