package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"ccbell/internal/config"
	"ccbell/internal/engine"
	rtsup "ccbell/internal/runtime/supervisor"
	"ccbell/internal/server"
	logx "ccbell/pkg/logx"
	"ccbell/pkg/systemd"

	"github.com/robfig/cron/v3"
)

// Serve runs the daemon until ctx is done or a task fails for good.
func (a *App) Serve(ctx context.Context) error {
	if a.mode != ModeServe {
		return errors.New("app: Serve requires ModeServe")
	}
	defer a.Close()

	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)
	a.started = time.Now()
	run := a.sup.Context()

	a.notif.Start(run)
	a.sup.Go("storage.persist", a.persistLoop)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if a.store != nil {
		spec := compactSchedule(a.Config())
		a.sup.Go("storage.compact", func(c context.Context) error {
			return a.compactLoop(c, spec)
		})
	}

	opts, err := mapServerOptions(a.Config(), a.log.With(logx.String("comp", "http")))
	if err != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(context.Background())
		return err
	}
	srv := server.New(a, opts)
	a.sup.Go("http", srv.ListenAndServe)
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		_, _ = systemd.Status("listening on " + opts.Addr)
	}
	a.log.Info("daemon started",
		logx.String("addr", opts.Addr),
		logx.String("config", a.cfgm.Path()),
		logx.Bool("defaults", a.usedDefault),
		logx.String("storage", a.storeCfg.Driver),
	)

	<-run.Done()
	_, _ = systemd.Stopping()
	a.log.Info("stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	a.notif.Stop(stopCtx)
	cancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.sup.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	a.log.Info("stopped")
	return a.sup.Err()
}

// reloadLoop applies committed configs. Invalid files never reach it: the
// config manager runs validateConfig before publishing.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.Config()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs, events := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	policy, err := engine.Compile(newCfg)
	if err == nil {
		err = a.engine.Reload(policy)
	}
	if err != nil {
		a.log.Warn("config rejected; keeping previous", logx.Err(err))
		return
	}

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()

	a.logs.Apply(mapLogConfig(newCfg, a.mode))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid player config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case was && !ncfg.Enabled:
			a.log.Info("player disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !was && ncfg.Enabled:
			a.log.Info("player enabled via config")
			a.notif.Start(ctx)
		}
	}

	for _, s := range sections {
		if s == "storage" || s == "server" {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(events) > 0 {
		fields = append(fields, logx.Any("events", events))
	}
	a.log.Info("config reloaded", fields...)
}

// compactLoop runs storage compaction on a cron schedule until ctx is done.
func (a *App) compactLoop(ctx context.Context, spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.Local),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { a.compact(ctx) }); err != nil {
		return config.Errorf("storage.compact_schedule", "invalid cron spec %q: %v", spec, err)
	}
	c.Start()
	a.log.Debug("compaction scheduled", logx.String("spec", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (a *App) compact(ctx context.Context) {
	if a.store == nil {
		return
	}
	cutoff := a.now().Add(-auditRetention(a.Config()))
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	start := time.Now()
	if err := a.store.Compact(cctx, cutoff); err != nil {
		a.log.Warn("storage compaction failed", logx.Err(err))
		return
	}
	a.log.Debug("storage compacted", logx.Time("cutoff", cutoff), logx.Duration("took", time.Since(start)))
}
