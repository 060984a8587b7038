// Package app wires configuration, storage, the decision engine and the
// player together for the one-shot hook path and the daemon.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"ccbell/internal/config"
	"ccbell/internal/engine"
	"ccbell/internal/event"
	"ccbell/internal/eventbus"
	"ccbell/internal/metrics"
	"ccbell/internal/notifier"
	rtsup "ccbell/internal/runtime/supervisor"
	"ccbell/internal/server"
	"ccbell/internal/storage"
	logx "ccbell/pkg/logx"
)

// Mode selects how the app runs.
type Mode int

const (
	// ModeHook handles one event per process and persists synchronously.
	ModeHook Mode = iota
	// ModeServe is the long-running daemon.
	ModeServe
	// ModeStatus only reads state.
	ModeStatus
)

const persistTimeout = 2 * time.Second

type Option func(*appOptions)

type appOptions struct {
	player notifier.Player
	now    func() time.Time
}

// WithPlayer replaces the command player (tests, embedding).
func WithPlayer(p notifier.Player) Option { return func(o *appOptions) { o.player = p } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *appOptions) { o.now = now } }

type App struct {
	mode        Mode
	cfgm        *config.ConfigManager
	usedDefault bool

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	storeCfg storage.Config

	engine *engine.Engine
	notif  *notifier.Service
	now    func() time.Time

	persistCh    <-chan eventbus.Event
	unsubPersist func()

	mu  sync.RWMutex
	cfg *config.Config

	sup     *rtsup.Supervisor
	started time.Time
}

// New loads the configuration (falling back to defaults when the file is
// missing) and builds every component for mode.
func New(ctx context.Context, cfgPath string, mode Mode, opts ...Option) (*App, error) {
	var o appOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	cfgm := config.NewConfigManager(cfgPath)
	// transactional config reload: compile before commit/publish
	cfgm.SetValidator(validateConfig)
	cfg, usedDefault, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg, mode))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	if usedDefault {
		log.Debug("no config file; using defaults", logx.String("path", cfgPath))
	}

	a := &App{
		mode:        mode,
		cfgm:        cfgm,
		usedDefault: usedDefault,
		log:         log,
		logs:        logSvc,
		bus:         eventbus.New(),
		now:         o.now,
		cfg:         cfg,
	}

	// Storage (optional). Only the daemon treats a broken store as fatal;
	// a hook must still answer.
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		switch {
		case err != nil && mode == ModeServe:
			logSvc.Close()
			return nil, err
		case err != nil:
			log.Warn("storage unavailable; cooldowns will not persist", logx.String("storage", describeStorage(sc)), logx.Err(err))
		default:
			a.store, a.storeCfg = st, sc
		}
	}

	var seed map[event.Type]time.Time
	if a.store != nil {
		lctx, cancel := context.WithTimeout(ctx, persistTimeout)
		seed, err = a.store.LoadCooldowns(lctx)
		cancel()
		if err != nil {
			log.Warn("loading cooldowns failed; starting fresh", logx.Err(err))
			seed = nil
		}
	}

	policy, err := engine.Compile(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine, err = engine.New(policy,
		engine.WithBus(a.bus),
		engine.WithLogger(log.With(logx.String("comp", "engine"))),
		engine.WithSeed(seed),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.persistCh, a.unsubPersist = a.bus.Subscribe(256, engine.TopicCooldownRecorded, engine.TopicDecision)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.notif = notifier.New(ncfg, o.player, log.With(logx.String("comp", "notifier")), a.bus)
	return a, nil
}

// validateConfig is the reload gate: a config that does not compile is never
// committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := engine.Compile(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := mapNotifierConfig(cfg)
	return err
}

func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Engine() *engine.Engine { return a.engine }

// UsedDefaults reports whether no config file was found.
func (a *App) UsedDefaults() bool { return a.usedDefault }

// HandleEvent decides one event and, on allow, plays its sound. In hook mode
// the resulting state is persisted before returning.
func (a *App) HandleEvent(ctx context.Context, override event.Type, p event.HookPayload) (engine.Verdict, error) {
	now := a.now()
	d, err := p.ToData(override, now)
	if err != nil {
		return engine.Verdict{}, err
	}
	v := a.engine.Decide(d.Type, d, now)

	if a.mode != ModeServe {
		a.flushPersist(ctx)
	}
	if v.Allow {
		a.play(ctx, v)
	}
	return v, nil
}

// HandleHook reads a hook payload from in and writes the verdict as one JSON
// line to out.
func (a *App) HandleHook(ctx context.Context, override string, in io.Reader, out io.Writer) (engine.Verdict, error) {
	p, err := event.DecodeHook(in)
	if err != nil {
		return engine.Verdict{}, err
	}
	v, err := a.HandleEvent(ctx, event.ParseType(override), p)
	if err != nil {
		return engine.Verdict{}, err
	}
	if out != nil {
		if err := json.NewEncoder(out).Encode(v); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (a *App) play(ctx context.Context, v engine.Verdict) {
	req := notifier.Request{
		EventType: v.EventType,
		EventID:   v.EventID,
		Sound:     v.Sound,
		Volume:    v.Volume,
		At:        v.At,
	}
	var err error
	if a.mode == ModeServe {
		err = a.notif.Enqueue(ctx, req)
	} else {
		err = a.notif.PlayNow(ctx, req)
	}
	if err != nil && !errors.Is(err, notifier.ErrDisabled) {
		a.log.Warn("play failed", logx.String("event_type", string(v.EventType)), logx.Err(err))
	}
}

// flushPersist writes everything the engine published so far.
func (a *App) flushPersist(ctx context.Context) {
	for _, ev := range eventbus.Drain(a.persistCh) {
		a.persist(ctx, ev)
	}
}

// persistLoop is the daemon's storage writer.
func (a *App) persistLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// Shutdown must not lose the last cooldowns.
			a.flushPersist(context.Background())
			return nil
		case ev, ok := <-a.persistCh:
			if !ok {
				return nil
			}
			a.persist(ctx, ev)
		}
	}
}

func (a *App) persist(ctx context.Context, ev eventbus.Event) {
	if a.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	var err error
	switch d := ev.Data.(type) {
	case engine.CooldownRecorded:
		err = a.store.PutCooldown(pctx, d.EventType, d.At)
	case engine.Verdict:
		if !auditEnabled(a.Config()) {
			return
		}
		err = a.store.AppendAudit(pctx, storage.AuditEntry{
			At:          d.At,
			EventID:     d.EventID,
			EventType:   d.EventType,
			Allow:       d.Allow,
			Reason:      string(d.Reason),
			Filter:      d.Filter,
			RemainingMS: d.Remaining.Milliseconds(),
		})
	default:
		return
	}
	if err != nil {
		metrics.RecordPersistError()
		a.log.Warn("persist failed", logx.String("topic", ev.Type), logx.Err(err))
	}
}

func (a *App) Status(now time.Time) engine.Status { return a.engine.Status(now) }

func (a *App) History() []notifier.HistoryItem { return a.notif.History() }

func (a *App) Audit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentAudit(ctx, limit)
}

func (a *App) Health() server.Health {
	h := server.Health{Status: "ok", Config: a.cfgm.Path()}
	if a.usedDefault {
		h.Config = "defaults"
	}
	if !a.started.IsZero() {
		h.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	tasks := map[string][]rtsup.TaskStats{}
	if a.sup != nil {
		tasks["app"] = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			h.Status = "degraded"
			h.Error = err.Error()
		}
	}
	if sup := a.notif.Supervisor(); sup != nil {
		tasks["player"] = sup.Snapshot()
	}
	h.Tasks = tasks
	return h
}

// Close releases storage and log files. It is safe to call more than once.
func (a *App) Close() {
	if a.unsubPersist != nil {
		a.unsubPersist()
		a.unsubPersist = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
