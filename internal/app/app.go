package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"starwatch/internal/config"
	"starwatch/internal/eventbus"
	"starwatch/internal/poller"
	"starwatch/internal/runtime/supervisor"
	"starwatch/internal/surface"
	"starwatch/pkg/logx"
)

// App is the long-running daemon: the poller graph plus config hot reload,
// audit recording and systemd integration.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	comp *Components

	// applyMu serializes notification on/off transitions; gen invalidates
	// an enable that is still waiting on a consent prompt.
	applyMu sync.Mutex
	gen     uint64
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	// Items published before the process started are history, not news.
	comp, err := Build(cfg, time.Now(), eventbus.New(), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		comp: comp,
	}, nil
}

func (a *App) Components() *Components { return a.comp }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	if err := a.comp.Surface.Start(c); err != nil {
		if !errors.Is(err, surface.ErrUnsupported) {
			return fmt.Errorf("start surface %s: %w", a.comp.Surface.Name(), err)
		}
		// The gate reports Unsupported; polling still runs so history stays current.
		a.log.Warn("surface unavailable; alerts disabled", logx.String("surface", a.comp.Surface.Name()), logx.Err(err))
	}
	st := a.comp.Gate.Refresh(c)
	a.log.Info("permission", logx.String("surface", a.comp.Surface.Name()), logx.String("state", st.String()))

	events, unsub := a.comp.Bus.Subscribe(128)
	a.sup.Go("audit", func(c context.Context) error {
		defer unsub()
		auditLoop(c, events, a.comp.Store, a.log.With(logx.String("comp", "audit")))
		return nil
	})

	cfg := a.cfgm.Get()
	a.applyNotifications(c, cfg.Notifications)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if every := watchdogInterval(a.log); every > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return watchdogLoop(c, every, a.log)
		})
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("surface", a.comp.Surface.Name()),
		logx.Bool("notifications", cfg.Notifications.Enabled),
		logx.Int("interval_minutes", cfg.Notifications.IntervalMinutes),
	)
	return nil
}

// applyNotifications moves the poller to the requested on/off state. Turning
// on asks for consent first (when undecided) and then arms the schedule.
func (a *App) applyNotifications(ctx context.Context, n config.NotificationsConfig) {
	a.applyMu.Lock()
	a.gen++
	gen := a.gen
	if !n.Enabled {
		defer a.applyMu.Unlock()
		if !a.comp.Scheduler.Running() {
			return
		}
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = a.comp.Scheduler.Stop(stopCtx)
		a.log.Info("notifications disabled")
		return
	}
	a.applyMu.Unlock()

	a.sup.Go("notifications.enable", func(c context.Context) error {
		if a.comp.Gate.Query() == poller.PermissionUnknown {
			st := a.comp.Gate.RequestConsent(c)
			a.log.Info("consent request finished", logx.String("state", st.String()))
		}

		a.applyMu.Lock()
		defer a.applyMu.Unlock()
		if a.gen != gen || c.Err() != nil {
			return nil
		}
		interval := n.Interval()
		if a.comp.Scheduler.Running() && a.comp.Scheduler.Interval() == interval {
			return nil
		}
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		defer cancel()
		if err := a.comp.Scheduler.Restart(stopCtx, interval); err != nil {
			a.log.Warn("poller start failed", logx.Duration("interval", interval), logx.Err(err))
			return nil
		}
		a.log.Info("notifications enabled", logx.Duration("interval", interval))
		return nil
	})
}

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config, lastApplied *config.Config) {
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case config.SectionLogging:
			a.logs.Apply(mapLogConfig(newCfg))
		case config.SectionNotifications:
			a.applyNotifications(c, newCfg.Notifications)
		}
	}
	if pending := config.RequiresRestart(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

// Run starts the app and blocks until ctx is done or a fatal error stops
// the supervisor, then shuts down within grace.
func (a *App) Run(ctx context.Context, grace time.Duration) error {
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = a.Stop(stopCtx, StopFatalError)
		return err
	}

	reason := StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, note the leak and move on.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// The scheduler goes first so no alert is presented on a closing surface.
	step("scheduler", 3*time.Second, a.comp.Scheduler.Stop)
	step("surface", 3*time.Second, a.comp.Surface.Stop)
	// Wait for supervised goroutines (audit, config watch/reload) before the store closes.
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error {
		if a.comp.Store != nil {
			return a.comp.Store.Close()
		}
		return nil
	})

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Uint64("goroutines_started", c.Started), logx.Int64("goroutines_active", c.Active))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
