// Package app wires the publish pipeline together and owns its lifecycle.
package app

import (
	"context"
	"time"

	"pubmatrix/internal/config"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/health"
	"pubmatrix/internal/notifier"
	"pubmatrix/internal/orchestrator"
	"pubmatrix/internal/reconcile"
	rtsup "pubmatrix/internal/runtime/supervisor"
	"pubmatrix/internal/storage"
	"pubmatrix/internal/task/engine"
	"pubmatrix/internal/task/scheduler"
	logx "pubmatrix/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *rtsup.Supervisor
	serving bool

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	repo storage.Repository

	exec   *engine.Service
	sched  *scheduler.Service
	rec    *reconcile.Reconciler
	orch   *orchestrator.Orchestrator
	health *health.Monitor
	notif  *notifier.Service
}

func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

func (a *App) Health() *health.Monitor { return a.health }

func (a *App) Log() logx.Logger { return a.log }

// Location is the scheduler timezone.
func (a *App) Location() *time.Location { return a.sched.Location() }

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

// Start runs the daemon: executor, notifier, stranded-item recovery, every
// trigger and the config watcher.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.serving = true
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.exec.Start(run)
	a.notif.Start(run)

	// reported only; an operator resolves them
	if stranded, err := a.orch.Stranded(run); err != nil {
		a.log.Error("stranded item scan failed", logx.Err(err))
	} else if len(stranded) > 0 {
		a.log.Warn("stranded items found at startup", logx.Int("count", len(stranded)))
	}

	if err := a.registerTriggers(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(run)

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
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// StartCommand starts only the lane executor, which is all a one-off CLI
// command needs. Triggers and notifications stay with the daemon.
func (a *App) StartCommand(ctx context.Context) {
	if a.sup != nil {
		return
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.exec.Start(a.sup.Context())
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	if a.serving {
		a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	a.step(ctx, "executor", 3*time.Second, a.exec.Stop)
	if a.serving {
		a.step(ctx, "notifier", time.Second, a.notif.Stop)
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.repo.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rtsup.Call(func() error { return fn(stepCtx) }) }()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// pokeDue runs the due check early after something was scheduled. Without
// the adaptive trigger (one-off commands) it is a no-op.
func (a *App) pokeDue() {
	if err := a.sched.RunNow(context.Background(), orchestrator.DueTrigger); err != nil {
		a.log.Debug("due check not armed", logx.Err(err))
	}
}
