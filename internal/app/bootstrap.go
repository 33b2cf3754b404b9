package app

import (
	"pubmatrix/internal/adapters/browser"
	"pubmatrix/internal/adapters/command"
	"pubmatrix/internal/config"
	"pubmatrix/internal/eventbus"
	"pubmatrix/internal/health"
	"pubmatrix/internal/notifier"
	"pubmatrix/internal/orchestrator"
	"pubmatrix/internal/ports"
	"pubmatrix/internal/reconcile"
	"pubmatrix/internal/storage"
	"pubmatrix/internal/task/engine"
	"pubmatrix/internal/task/scheduler"
	logx "pubmatrix/pkg/logx"
)

// New loads the config at cfgPath and builds every component. Nothing is
// started; call Start for the daemon or StartCommand for a one-off command.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	repo, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	pl, err := mapPlanner(cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	ncfg, sinks, err := mapNotifier(cfg, root)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	exec := engine.New(mapExecutorConfig(cfg), root, bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), root)
	rec := reconcile.New(repo, root, bus)
	sessions := browser.New(mapBrowserConfig(cfg), root)

	// interfaces stay nil when unconfigured; a typed nil would not
	var checker ports.HealthChecker
	if spec := commandSpec(cfg.Adapters.Health); !spec.Empty() {
		checker = command.NewHealthChecker(spec, root)
	}
	var ingest ports.Ingestor
	if spec := commandSpec(cfg.Adapters.Ingest); !spec.Empty() {
		ingest = command.NewIngestor(spec, root)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Repo:       repo,
		Reconciler: rec,
		Executor:   exec,
		Sessions:   sessions,
		Publisher:  command.NewPublishers(publisherSpecs(cfg), root),
		Ingestor:   ingest,
		Triggers:   sched,
		Planner:    pl,
		Log:        root,
		Bus:        bus,
	})
	mon := health.New(mapHealthConfig(cfg), repo, exec, sessions, checker, root, bus)
	notif := notifier.New(ncfg, sinks, root, bus)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		repo:    repo,
		exec:    exec,
		sched:   sched,
		rec:     rec,
		orch:    orch,
		health:  mon,
		notif:   notif,
	}
	orch.OnPendingChanged(a.pokeDue)
	return a, nil
}
