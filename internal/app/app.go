// Package app wires config, storage, the Telegram adapter and the
// giveaway engine into one process lifecycle.
package app

import (
	"context"
	"time"

	"gwybot/internal/activity"
	"gwybot/internal/commands"
	"gwybot/internal/config"
	"gwybot/internal/giveaway"
	"gwybot/internal/runtime/supervisor"
	"gwybot/internal/storage"
	kit "gwybot/internal/transport"
	telegram "gwybot/internal/transport/telegram"
	logx "gwybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	adapter  *telegram.Adapter
	trackers *activity.Trackers
	mgr      *giveaway.Manager
	router   *commands.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	failsafe, err := config.Duration("giveaways.failsafe_interval", cfg.Giveaways.FailsafeInterval, 60*time.Second)
	if err != nil {
		return nil, err
	}
	completeTimeout, err := config.Duration("giveaways.complete_timeout", cfg.Giveaways.CompleteTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}

	trackers := activity.New(store, log.With(logx.String("comp", "activity")))
	mgr := giveaway.New(giveaway.Config{
		FailsafeInterval: failsafe,
		CompleteTimeout:  completeTimeout,
	}, store, ad, trackers, log.With(logx.String("comp", "giveaway")))
	router := commands.New(mgr, store, trackers, ad, log.With(logx.String("comp", "commands")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		trackers: trackers,
		mgr:      mgr,
		router:   router,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Rebuild completion timers before any update can race them.
	if err := a.mgr.LoadGiveaways(ctx); err != nil {
		return err
	}
	if err := a.mgr.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("commands.dispatch", func(c context.Context) {
		a.router.Run(c, a.updates)
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	cfgCh := a.cfgm.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(cfgCh)
		old := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.applyConfig(old, cfg)
				old = cfg
			}
		}
	})

	a.log.Info("started")
	return nil
}

// applyConfig hot-applies what is safe to change at runtime. Logging is
// applied in place; everything else needs a restart and is only logged.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		default:
			a.log.Warn("config section needs restart to apply", logx.String("section", section))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	a.mgr.Stop(ctx)

	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.store.Close(); cerr != nil {
		a.log.Warn("storage close", logx.Err(cerr))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
