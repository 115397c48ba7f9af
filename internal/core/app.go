// Package core wires the application: config, logging, storage, the
// scan scheduler, the monitoring services, and the delivery pipeline.
package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"anchorwatch/internal/alert"
	"anchorwatch/internal/channel"
	"anchorwatch/internal/config"
	"anchorwatch/internal/dispatch"
	"anchorwatch/internal/geofence"
	"anchorwatch/internal/httpapi"
	"anchorwatch/internal/intel"
	"anchorwatch/internal/logx"
	"anchorwatch/internal/scheduler"
	"anchorwatch/internal/storage"
	"anchorwatch/internal/trigger"
)

// Scan cadences. Fixed in code rather than config: they encode the
// domain's freshness requirements, not deployment preferences.
const (
	geofenceScanEvery   = 10 * time.Minute
	etaRefreshEvery     = 30 * time.Minute
	overdueSweepEvery   = time.Hour
	congestionSnapEvery = time.Hour
	intelBackfillEvery  = 15 * time.Minute
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store      *storage.Store
	sched      *scheduler.Service
	monitor    *geofence.Monitor
	aggregator *intel.Aggregator
	engine     *trigger.Engine
	composer   *alert.Composer
	dispatcher *dispatch.Dispatcher
	api        *httpapi.Server

	httpAddr string
	cancel   context.CancelFunc
	apiDone  chan struct{}
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
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
	cfgm.SetValidator(config.Validate)

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
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

	schedTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: schedTimeout,
		HistorySize:    cfg.Scheduler.HistorySize,
		RetryMax:       cfg.Scheduler.RetryMax,
		Timezone:       cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	monitor := geofence.NewMonitor(store, store, log.With(logx.String("comp", "geofence")))
	aggregator := intel.NewAggregator(store, store, nil, log.With(logx.String("comp", "intel")))
	composer := alert.NewComposer(store, log.With(logx.String("comp", "composer")))
	engine := trigger.NewEngine(store, composer, log.With(logx.String("comp", "trigger")))
	engine.SetMaxDeliveryAttempts(cfg.Dispatch.MaxAttempts)

	dispatchCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	registry := channel.RegistryFromConfig(cfg.Channels,
		&http.Client{Timeout: dispatchCfg.ChannelTimeout + 5*time.Second},
		log.With(logx.String("comp", "channel")))
	dispatcher := dispatch.New(store, registry, dispatchCfg, log.With(logx.String("comp", "dispatch")))

	api := httpapi.NewServer(store, engine, dispatcher, composer, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		logs:       logSvc,
		log:        log,
		store:      store,
		sched:      sched,
		monitor:    monitor,
		aggregator: aggregator,
		engine:     engine,
		composer:   composer,
		dispatcher: dispatcher,
		api:        api,
		httpAddr:   cfg.HTTP.Addr,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	retryBase, err := config.ParseDurationOrDefault("dispatch.retry_base", cfg.Dispatch.RetryBase, 5*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	pollInterval, err := config.ParseDurationOrDefault("dispatch.poll_interval", cfg.Dispatch.PollInterval, 2*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	channelTimeout, err := config.ParseDurationOrDefault("dispatch.channel_timeout", cfg.Dispatch.ChannelTimeout, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		RetryBase:      retryBase,
		PollInterval:   pollInterval,
		ChannelTimeout: channelTimeout,
	}, nil
}

// Start registers the scan jobs and launches every service.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.registerScans(); err != nil {
		return err
	}

	if err := a.dispatcher.Start(runCtx); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	if a.httpAddr != "" {
		a.apiDone = make(chan struct{})
		go func() {
			defer close(a.apiDone)
			if err := a.api.Serve(runCtx, a.httpAddr); err != nil {
				a.log.Error("ops api exited", logx.Err(err))
			}
		}()
	}

	// Config hot reload: logging applies live; anything else needs a
	// restart and says so.
	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.cfgm.Unsubscribe(sub)
		prevCfg := a.cfgm.Get()
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				changed, attrs := config.SummarizeConfigChange(prevCfg, newCfg)
				prevCfg = newCfg
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded; logging applied live, other sections need restart",
					append(attrs, logx.Any("changed", changed))...)
			}
		}
	}()
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// registerScans wires every recurring job onto the scheduler.
func (a *App) registerScans() error {
	jobs := []struct {
		name  string
		every time.Duration
		run   func(ctx context.Context) error
	}{
		{"geofence.scan", geofenceScanEvery, func(ctx context.Context) error {
			results, err := a.monitor.Scan(ctx)
			if err != nil {
				return err
			}
			// New arrivals get their intelligence immediately so the first
			// proximity alert carries context.
			for _, r := range results {
				if !r.Created {
					continue
				}
				if _, err := a.aggregator.Generate(ctx, r.ArrivalID); err != nil {
					a.log.Warn("initial intelligence failed",
						logx.String("arrival", r.ArrivalID), logx.Err(err))
				}
			}
			return nil
		}},
		{"geofence.eta_refresh", etaRefreshEvery, func(ctx context.Context) error {
			arrivals, err := a.store.ActiveArrivals(ctx)
			if err != nil {
				return err
			}
			a.monitor.RefreshAll(ctx, arrivals)
			return nil
		}},
		{"intel.backfill", intelBackfillEvery, func(ctx context.Context) error {
			return a.aggregator.GenerateMissing(ctx)
		}},
		{"intel.overdue_sweep", overdueSweepEvery, func(ctx context.Context) error {
			_, err := a.aggregator.SweepOverdue(ctx)
			return err
		}},
		{"intel.congestion_snapshot", congestionSnapEvery, func(ctx context.Context) error {
			return a.aggregator.SnapshotActiveDestinations(ctx)
		}},
	}
	for _, j := range jobs {
		if err := a.sched.AddInterval(j.name, j.every, 0, j.run); err != nil {
			return err
		}
	}

	for _, m := range a.engine.Monitors() {
		m := m
		name := "trigger." + string(m.Type())
		if err := a.sched.AddInterval(name, m.Cadence(), 0, func(ctx context.Context) error {
			_, err := a.engine.RunMonitor(ctx, m)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts the services down in dependency order. Each step is
// bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.cancel != nil {
		a.cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 3*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("dispatcher", 5*time.Second, func(context.Context) error { a.dispatcher.Stop(); return nil })
	if a.apiDone != nil {
		step("api", 2*time.Second, func(c context.Context) error {
			select {
			case <-a.apiDone:
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Store exposes the persistence layer for operational tooling.
func (a *App) Store() *storage.Store { return a.store }

// ScanHistory returns the recent scheduler run log.
func (a *App) ScanHistory() []scheduler.HistoryItem { return a.sched.History() }
