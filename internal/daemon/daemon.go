package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"dirigent/internal/config"
	"dirigent/internal/eventbus"
	"dirigent/internal/history"
	"dirigent/pkg/cron"
	logx "dirigent/pkg/logx"
	"dirigent/pkg/supervisor"
)

const defaultShutdownGrace = 10 * time.Second

type Daemon struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	journal *history.Journal
	runtime *supervisor.Runtime
	sched   *cron.Scheduler

	// grace is hot-reloadable, hence atomic.
	grace atomic.Int64
}

// New loads and validates the config, builds the logging service, the
// history journal, the supervision runtime, and the cron scheduler, and
// registers every configured service and job.
func New(cfgPath string) (*Daemon, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bus := eventbus.New()
	logSvc, log := logx.New(mapLogConfig(cfg.Logging), bus)
	log = log.With(logx.String("comp", "daemon"))

	grace, err := config.ParseDurationOrDefault("shutdown_grace", cfg.ShutdownGrace, defaultShutdownGrace)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	journal, err := history.Open(mapHistoryConfig(cfg.History), log.With(logx.String("comp", "history")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	if journal != nil {
		log.Info("history journal enabled", logx.String("path", cfg.History.Path))
	}

	rt := supervisor.NewRuntime(
		supervisor.WithLogger(log.With(logx.String("comp", "supervisor"))),
		supervisor.WithBus(bus),
	)
	for _, sc := range cfg.Services {
		task, err := newExecTask(sc, log)
		if err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("service %s: %w", sc.ID, err)
		}
		if err := rt.Register(task); err != nil {
			logSvc.Close()
			return nil, err
		}
	}

	sched := cron.NewScheduler(
		cron.WithLogger(log.With(logx.String("comp", "cron"))),
		cron.WithBus(bus),
	)
	for _, jc := range cfg.Jobs {
		if err := addJob(sched, jc, log); err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("job %s: %w", jc.ID, err)
		}
	}

	d := &Daemon{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		journal: journal,
		runtime: rt,
		sched:   sched,
	}
	d.grace.Store(int64(grace))
	return d, nil
}

func addJob(sched *cron.Scheduler, jc config.JobConfig, log logx.Logger) error {
	schedule, err := cron.Parse(jc.Schedule)
	if err != nil {
		return err
	}
	job := &execJob{cfg: jc, log: log.With(logx.String("job", jc.ID))}
	opts := []cron.JobOption{cron.WithDescription(jc.Description)}
	if jc.Blocking {
		return sched.AddJob(cron.NewBlockingFuncJob(jc.ID, jc.Name, schedule, func() error {
			return job.runOnce(context.Background())
		}, opts...))
	}
	return sched.AddJob(cron.NewFuncJob(jc.ID, jc.Name, schedule, job.runOnce, opts...))
}

// Run starts everything and blocks until ctx is cancelled or a fatal
// component error occurs, then performs a bounded shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if d.journal != nil {
		g.Go(func() error {
			d.journal.Consume(gctx, d.bus)
			return nil
		})
	}

	// Config hot reload: only logging and shutdown_grace apply live.
	// Service and job changes need a restart; the reload loop says so.
	d.cfgm.SetLogger(d.log.With(logx.String("comp", "config")))
	d.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	sub := d.cfgm.Subscribe(8)
	g.Go(func() error {
		defer d.cfgm.Unsubscribe(sub)
		d.reloadLoop(gctx, sub)
		return nil
	})
	g.Go(func() error {
		return d.cfgm.Watch(gctx)
	})

	if d.runtime.TaskCount() > 0 {
		if err := d.runtime.StartAll(gctx); err != nil {
			return err
		}
	}
	if d.sched.JobCount() > 0 {
		g.Go(func() error {
			return d.sched.Run(gctx)
		})
	}

	d.log.Info("daemon started",
		logx.Int("services", d.runtime.TaskCount()),
		logx.Int("jobs", d.sched.JobCount()),
	)

	<-gctx.Done()
	d.stop()

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *Daemon) stop() {
	grace := time.Duration(d.grace.Load())
	d.log.Info("daemon stopping", logx.Duration("grace", grace))
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if d.runtime.TaskCount() > 0 {
		if err := d.runtime.Shutdown(stopCtx); err != nil {
			d.log.Warn("supervisor shutdown incomplete", logx.Err(err))
		}
	}
	if err := d.sched.Drain(stopCtx); err != nil {
		d.log.Warn("cron drain incomplete", logx.Err(err))
	}
	if err := d.journal.Close(); err != nil {
		d.log.Warn("history close failed", logx.Err(err))
	}

	d.log.Info("daemon stopped")
	d.logs.Close()
}

// Health reports per-service health, keyed by service id.
func (d *Daemon) Health(ctx context.Context) map[string]supervisor.HealthStatus {
	return d.runtime.Health(ctx)
}

func (d *Daemon) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := d.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
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
			sections, attrs, touched := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				d.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			d.logs.Apply(mapLogConfig(newCfg.Logging))

			if grace, err := config.ParseDurationOrDefault("shutdown_grace", newCfg.ShutdownGrace, defaultShutdownGrace); err == nil {
				d.grace.Store(int64(grace))
			}

			for _, s := range sections {
				switch s {
				case "services", "jobs", "history":
					d.log.Warn("config section changed; restart required to take effect",
						logx.String("section", s),
						logx.Any("ids", touched),
					)
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			d.log.Info("config reloaded", fields...)
		}
	}
}

func mapLogConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Bus: logx.BusConfig{
			Enabled:    lc.Bus.Enabled,
			MinLevel:   lc.Bus.MinLevel,
			RatePerSec: lc.Bus.RatePerSec,
		},
	}
}

func mapHistoryConfig(hc *config.HistoryConfig) history.Config {
	if hc == nil {
		return history.Config{}
	}
	return history.Config{
		Enabled: hc.Enabled,
		Path:    hc.Path,
	}
}
