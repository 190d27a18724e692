package main

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/shopwalk/internal/config"
	"github.com/gotrs-io/shopwalk/internal/harness"
	"github.com/gotrs-io/shopwalk/internal/monitor"
	"github.com/gotrs-io/shopwalk/internal/runner"
	"github.com/gotrs-io/shopwalk/internal/runner/tasks"
	"github.com/gotrs-io/shopwalk/internal/runstore"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the journey on a schedule and serve health and metrics",
	Long: `Watch runs the journey on the configured cron schedule, never
overlapping two runs, and serves /healthz, /metrics and the run history
over HTTP. Edits to the config file apply from the next run.`,
	RunE: runWatch,
}

var (
	scheduleFlag string
	listenFlag   string
)

func init() {
	watchCmd.Flags().StringVar(&scheduleFlag, "schedule", "", "Cron expression, e.g. \"*/15 * * * *\" or \"@every 30m\"")
	watchCmd.Flags().StringVar(&listenFlag, "listen", "", "Monitor listen address, e.g. :9464")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m := current.manager
	if cmd.Flags().Changed("schedule") {
		m.Viper().Set("watch.schedule", scheduleFlag)
	}
	if cmd.Flags().Changed("listen") {
		m.Viper().Set("watch.listen", listenFlag)
	}
	if err := m.Load(configPathFlag, envFileFlag); err != nil {
		return err
	}
	cfg := m.Get()
	logger := current.logger

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	runMetrics := runner.NewMetrics(reg)
	harnessMetrics := harness.NewMetrics(reg)

	exec, cleanup, err := newExecutor(ctx, cfg, logger, runMetrics, harnessMetrics)
	if err != nil {
		return err
	}
	defer cleanup()

	journeyTask := tasks.NewJourneyTask(exec, cfg.Watch.Schedule, cfg.Watch.RunTimeout, logger)
	if lc := cfg.Watch.Lock; lc.RedisAddr != "" {
		client, err := runner.DialRedis(ctx, lc.RedisAddr, lc.Password, lc.DB)
		if err != nil {
			return err
		}
		defer client.Close()
		journeyTask.WithLock(runner.NewRedisLocker(client, lc.Key, lc.TTL))
		logger.Info("journey runs are serialized through redis",
			zap.String("addr", lc.RedisAddr), zap.String("key", lc.Key))
	}

	registry := runner.NewTaskRegistry()
	registry.MustRegister(journeyTask)

	var history monitor.RunSource
	if rs, ok := exec.Runs.(*runstore.Store); ok {
		history = rs
		if cfg.History.Retention > 0 && cfg.Watch.PruneSchedule != "" {
			registry.MustRegister(tasks.NewPruneTask(rs, exec.Store, cfg.History.Retention, cfg.Watch.PruneSchedule, logger))
		}
	}

	r := runner.NewRunner(registry,
		runner.WithLogger(logger.Named("runner")),
		runner.WithMetrics(runMetrics),
		runner.WithRunOnStart(cfg.Watch.RunOnStart))

	m.Watch(func(c *config.Config) {
		logger.Info("configuration reloaded, changes apply from the next run",
			zap.String("base_url", c.Harness.BaseURL),
			zap.Strings("products", c.Journey.Products))
	})

	var tokens *monitor.TokenManager
	if cfg.Watch.TokenSecret != "" {
		tokens = monitor.NewTokenManager(cfg.Watch.TokenSecret, 0)
	}
	srv := monitor.New(monitor.Options{
		Runs:      history,
		Scheduler: r,
		Store:     exec.Store,
		Gatherer:  reg,
		Tokens:    tokens,
		Logger:    logger.Named("monitor"),
	})
	exec.OnResult = func(res *runner.Result) { srv.PublishRun(res.Run) }

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		errs[0] = r.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		errs[1] = srv.ListenAndServe(ctx, cfg.Watch.Listen, cfg.Watch.ShutdownTimeout)
	}()
	wg.Wait()

	logger.Info("watch stopped")
	return errors.Join(errs...)
}
