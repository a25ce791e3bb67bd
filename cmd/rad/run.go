package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jalho/rad/internal/config"
	"github.com/jalho/rad/internal/env"
	"github.com/jalho/rad/internal/history/factory"
	"github.com/jalho/rad/internal/logger"
	"github.com/jalho/rad/internal/metrics"
	"github.com/jalho/rad/internal/output"
	"github.com/jalho/rad/internal/server"
	"github.com/jalho/rad/internal/supervisor"
)

func runCommand(cmd *cobra.Command, flags *GlobalFlags) error {
	cfg, err := loadConfig(cmd, flags.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := env.New()
	e.FromOS()
	return runSupervisor(ctx, cfg, e, log)
}

func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	v := config.NewViper()
	for flag, key := range runFlagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return config.LoadWith(v, path)
}

// runSupervisor wires sinks, metrics and the admin API around one
// supervisor and blocks until ctx is done or the server cannot be launched.
func runSupervisor(ctx context.Context, cfg *config.Config, e *env.Env, log *slog.Logger) error {
	sc, err := cfg.Resolve(e)
	if errors.Is(err, config.ErrMissingPassword) {
		log.Info("remote console password not set, nothing to supervise",
			"variable", cfg.RCON.PasswordEnv)
		return nil
	}
	if err != nil {
		return err
	}

	checker, err := cfg.Checker()
	if err != nil {
		return err
	}
	loc, err := cfg.NewLocator()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithTerminator(supervisor.NameTerminator{Locator: loc, Name: sc.ProcessName}),
	}

	if len(cfg.History.DSNs) > 0 {
		sinks, err := factory.NewSinks(cfg.History.DSNs)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer func() {
			if err := sinks.Close(); err != nil {
				log.Warn("closing history sinks", "error", err)
			}
		}()
		opts = append(opts, supervisor.WithHistory(sinks))
	}

	router := output.NewRouter()
	opts = append(opts, supervisor.WithRouter(router))

	if cfg.Output.File.Path != "" {
		fileSink, err := output.NewFileSink(cfg.Output.File, log)
		if err != nil {
			return err
		}
		defer func() { _ = fileSink.Close() }()
		router.Register(fileSink, cfg.Output.Buffer)
	}
	if cfg.Output.Log {
		router.Register(output.LogSink{Logger: log.With("component", "server"), Level: slog.LevelDebug}, cfg.Output.Buffer)
	}
	recent := output.NewRecent(cfg.Output.RecentLines)
	router.Register(recent, cfg.Output.Buffer)
	// Drain subscribers before the file sink closes.
	defer router.Close()

	sup := supervisor.New(sc, checker, opts...)

	sampler := metrics.NewSampler(cfg.Metrics.Sampler, log)
	if sampler.Enabled() {
		if err := sampler.RegisterMetrics(reg); err != nil {
			return fmt.Errorf("register sampler metrics: %w", err)
		}
		sampler.Start(ctx, func() int { return sup.Status().PID })
		defer sampler.Stop()
	}

	adminDone := make(chan error, 1)
	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	if cfg.Admin.Listen != "" {
		h := server.NewRouter(sup, "",
			server.WithRecent(recent),
			server.WithSampler(sampler),
			server.WithGatherer(reg),
			server.WithLogger(log),
		).Handler()
		srv, err := server.Listen(cfg.Admin.Listen, h, log)
		if err != nil {
			return fmt.Errorf("admin API: %w", err)
		}
		go func() { adminDone <- srv.Serve(adminCtx) }()
	} else {
		adminDone <- nil
	}

	runErr := sup.Run(ctx)
	stopAdmin()
	if err := <-adminDone; err != nil {
		log.Warn("admin API stopped with error", "error", err)
	}

	var sf *supervisor.SpawnFailure
	if errors.As(runErr, &sf) {
		log.Error("server could not be launched", logger.Chain(runErr))
		return runErr
	}
	return runErr
}
