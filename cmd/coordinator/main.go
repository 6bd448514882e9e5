// Command coordinator starts the MapReduce coordinator described in spec
// 4.1/4.2/4.4: it accepts worker registrations, dispatches map and reduce
// tasks, sweeps expired leases, and optionally persists a recoverable log
// and serves Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xzhseh/mrlease/internal/config"
	"github.com/xzhseh/mrlease/internal/coordinator"
	"github.com/xzhseh/mrlease/internal/job"
	"github.com/xzhseh/mrlease/internal/persist"
)

var (
	listenAddr    string
	leaseDuration time.Duration
	sweepInterval time.Duration
	walPath       string
	metricsAddr   string
	logLevel      string
	configPath    string
)

func main() {
	root := &cobra.Command{
		Use:   "coordinator <n_map> <n_reduce> <n_worker>",
		Short: "Run a MapReduce coordinator",
		Args:  cobra.ExactArgs(3),
		RunE:  run,
	}

	flags := root.Flags()
	flags.StringVar(&listenAddr, "listen", "", "RPC listen address (default 127.0.0.1:1030)")
	flags.DurationVar(&leaseDuration, "lease-duration", 0, "task lease duration")
	flags.DurationVar(&sweepInterval, "sweep-interval", 0, "lease sweeper interval")
	flags.StringVar(&walPath, "wal", "", "write-ahead log path (empty disables persistence)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (empty disables)")
	flags.StringVar(&logLevel, "log-level", "", "zerolog level: debug, info, warn, error")
	flags.StringVar(&configPath, "config", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	nMap, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("n_map: %w", err)
	}
	nReduce, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("n_reduce: %w", err)
	}
	nWorker, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("n_worker: %w", err)
	}

	cfg, err := config.LoadCoordinatorConfig(configPath,
		config.WithListenAddr(listenAddr),
		config.WithLeaseDuration(leaseDuration),
		config.WithSweepInterval(sweepInterval),
		config.WithWAL(walPath),
		config.WithMetricsAddr(metricsAddr),
		config.WithLogLevel(logLevel),
	)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	var p persist.Persister = persist.NoopPersister{}
	var j *job.Job
	if cfg.WALPath != "" {
		wal, err := persist.NewFileWAL(cfg.WALPath)
		if err != nil {
			return fmt.Errorf("open wal: %w", err)
		}
		p = wal
		if snapshot, ok, err := wal.Load(); err != nil {
			return fmt.Errorf("load wal: %w", err)
		} else if ok {
			log.Info().Str("path", cfg.WALPath).Msg("recovered job state from write-ahead log")
			j = job.Restore(snapshot, nMap, nReduce, nWorker)
		}
	}
	if j == nil {
		j = job.New(nMap, nReduce, nWorker)
	}

	c := coordinator.New(j, coordinator.Config{
		LeaseDuration: cfg.LeaseDuration,
		Persister:     p,
		Logger:        log,
	})

	if err := c.ListenAndServe(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := c.Metrics().Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().Int("n_map", nMap).Int("n_reduce", nReduce).Int("n_worker", nWorker).Msg("coordinator running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("received shutdown signal")
			return nil
		case <-ticker.C:
			c.Sweep()
			if c.Done() {
				log.Info().Msg("job finished")
				return nil
			}
		}
	}
}
