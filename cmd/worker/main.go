// Command worker runs the stateless MapReduce worker loop described in
// spec 4.3, applying the word-count application's Map/Reduce functions
// against whatever coordinator it is pointed at.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xzhseh/mrlease/internal/config"
	"github.com/xzhseh/mrlease/internal/wordcount"
	"github.com/xzhseh/mrlease/internal/worker"
)

var (
	coordinatorAddr string
	logLevel        string
	configPath      string
)

func main() {
	root := &cobra.Command{
		Use:   "worker <n_map> <n_reduce>",
		Short: "Run a MapReduce worker",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}

	flags := root.Flags()
	flags.StringVar(&coordinatorAddr, "coordinator", "", "coordinator RPC address (default 127.0.0.1:1030)")
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

	cfg, err := config.LoadWorkerConfig(configPath,
		config.WithCoordinatorAddr(coordinatorAddr),
		config.WithWorkerLogLevel(logLevel),
	)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	return worker.Run(worker.Config{
		NMap:            nMap,
		NReduce:         nReduce,
		CoordinatorAddr: cfg.CoordinatorAddr,
		PollInterval:    cfg.PollInterval,
		MapFn:           wordcount.Map,
		ReduceFn:        wordcount.Reduce,
		Logger:          log,
	})
}
