package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"voxelswarm.ai/internal/capability/wscap"
	"voxelswarm.ai/internal/catalog"
	"voxelswarm.ai/internal/config"
	"voxelswarm.ai/internal/journal"
	"voxelswarm.ai/internal/logging"
	"voxelswarm.ai/internal/names"
	"voxelswarm.ai/internal/pool"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pool and keep it filled until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPool(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "pool.yaml", "pool config file (.yaml, .toml or .json)")
	return cmd
}

func runPool(cfgPath string) error {
	cfg, problems := config.Load(cfgPath)
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
	for _, p := range problems {
		logger.Warn("config", "path", cfgPath, "problem", p)
	}

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		logger.Warn("catalog override ignored", "path", cfg.Catalog, "err", err)
		cat = catalog.Default()
	}

	var rec journal.Recorder = journal.Nop{}
	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir, cfg.Journal.IndexDB, logger)
		if err != nil {
			logger.Warn("journal disabled", "dir", cfg.Journal.Dir, "err", err)
		} else {
			defer closeJournal(j, logger)
			rec = j
		}
	}

	dialer, err := wscap.NewDialer(wscap.Options{URL: cfg.ServerURL(), Logger: logger})
	if err != nil {
		return fmt.Errorf("dialer: %w", err)
	}

	m := pool.New(pool.Options{
		Config:  cfg,
		Dialer:  dialer,
		Names:   names.NewGenerator(cfg.NameServiceURL(), cfg.NameServiceTimeout(), logger),
		Catalog: cat,
		Journal: rec,
		Logger:  logger,
	})

	ctx, cancel := signalContext()
	defer cancel()
	return m.Run(ctx)
}

func closeJournal(j *journal.Journal, logger *slog.Logger) {
	if idx := j.Index(); idx != nil && idx.Dropped() > 0 {
		logger.Warn("journal index dropped events", "count", idx.Dropped())
	}
	if err := j.Close(); err != nil {
		logger.Warn("journal close", "err", err)
	}
}
