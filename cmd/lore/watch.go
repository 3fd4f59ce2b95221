package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/logging"
	"github.com/lorekit/lore/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync daemon",
	Long: `Watch the knowledge repository for manual edits and keep the cache
and the team remote in sync on an interval. Runs until interrupted.

Daemon activity is logged to the configured rotating log file as well
as stderr.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	eng, s, cfg, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	wcfg := watch.DefaultConfig()
	if cfg.Watch.Interval > 0 {
		wcfg.SyncInterval = cfg.Watch.Interval
	}
	if cfg.Watch.Debounce > 0 {
		wcfg.DebounceInterval = cfg.Watch.Debounce
	}
	if cfg.Log.File != "" {
		wcfg.Logger = logging.NewRotating("watch", cfg.Log.File, cfg.Log.MaxSizeMB)
	}

	d, err := watch.New(eng, cfg.Repo.Path, wcfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Start(ctx)
}
