package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/layout"
	syncengine "github.com/laszoo/laszoo/internal/sync"
	"github.com/laszoo/laszoo/internal/watch"
)

var (
	watchAuto bool
	watchHard bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the watch loop: react to local edits and peer changes",
	Long: `Watch starts the local filesystem watcher and the remote checksum scanner
described in spec.md §4.8 and reconciles every enrolled entry as changes
are detected, until interrupted. --auto periodically re-discovers newly
enrolled entries without a restart; --hard performs one full reconciliation
pass of every entry before settling into watch mode.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchAuto, "auto", false, "periodically re-discover newly enrolled entries")
	watchCmd.Flags().BoolVar(&watchHard, "hard", false, "reconcile every entry once before entering watch mode")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	l := layout.New(cfg.Root())
	host, err := os.Hostname()
	if err != nil {
		return err
	}

	var rec syncengine.Recorder
	if cfg.AutoCommit {
		rec = newVersionLogger(l, cfg)
	}
	engine := syncengine.New(l, host, rec, logger)

	debounce := time.Duration(cfg.Monitoring.DebounceMS) * time.Millisecond
	pollInterval := time.Duration(cfg.Monitoring.PollInterval) * time.Second

	queue := watch.NewQueue()
	ignore := watch.NewIgnoreSet(0)
	local, err := watch.NewLocalWatcher(queue, ignore, debounce, logger)
	if err != nil {
		return err
	}
	defer local.Close()
	remote := watch.NewRemoteScanner(l, queue, ignore, pollInterval, logger)

	loop := watch.NewLoop(engine, local, remote, queue, ignore, bindingsConfig(cfg), logger)

	watched := make(map[string]bool)
	registerNew := func() error {
		entries, err := discoverEntries(l, host)
		if err != nil {
			return err
		}
		for _, de := range entries {
			if watched[de.Entry.Path] {
				continue
			}
			if err := loop.Watch(de.Group, de.Kind, de.Entry); err != nil {
				logger.Warn("failed to watch entry", "path", de.Entry.Path, "error", err)
				continue
			}
			watched[de.Entry.Path] = true
		}
		return nil
	}

	if err := registerNew(); err != nil {
		return err
	}
	fmt.Printf("watching %d entries\n", len(watched))

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if watchHard {
		bindings, err := hostinfo.Bindings(bindingsConfig(cfg))
		if err != nil {
			return err
		}
		entries, err := discoverEntries(l, host)
		if err != nil {
			return err
		}
		for _, de := range entries {
			result := engine.Reconcile(ctx, de.Group, de.Kind, de.Entry, bindings)
			if result.Err != nil {
				logger.Error("initial reconcile failed", "path", result.Path, "error", result.Err)
			}
		}
	}

	if watchAuto {
		go func() {
			ticker := time.NewTicker(pollIntervalOrDefault(pollInterval))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := registerNew(); err != nil {
						logger.Warn("re-discovery failed", "error", err)
					}
				}
			}
		}()
	}

	loop.Run(ctx)
	return nil
}

func pollIntervalOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
