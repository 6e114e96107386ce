package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
	syncengine "github.com/laszoo/laszoo/internal/sync"
)

var (
	syncGroup    string
	syncStrategy string
	syncDryRun   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile enrolled entries against their shared templates",
	Long: `Sync runs the five sync-action strategies (converge, rollback, forward,
freeze, drift) over every enrolled entry this host is responsible for, or
just --group's, per spec.md §4.7. --dry-run reports divergence without
writing anything, overriding every entry's configured action to a freeze-
style check.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncGroup, "group", "", "restrict reconciliation to this group (default: every group this host belongs to, plus its machine entries)")
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "", "override every entry's configured sync action (converge, rollback, forward, freeze, drift)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report divergence without writing anything")
}

func runSync(cmd *cobra.Command, args []string) error {
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

	entries, err := entriesToSync(l, host)
	if err != nil {
		return err
	}

	bindings, err := hostinfo.Bindings(bindingsConfig(cfg))
	if err != nil {
		return err
	}

	var (
		failed    int
		diverged  int
		firstFail error
	)
	for _, de := range entries {
		entry := de.Entry
		if syncStrategy != "" {
			entry.Action = manifest.Action(syncStrategy)
		}

		var result syncengine.Result
		if syncDryRun {
			result = engine.Status(cmd.Context(), de.Group, de.Kind, entry, bindings)
		} else {
			result = engine.Reconcile(cmd.Context(), de.Group, de.Kind, entry, bindings)
		}

		if result.Err != nil {
			failed++
			if firstFail == nil {
				firstFail = result.Err
			}
			logger.Error("reconcile failed", "path", result.Path, "action", result.Action, "error", result.Err)
			continue
		}
		if result.Diverged {
			diverged++
			fmt.Printf("diverged: %s (%s)\n", result.Path, result.Action)
		}
	}

	fmt.Printf("synced %d entries, %d diverged, %d failed\n", len(entries), diverged, failed)
	if failed > 0 {
		return firstFail
	}
	return nil
}

func entriesToSync(l *layout.Layout, host string) ([]discoveredEntry, error) {
	if syncGroup == "" {
		return discoverEntries(l, host)
	}

	mf, err := manifest.Read(l.GroupManifestPath(syncGroup))
	if err != nil {
		return nil, err
	}
	var out []discoveredEntry
	for _, e := range mf.Entries {
		if e.IsDirectory {
			continue
		}
		out = append(out, discoveredEntry{Group: syncGroup, Kind: e.Kind, Entry: e})
	}
	return out, nil
}
