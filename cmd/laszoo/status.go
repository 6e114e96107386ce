package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/layout"
	syncengine "github.com/laszoo/laszoo/internal/sync"
)

var statusDetailed bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report divergence for every enrolled entry",
	Long: `Status renders every enrolled entry's current template and compares it to
the local file, without regard to the entry's configured sync action and
without writing anything.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusDetailed, "detailed", false, "also print entries that are not diverged")
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	engine := syncengine.New(l, host, nil, logger)

	entries, err := discoverEntries(l, host)
	if err != nil {
		return err
	}

	bindings, err := hostinfo.Bindings(bindingsConfig(cfg))
	if err != nil {
		return err
	}

	var diverged, failed int
	for _, de := range entries {
		result := engine.Status(cmd.Context(), de.Group, de.Kind, de.Entry, bindings)
		switch {
		case result.Err != nil:
			failed++
			fmt.Printf("error: %s: %v\n", result.Path, result.Err)
		case result.Diverged:
			diverged++
			fmt.Printf("diverged: %s (%s, action=%s)\n", result.Path, de.Kind, result.Action)
		case statusDetailed:
			fmt.Printf("ok:       %s (%s, action=%s)\n", result.Path, de.Kind, result.Action)
		}
	}

	fmt.Printf("%d entries checked, %d diverged, %d failed\n", len(entries), diverged, failed)
	if failed > 0 {
		return fmt.Errorf("%d entries could not be checked", failed)
	}
	return nil
}
