package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/enroll"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
)

var applyMachine bool

var applyCmd = &cobra.Command{
	Use:   "apply <group> [path...]",
	Short: "Materialize templates onto the local filesystem",
	Long: `Apply renders every enrolled entry's template (or just the given paths,
if any) and writes the result locally, per spec.md §4.6.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyMachine, "machine", false, "apply this host's machine-scoped manifest instead of a group's")
}

func runApply(cmd *cobra.Command, args []string) error {
	groupName, filter := args[0], args[1:]

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
	m := enroll.New(l, host)

	kind := manifest.KindGroup
	if applyMachine {
		kind = manifest.KindMachine
	}

	results, err := m.Apply(cmd.Context(), groupName, kind, bindingsConfig(cfg), filter)
	if err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Error("apply failed", "path", r.Path, "error", r.Err)
			continue
		}
		if r.Written {
			fmt.Printf("applied %s\n", r.Path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entries failed to apply", failed, len(results))
	}
	return nil
}
