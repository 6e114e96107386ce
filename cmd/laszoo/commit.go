package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/layout"
)

var commitMessage string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Force a version-log checkpoint of the shared tree",
	Long: `Commit stages and commits the shared tree's current state under an
operator-supplied message, independent of any reconciliation. Unlike the
commits sync and watch make automatically (per spec.md §4.9), this always
commits, even when nothing changed, so it can be used to mark a checkpoint.`,
	RunE: runCommit,
}

func init() {
	commitCmd.Flags().StringVar(&commitMessage, "message", "manual checkpoint", "commit message")
}

func runCommit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	l := layout.New(cfg.Root())
	host, err := os.Hostname()
	if err != nil {
		return err
	}

	vl := newVersionLogger(l, cfg)
	if err := vl.CommitNow(cmd.Context(), host, commitMessage); err != nil {
		return err
	}

	fmt.Println("committed")
	return nil
}
