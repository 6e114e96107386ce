package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/layout"
)

var initMFSMount string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a shared tree at the configured mount",
	Long: `Init creates the layout skeleton (groups/, machines/, memberships/) under
the shared mount and writes the format-version marker, per spec.md §4.1.
Safe to run against an already-initialized root.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initMFSMount, "mfs-mount", "", "shared mount point to initialize (overrides config)")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil && initMFSMount == "" {
		return err
	}

	root := initMFSMount
	if root == "" {
		root = cfg.Root()
	}

	l := layout.New(root)
	for _, dir := range []string{"groups", "machines", "memberships"} {
		if err := os.MkdirAll(filepath.Join(l.Root, dir), 0o755); err != nil {
			return err
		}
	}
	if err := l.WriteFormatVersion(); err != nil {
		return err
	}

	fmt.Printf("initialized laszoo shared tree at %s\n", l.Root)
	return nil
}
