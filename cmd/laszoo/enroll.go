package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/enroll"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
)

var (
	enrollMachine bool
	enrollHybrid  bool
	enrollAction  string
	enrollBefore  string
	enrollAfter   string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <group> <path...>",
	Short: "Bring local paths under management",
	Long: `Enroll seeds or reconciles a shared template for each path and records it
in the group (or machine, with --machine) manifest, per spec.md §4.6.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <group> <path...>",
	Short: "Release local paths from management",
	Long: `Unenroll removes the manifest entry and shared template for each path,
leaving the local file untouched.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runUnenroll,
}

func init() {
	enrollCmd.Flags().BoolVar(&enrollMachine, "machine", false, "enroll as a machine-scoped (per-host) template")
	enrollCmd.Flags().BoolVar(&enrollHybrid, "hybrid", false, "enroll as a hybrid template (shared skeleton, per-host quack overrides)")
	enrollCmd.Flags().StringVar(&enrollAction, "action", "converge", "sync action: converge, rollback, forward, freeze, or drift")
	enrollCmd.Flags().StringVar(&enrollBefore, "before", "", "shell command to run before writing the local file on apply")
	enrollCmd.Flags().StringVar(&enrollAfter, "after", "", "shell command to run after writing the local file on apply")
}

func enrollKind() manifest.Kind {
	switch {
	case enrollMachine:
		return manifest.KindMachine
	case enrollHybrid:
		return manifest.KindHybrid
	default:
		return manifest.KindGroup
	}
}

func runEnroll(cmd *cobra.Command, args []string) error {
	groupName, paths := args[0], args[1:]

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

	action := manifest.Action(enrollAction)
	kind := enrollKind()

	for _, p := range paths {
		if err := m.Enroll(groupName, p, kind, action, enrollBefore, enrollAfter); err != nil {
			return err
		}
		logger.Info("enrolled", "group", groupName, "path", p, "kind", kind, "action", action)
	}
	return nil
}

func runUnenroll(cmd *cobra.Command, args []string) error {
	groupName, paths := args[0], args[1:]

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

	kind := enrollKind()
	for _, p := range paths {
		if err := m.Unenroll(groupName, p, kind); err != nil {
			return err
		}
		logger.Info("unenrolled", "group", groupName, "path", p)
	}
	fmt.Printf("unenrolled %d path(s) from %s\n", len(paths), groupName)
	return nil
}
