// Command laszoo is the CLI front end for the serverless configuration
// coordination engine described in spec.md: every subcommand operates
// through the shared filesystem tree rooted at the configured mount, with
// no server process of its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/annotator"
	"github.com/laszoo/laszoo/internal/config"
	"github.com/laszoo/laszoo/internal/errs"
	"github.com/laszoo/laszoo/internal/group"
	"github.com/laszoo/laszoo/internal/hostinfo"
	"github.com/laszoo/laszoo/internal/layout"
	"github.com/laszoo/laszoo/internal/manifest"
	"github.com/laszoo/laszoo/internal/versionlog"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "laszoo:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to spec.md §6's exit-code table. A nil error (or
// one that does not match a known sentinel) falls through to the generic
// cases: nil succeeds, anything else not otherwise classified is a user
// error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errs.ErrMountUnavailable):
		return 2
	case errors.Is(err, errs.ErrConvergenceRetryExhausted):
		return 3
	case errors.Is(err, errs.ErrIOError):
		return 4
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "laszoo",
	Short: "Distributed configuration management over a shared filesystem",
	Long: `laszoo coordinates configuration files across a fleet of hosts through a
shared POSIX mount, with no central server: hosts enroll local paths into
group or machine templates, reconcile drift according to a per-entry sync
strategy, and watch for changes made by themselves or by peers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/laszoo/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json); overrides the config file")

	rootCmd.AddCommand(initCmd, enrollCmd, unenrollCmd, applyCmd, syncCmd, statusCmd, watchCmd, groupCmd, commitCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("laszoo %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level := logLevel
	if level == "" && cfg != nil {
		level = cfg.Logging.Level
	}
	format := logFormat
	if format == "" && cfg != nil {
		format = cfg.Logging.Format
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: determining home directory: %v", errs.ErrIOError, err)
		}
		path = home + "/.config/laszoo/config.toml"
	}
	return config.Load(path)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func bindingsConfig(cfg *config.Config) hostinfo.Config {
	return hostinfo.Config{Extra: cfg.ExtraBindings}
}

// discoveredEntry pairs a manifest entry with the group/kind context
// needed to dispatch it to the Enrollment Manager or the Sync Engine.
type discoveredEntry struct {
	Group string
	Kind  manifest.Kind
	Entry manifest.Entry
}

// discoverEntries lists every non-directory entry this host is responsible
// for: its own machine-scoped entries, plus every group entry belonging to
// a group this host is a member of.
func discoverEntries(l *layout.Layout, host string) ([]discoveredEntry, error) {
	var out []discoveredEntry

	machineMf, err := manifest.Read(l.MachineManifestPath(host))
	if err != nil {
		return nil, err
	}
	for _, e := range machineMf.Entries {
		if e.IsDirectory {
			continue
		}
		out = append(out, discoveredEntry{Kind: manifest.KindMachine, Entry: e})
	}

	groupsDir := l.Root + "/groups"
	dirEntries, err := os.ReadDir(groupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("%w: listing %s: %v", errs.ErrIOError, groupsDir, err)
	}

	for _, d := range dirEntries {
		if !d.IsDir() {
			continue
		}
		groupName := d.Name()
		members, err := group.List(l, groupName)
		if err != nil {
			return nil, err
		}
		if !contains(members, host) {
			continue
		}

		mf, err := manifest.Read(l.GroupManifestPath(groupName))
		if err != nil {
			return nil, err
		}
		for _, e := range mf.Entries {
			if e.IsDirectory {
				continue
			}
			out = append(out, discoveredEntry{Group: groupName, Kind: e.Kind, Entry: e})
		}
	}

	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func newVersionLogger(l *layout.Layout, cfg *config.Config) *versionlog.Logger {
	var ann *annotator.Client
	if cfg.AnnotatorEndpoint != "" {
		ann = annotator.New(cfg.AnnotatorEndpoint, cfg.AnnotatorModel, 0)
	}
	if ann != nil {
		return versionlog.New(l.Root, ann)
	}
	return versionlog.New(l.Root, nil)
}
