package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laszoo/laszoo/internal/group"
	"github.com/laszoo/laszoo/internal/layout"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage group membership",
}

var groupAddHost string

var groupAddCmd = &cobra.Command{
	Use:   "add <group>",
	Short: "Enroll a host into a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := groupLayout()
		if err != nil {
			return err
		}
		host := groupAddHost
		if host == "" {
			host, err = os.Hostname()
			if err != nil {
				return err
			}
		}
		return group.Add(l, args[0], host)
	},
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <group> <host>",
	Short: "Disenroll a host from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := groupLayout()
		if err != nil {
			return err
		}
		return group.Remove(l, args[0], args[1])
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list <group>",
	Short: "List the hosts enrolled in a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := groupLayout()
		if err != nil {
			return err
		}
		hosts, err := group.List(l, args[0])
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(hosts, "\n"))
		return nil
	},
}

var groupRenameCmd = &cobra.Command{
	Use:   "rename <group> <old-host> <new-host>",
	Short: "Rename a host's membership within a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := groupLayout()
		if err != nil {
			return err
		}
		return group.Rename(l, args[0], args[1], args[2])
	},
}

func init() {
	groupAddCmd.Flags().StringVar(&groupAddHost, "host", "", "host to enroll (default: this host)")
	groupCmd.AddCommand(groupAddCmd, groupRemoveCmd, groupListCmd, groupRenameCmd)
}

func groupLayout() (*layout.Layout, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return layout.New(cfg.Root()), nil
}
