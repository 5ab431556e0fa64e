package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	flagConfigPath string
	flagJSON       bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "guildwatch",
		Short:         "Per-tenant feed, reminder and score watcher for chat communities",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "./config.json", "config file path (json, yaml or toml)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCheckConfigCmd())
	cmd.AddCommand(newCursorsCmd())
	return cmd
}
