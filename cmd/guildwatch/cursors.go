package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"guildwatch/internal/config"
	"guildwatch/internal/storage"
	"guildwatch/pkg/logx"
)

func newCursorsCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "cursors",
		Short: "List stored cursors for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return listCursors(ctx, tenantID)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant (guild) id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func listCursors(ctx context.Context, tenantID string) error {
	cfg, err := config.ParseFile(flagConfigPath)
	if err != nil {
		return err
	}
	if cfg.Storage == nil {
		return errors.New("no storage configured")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		DSN:          cfg.Storage.DSN,
		BusyTimeout:  busy,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	}, logx.NewConsole("WARN"))
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.ListCursors(ctx, tenantID)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tENTITY\tLAST FACT\tLAST CHECKED")
	for _, c := range list {
		checked := "-"
		if !c.LastCheckedAt.IsZero() {
			checked = c.LastCheckedAt.Local().Format(time.RFC3339)
		}
		fact := c.LastFactID
		if fact == "" {
			fact = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Key.Kind, c.Key.EntityKey, fact, checked)
	}
	return tw.Flush()
}
