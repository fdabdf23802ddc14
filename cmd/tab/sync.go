package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload every unsynced expense to the sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			rep, err := a.repo.SyncUnsynced(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d expense(s), %d failed\n", rep.Synced, rep.Failed)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Replace local expenses with the recent rows of the sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			n, err := a.repo.RefreshFromSheets(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Fetched %d expense(s) from the sheet\n", n)
			return nil
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Merge sheet rows into local expenses, keeping unsynced local edits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			res, err := a.repo.PullFromSheets(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Inserted %d expense(s), %d local expense(s) still pending upload\n", res.Inserted, res.Pending)
			return nil
		})
	},
}

// withApp wires the services for a one-shot command and tears them down after.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(30 * time.Second)
	return fn(ctx, a)
}
