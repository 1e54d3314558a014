package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func resyncCmd() *cobra.Command {
	var floor string
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Rebuild the store from the legacy collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResync(floor)
		},
	}
	cmd.Flags().StringVar(&floor, "floor", "", "Reconcile a single floor instead of rebuilding everything")
	return cmd
}

func runResync(floor string) error {
	ctx := context.Background()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if floor != "" {
		result, err := a.Bridge.SyncFloor(ctx, floor)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Floor %s: %d created, %d updated, %d deleted, %d unchanged.\n",
			floor, result.Created, result.Updated, result.Deleted, result.Unchanged)
		return nil
	}

	result, err := a.Bridge.ForceResync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Resynced %d entries from %d floors (%d failed).\n", result.Migrated, result.Floors, result.Failed)
	return nil
}
