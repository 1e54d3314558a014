package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Import the legacy collection and re-key its items",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	result, err := a.Start(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Migrated %d entries from %d floors.\n", result.Migrated, result.Floors)
	if result.Failed > 0 {
		fmt.Fprintf(os.Stdout, "Skipped (%d):\n", result.Failed)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stdout, "  - %s [%s]: %v\n", e.ItemID, e.Floor, e.Err)
		}
	}
	return nil
}
