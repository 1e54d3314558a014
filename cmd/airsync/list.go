package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"airsync/internal/airentry"
)

func listCmd() *cobra.Command {
	var floor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List air entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(floor)
		},
	}
	cmd.Flags().StringVar(&floor, "floor", "", "Only list entries on this floor")
	return cmd
}

func runList(floor string) error {
	ctx := context.Background()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var entries []airentry.Entry
	if floor != "" {
		entries = a.Store.ListFloor(floor)
	} else {
		entries = a.Store.List()
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "No entries found.")
		return nil
	}

	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "%s (%s) [%s] at %g,%g size %gx%g\n",
			e.ID, e.Type, e.FloorName, e.Position.X, e.Position.Y, e.Dimensions.Width, e.Dimensions.Height)
	}
	return nil
}
