package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store and legacy counts as JSON",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	stats, err := a.Bridge.Stats(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
