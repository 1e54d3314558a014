package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "airsync",
		Short:        "Keeps air entry views and the legacy store in sync",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "airsync.yaml", "Project config file")
	root.AddCommand(initCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(resyncCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(listCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
