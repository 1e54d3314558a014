package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"airsync/internal/config"
)

func initCmd() *cobra.Command {
	var projectName string
	var driver string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new airsync project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectName) == "" {
				return fmt.Errorf("--name is required")
			}
			return runInit(projectName, driver)
		},
	}
	cmd.Flags().StringVar(&projectName, "name", "", "Project name")
	cmd.Flags().StringVar(&driver, "driver", "file", "Legacy driver (memory, file, sqlite, postgres)")
	return cmd
}

func runInit(projectName, driver string) error {
	schemaPath := filepath.Join(filepath.Dir(configPath), "schema.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if _, err := os.Stat(schemaPath); err == nil {
		return fmt.Errorf("%s already exists", schemaPath)
	}

	var legacy string
	switch driver {
	case "memory":
		legacy = "  driver: memory\n"
	case "file":
		legacy = "  driver: file\n  path: ./legacy.yaml\n"
	case "sqlite":
		legacy = "  driver: sqlite\n  dsn: ./legacy.db\n  poll_interval: 2s\n"
	case "postgres":
		legacy = "  driver: postgres\n  dsn: postgres://localhost:5432/airsync\n"
	default:
		return fmt.Errorf("unknown legacy driver: %s", driver)
	}

	configContents := fmt.Sprintf("project: %s\nversion: 1\n\nsync:\n  debounce: 150ms\n\nlegacy:\n%s\nlog:\n  level: info\n  format: console\n\nhttp:\n  listen: %s\n", projectName, legacy, config.DefaultListen)
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	if err := os.WriteFile(schemaPath, []byte(config.DefaultSchema), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", schemaPath, err)
	}

	return nil
}
