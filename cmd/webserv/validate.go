package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webserv/webserv/internal/config"
)

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and type-check a configuration file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return fmt.Errorf("webserv: %w", err)
			}
			fmt.Printf("config OK: %d server(s)\n", len(cfg.Servers))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	return cmd
}
