package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webserv/webserv/internal/accesslog"
	"github.com/webserv/webserv/internal/config"
	"github.com/webserv/webserv/internal/eventloop"
	"github.com/webserv/webserv/internal/metrics"
)

func runCmd() *cobra.Command {
	var configPath string
	var accessLogPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, accessLogPath, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	cmd.Flags().StringVar(&accessLogPath, "access-log", "", "path to the rotated access log file (empty logs to stdout)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "host:port to serve /metrics on (empty disables)")
	return cmd
}

func runServer(configPath, accessLogPath, metricsAddr string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("webserv: building logger: %w", err)
	}
	defer log.Sync()

	source, err := config.NewSource(configPath, log)
	if err != nil {
		return fmt.Errorf("webserv: loading config: %w", err)
	}
	source.WatchSignal()

	access, err := accesslog.New(accesslog.DefaultOptions(accessLogPath))
	if err != nil {
		return fmt.Errorf("webserv: building access logger: %w", err)
	}
	defer access.Sync()

	var reg *metrics.Registry
	if metricsAddr != "" {
		reg = metrics.New()
		go serveMetrics(metricsAddr, reg, log)
	}

	loop := eventloop.New(source, log, access, reg)
	if err := loop.Listen(); err != nil {
		return fmt.Errorf("webserv: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("webserv starting", zap.String("config", configPath))
	return loop.Run(ctx)
}
