// Package main is the entrypoint for the reddalert worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reddalert/internal/app"
	"reddalert/internal/infra/config"
	"reddalert/internal/infra/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Monitor Reddit for tenant keywords and alert Discord webhooks",
	}

	root.AddCommand(runCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var envPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker: poll Reddit, match keywords, dispatch webhook alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(envPath)
		},
	}
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to .env file")
	return cmd
}

// runWorker loads configuration, wires the App, and blocks until a
// shutdown signal arrives or initialization fails. Mirrors the teacher's
// main.go ordering: load config, init the logger's real level, set up the
// signal context, then hand off to the app for the actual run loop.
func runWorker(envPath string) error {
	if err := config.Load(envPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(config.Env().LogLevel)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.NewApp()
	if err := a.Init(ctx); err != nil {
		return fmt.Errorf("app init: %w", err)
	}

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("app run: %w", err)
	}

	logger.Info("reddalert worker shut down cleanly")
	return nil
}
