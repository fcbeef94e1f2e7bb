package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/container"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("⚠️ Failed to load .env file: %v", err)
	}

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Harvests real-estate listings into the listing store and similarity index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.AddCommand(runCommand(), serveCommand(), targetsCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatalf("Application exited with error: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	configureLogging(cfg.Log)
	log.Info("Configuration loaded successfully")
	return cfg, nil
}

func configureLogging(cfg config.LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("⚠️ Unknown log level %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func runCommand() *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one crawl cycle for every target, or for the given targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info("Starting harvester...")

			app, err := container.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize container: %w", err)
			}
			defer app.Close()

			if err := app.Run(cmd.Context(), targets...); err != nil {
				return err
			}
			log.Info("Application finished successfully")
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "target id such as krisha/buy (repeatable)")
	return cmd
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the crawl schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			app, err := container.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize container: %w", err)
			}
			defer app.Close()

			return app.Serve(cmd.Context())
		},
	}
}

func targetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the configured crawl targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, target := range cfg.CrawlTargets() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-24s pages=%-4d %s\n",
					target.ID(), target.ListingType.GetDisplayName(), target.PageLimit, target.IndexURLTemplate)
			}
			return nil
		},
	}
}
