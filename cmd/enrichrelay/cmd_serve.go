package main

import (
	"github.com/spf13/cobra"

	"EnrichmentRelay/internal/app"
	"EnrichmentRelay/internal/config"
	"EnrichmentRelay/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrichment relay HTTP server",
	Long: `Serves GET /api/enrichment/stream?handle=<subject>&owner_id=<owner>, relaying the
upstream enrichment stream and storing each phase on the owner's profile record.

Configuration comes from the YAML file named by ENRICH_RELAY_CONFIG plus env overrides.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	if err := application.Run(cmd.Context()); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}
