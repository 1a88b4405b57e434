package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/econsult/internal/config"
	"github.com/jwalitptl/econsult/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "econsult-api",
		Short:         "e-Consult intake and dashboard API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "directory containing config.yml")

	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := config.LoadConfig(paths...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.Setup(cfg.Log.Level, cfg.Log.Pretty), nil
}
