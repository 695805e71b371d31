package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketguard-backend/internal/config"
	"marketguard-backend/internal/logging"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "marketguard",
	Short: "Marketplace security monitoring and mitigation engine",
	Long: `marketguard observes request outcomes, blocks abusive addresses, manages
the emergency lockdown flag and runs the remediation agent.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (env overrides still apply)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
