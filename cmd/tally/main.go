package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MikeSquared-Agency/tally/internal/config"
)

var (
	cfg        *config.Config
	logger     = zap.NewNop()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Extract field service reports from chat text",
	Long:  "Reads free-form group chat messages, asks an LLM provider to extract per-publisher activity reports, reconciles them against the roster and stores the result.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c

		l, err := config.InitLogger(cfg.Log)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./tally.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
