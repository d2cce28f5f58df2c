package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/rawblock/factory-engine/internal/config"
)

var (
	configPath string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "engine",
		Short: "Minimum-press solver for factory machines",
		Long: `engine computes the fewest button presses that configure a factory
machine's indicator lights (toggle problem) and its joltage counters
(joltage problem), either from the command line or as an HTTP service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ENGINE_CONFIG"),
		"TOML config file (env ENGINE_CONFIG); environment variables override it")

	rootCmd.AddCommand(serveCmd, solveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
