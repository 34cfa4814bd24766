package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/adapters/loam"
)

var logger = logging.NewNop()

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Canopy runs cached MCMC models over phylogenetic trees",
	Long: `Canopy evaluates tree-structured likelihoods and statistics with incremental
caching, and samples them with a Metropolis-Hastings chain.

Scenarios are YAML files, or documents of a loam repository when --repo is set.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelFlag, _ := cmd.Flags().GetString("log-level")
		formatFlag, _ := cmd.Flags().GetString("log-format")
		level, err := logging.ParseLevel(levelFlag)
		if err != nil {
			return err
		}
		logger = logging.New(level, logging.Format(formatFlag))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("repo", "", "Loam repository holding scenarios; the argument is then a document id")
}

// loadScenario reads the scenario named by the single positional argument.
func loadScenario(cmd *cobra.Command, args []string) (*config.Scenario, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one scenario argument")
	}
	repo, _ := cmd.Flags().GetString("repo")
	if repo == "" {
		return config.Load(args[0])
	}
	l, err := loam.Open(repo)
	if err != nil {
		return nil, err
	}
	return l.Load(cmd.Context(), args[0])
}

// openEngine builds the engine of the scenario argument.
func openEngine(cmd *cobra.Command, args []string) (*canopy.Engine, error) {
	s, err := loadScenario(cmd, args)
	if err != nil {
		return nil, err
	}
	return canopy.New(s, canopy.WithLogger(logger))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
