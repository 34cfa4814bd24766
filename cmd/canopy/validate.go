package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario>",
	Short: "Check a scenario for consistency",
	Long:  `Decodes the scenario, builds every model it declares and evaluates the initial state.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd, args)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		defer eng.Close()

		sum, err := eng.Summary()
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Scenario %s is valid: %d taxa, %d statistics, log posterior %g\n",
			sum.Scenario, eng.Tree().ExternalNodeCount(), len(eng.StatisticNames()), sum.LogPosterior)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
