package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/presentation/tui"
)

var reportCmd = &cobra.Command{
	Use:   "report <scenario>",
	Short: "Check the analytic tip gradient against finite differences",
	Long: `Evaluates the gradient of the trait likelihood with respect to the tip traits
and compares it with central finite differences. Exits non-zero on mismatch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tolerance, _ := cmd.Flags().GetFloat64("tolerance")

		eng, err := openEngine(cmd, args)
		if err != nil {
			return err
		}
		defer eng.Close()

		rep, err := eng.GradientReport(tolerance)
		if err != nil {
			return err
		}
		if err := tui.Print(cmd.OutOrStdout(), tui.ReportMarkdown(rep)); err != nil {
			return err
		}
		if !rep.OK() {
			return fmt.Errorf("gradient mismatch: %g exceeds tolerance %g", rep.MaxDifference, rep.Tolerance)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Float64("tolerance", 0, "Largest accepted difference (default 1e-3)")
}
