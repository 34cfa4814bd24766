package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/presentation/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario>",
	Short: "Run the sampler and print a summary",
	Long: `Builds the scenario, optionally restores a checkpointed chain, runs the
sampler and prints the chain summary with every statistic.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		resume, _ := cmd.Flags().GetString("resume")
		jsonMode, _ := cmd.Flags().GetBool("json")
		banner, _ := cmd.Flags().GetBool("banner")

		eng, err := openEngine(cmd, args)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if resume != "" {
			cp, err := eng.Restore(ctx, resume)
			if err != nil {
				return err
			}
			logger.Info("resumed chain", "chain", cp.ChainID, "step", cp.Step)
		}
		if steps <= 0 {
			steps = eng.Scenario().Sampler.Steps
		}
		if err := eng.Run(ctx, steps); err != nil {
			return err
		}

		sum, err := eng.Summary()
		if err != nil {
			return err
		}
		stats, err := eng.Statistics()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonMode {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			values := make(map[string][]*float64, len(stats))
			for _, st := range stats {
				values[st.Name] = finite(st.Values)
			}
			doc := map[string]any{
				"chain":         sum.ChainID,
				"step":          sum.Step,
				"log_posterior": finite([]float64{sum.LogPosterior})[0],
				"acceptance":    sum.Acceptance,
				"statistics":    values,
				"newick":        sum.Newick,
			}
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
			return nil
		}
		if banner && tui.IsTerminal(out) {
			tui.PrintBanner(out)
		}
		return tui.Print(out, tui.SummaryMarkdown(sum, stats))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("steps", "n", 0, "Number of steps (default: sampler.steps of the scenario)")
	runCmd.Flags().String("resume", "", "Chain id of a checkpoint to resume from")
	runCmd.Flags().Bool("json", false, "Print the summary as JSON")
	runCmd.Flags().Bool("banner", true, "Print the banner on interactive terminals")
}

// finite maps non-finite values to nil so they encode as JSON null.
func finite(v []float64) []*float64 {
	out := make([]*float64, len(v))
	for i := range v {
		if !math.IsNaN(v[i]) && !math.IsInf(v[i], 0) {
			out[i] = &v[i]
		}
	}
	return out
}
