package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints <scenario>",
	Short: "List the chains checkpointed by the scenario backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd, args)
		if err != nil {
			return err
		}
		defer eng.Close()

		ids, err := eng.Checkpoints(commandContext(cmd))
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
}
