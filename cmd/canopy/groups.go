package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy/internal/presentation/graph"
	"github.com/aretw0/canopy/internal/presentation/tui"
)

var groupsCmd = &cobra.Command{
	Use:   "groups <scenario>",
	Short: "Print the tip partition of the initial tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mermaid, _ := cmd.Flags().GetBool("mermaid")

		eng, err := openEngine(cmd, args)
		if err != nil {
			return err
		}
		defer eng.Close()

		groups, err := eng.Groups()
		if err != nil {
			return err
		}
		if !mermaid {
			return tui.Print(cmd.OutOrStdout(), tui.GroupsMarkdown(groups))
		}

		overlay := &graph.GroupOverlay{Groups: make([]graph.Group, len(groups))}
		for i, g := range groups {
			overlay.Groups[i] = graph.Group{Node: g.Node, Taxa: g.Taxa}
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(eng.Tree(), overlay))
		return err
	},
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.Flags().Bool("mermaid", false, "Print the tree as a Mermaid flowchart coloured by group")
}
