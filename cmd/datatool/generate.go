package main

import (
	"fmt"

	"github.com/nosqlbench/vdatasets/pkg/merkle"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <file>",
	Short: "Build a .mref Merkle reference next to <file>",
	Long: `generate streams <file> once, computing a Merkle reference
tree over it (see pkg/merkle.Build), and writes it to <file>.mref. This
is the publication pipeline's entry point: the core never constructs a
reference from raw bytes any other way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		refPath := path + ".mref"
		logger.Info().Str("file", path).Str("ref", refPath).Msg("building merkle reference")
		if err := merkle.BuildToFile(path, refPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", refPath)
		return nil
	},
}

// computeCmd is an alias of generateCmd, kept for source parity with
// the original tool's two historically distinct entry points that ended
// up doing the same thing.
var computeCmd = &cobra.Command{
	Use:   "compute <file>",
	Short: "Alias of generate",
	Args:  cobra.ExactArgs(1),
	RunE:  generateCmd.RunE,
}
