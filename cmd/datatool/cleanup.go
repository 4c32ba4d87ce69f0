package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nosqlbench/vdatasets/pkg/merkle"

	"github.com/spf13/cobra"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <cache-root>",
	Short: "Remove orphaned .mrkl/cache pairs with no matching reference",
	Long: `cleanup walks <cache-root> looking for cache files whose
companion .mref reference is missing (and therefore can never be
verified again), and removes the cache file together with its stale
.mrkl state. It never touches a cache file that still has a reference
sitting next to it, even if that reference's remote dataset was removed
from the catalog: that decision belongs to the operator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := args[0]
		var removed int
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if strings.HasSuffix(path, ".mref") || strings.HasSuffix(path, ".mrkl") {
				return nil
			}
			refPath := path + ".mref"
			if _, statErr := os.Stat(refPath); statErr == nil {
				return nil
			}
			statePath := merkle.StatePathFor(path)
			logger.Info().Str("cache", path).Msg("removing orphaned cache file with no matching reference")
			if cleanupDryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would remove %s (and %s if present)\n", path, statePath)
				removed++
				return nil
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned cache file(s)\n", removed)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be removed without deleting anything")
}
