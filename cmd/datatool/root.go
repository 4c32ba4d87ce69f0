// Package main implements datatool, the CLI front-end over this
// module's dataset catalog, Merkle build pipeline, and verified file
// channel. It is a thin shell around pkg/catalog, pkg/merkle and
// pkg/mafile: every subcommand's logic lives in those packages, the way
// the teacher repository keeps its cmd/ binaries as wiring around
// pkg/blobstore rather than reimplementing storage logic inline.
package main

import (
	"os"

	"github.com/nosqlbench/vdatasets/pkg/logging"
	"github.com/nosqlbench/vdatasets/pkg/metrics"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevelFlag string
	logger       zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "datatool",
	Short: "Distribute, cache, and verify vector-search test datasets",
	Long: `datatool publishes and consumes content-addressed, chunked
vector-search datasets: it builds Merkle references for new datasets,
lists what a remote catalog advertises, and drives the verified,
memory-mapped-like file channel consumers read slices through.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevelFlag)
		if err != nil {
			return err
		}
		logger = logging.NewCLILogger(level, os.Stderr)
		metrics.Register()
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
