package main

import (
	"fmt"

	"github.com/nosqlbench/vdatasets/pkg/catalog"

	"github.com/spf13/cobra"
)

var datasetsCatalogURL string

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the profiles and views a dataset manifest advertises",
	Long: `datasets fetches the manifest named by --catalog-url (a local
path or an HTTP URL) and prints every profile and view it declares,
without downloading any dataset content.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if datasetsCatalogURL == "" {
			return fmt.Errorf("--catalog-url is required")
		}
		m, err := catalog.FetchManifestHTTP(nil, datasetsCatalogURL)
		if err != nil {
			m, err = catalog.LoadManifestFile(datasetsCatalogURL)
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (manifest version %d)\n", m.Name, m.Version)
		for name := range m.Profiles {
			fmt.Fprintf(out, "  profile %s:\n", name)
			for _, view := range []catalog.View{
				catalog.BaseVectors,
				catalog.QueryVectors,
				catalog.NeighborsIndices,
				catalog.NeighborsDistances,
			} {
				resolved, err := catalog.Resolve(m, name, view, "")
				if err != nil {
					continue
				}
				fmt.Fprintf(out, "    %-20s %s\n", view, resolved.RemoteURL)
			}
		}
		return nil
	},
}

func init() {
	datasetsCmd.Flags().StringVar(&datasetsCatalogURL, "catalog-url", "", "path or URL to the dataset.yaml manifest")
}
