package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deadonfilm/enrichment-cli/internal/config"
	"github.com/deadonfilm/enrichment-cli/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured source cascade",
	Long:  "Shows the active cascade in priority order plus any configured sources skipped for missing credentials or disabled categories.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := source.Build(cfg, buildSourceDeps())
		formatSources(os.Stdout, cfg.Enrich.SourcePriority, reg)
		return nil
	},
}

// formatSources writes the active cascade, then the configured names that
// did not make it into the registry.
func formatSources(out io.Writer, configured []string, reg *source.Registry) {
	if len(configured) == 0 {
		configured = config.DefaultSourcePriority
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ORDER\tSOURCE\tCATEGORY\tTIER\tRELIABILITY\tCOST/QUERY")
	_, _ = fmt.Fprintln(w, "-----\t------\t--------\t----\t-----------\t----------")

	for i, src := range reg.Sources() {
		perQuery := "free"
		if c := src.EstimatedCostPerQuery(); c > 0 {
			perQuery = fmt.Sprintf("$%.4f", c)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			i+1,
			src.Name(),
			reg.CategoryOf(src.Name()),
			src.Tier(),
			src.Reliability(),
			perQuery,
		)
	}

	for _, name := range configured {
		if _, ok := reg.Get(name); ok {
			continue
		}
		_, _ = fmt.Fprintf(w, "-\t%s\t-\t-\t-\tunavailable\n", name)
	}

	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
