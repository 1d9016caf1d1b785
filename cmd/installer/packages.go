package installer

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List installable packages from the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		man, err := newFetcher().Fetch(cmd.Context(), cfg.ManifestURL)
		if err != nil {
			return err
		}

		fmt.Printf("Release %s\n\n", man.Version)
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSIZE\tNAME")
		for _, p := range man.Packages {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Kind, formatSize(p.Size), p.Name)
		}
		return w.Flush()
	},
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
