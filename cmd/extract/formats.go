package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extractor/internal/core"
)

var formatsCmd = &cobra.Command{
	Use:   "formats [CODE]",
	Short: "List extraction formats, or describe one",
	Long: `Without arguments, formats lists every registered format version.
With a format code it prints the sheets and columns of that format; use
--version to pick a version other than the latest.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := core.DefaultRegistry()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		if len(args) == 0 {
			fmt.Fprintln(w, "CODE\tVERSION\tFAMILY\tLABEL\tSHEETS")
			for _, spec := range reg.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					spec.Code, spec.Version, spec.Family, spec.Label, strings.Join(spec.SheetNames(), " "))
			}
			return nil
		}

		version, _ := cmd.Flags().GetString("version")
		spec, err := reg.Resolve(args[0], version)
		if err != nil {
			return fmt.Errorf("%w (known formats: %s)", err, strings.Join(reg.Codes(), ", "))
		}

		fmt.Fprintf(w, "%s %s (%s)\n", spec.Code, spec.Version, spec.Label)
		for _, sheet := range spec.Sheets {
			deps := "-"
			if len(sheet.DependsOn) > 0 {
				deps = strings.Join(sheet.DependsOn, ",")
			}
			fmt.Fprintf(w, "\n%s\t%s\tdepends on: %s\n", sheet.Name, sheet.Description, deps)
			for _, col := range sheet.Columns {
				fmt.Fprintf(w, "  %s\t%s\n", col.Name, col.Type)
			}
		}
		return nil
	},
}

func init() {
	formatsCmd.Flags().String("version", "", "format version (default: latest)")
	rootCmd.AddCommand(formatsCmd)
}
