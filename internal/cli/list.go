package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [<name>]",
	Short: "List loaded dataset versions",
	Long:  `List prints every loaded version, or only the versions of one dataset.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, closeFn, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		datasets, aerr := rt.catalog.List(ctx, name)
		if aerr != nil {
			return aerr
		}
		if len(datasets) == 0 {
			fmt.Println("No datasets loaded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tIMPORTED\tDEFAULT")
		for _, ds := range datasets {
			marker := ""
			if ds.IsDefault {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ds.Name, ds.Version, ds.Imported.Format("2006-01-02 15:04:05"), marker)
		}
		return w.Flush()
	},
}
