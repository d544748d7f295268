package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/mysql"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name> <version>",
	Short: "Delete dataset versions and their tables",
	Long: `Delete removes one version (or a comma separated list of versions) of a
dataset, dropping its backing tables. The special version _ALL_ removes
every version of the dataset. The default version cannot be removed on its
own; use _ALL_ to remove everything.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, closeFn, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		name, selector := args[0], args[1]
		tables, aerr := rt.catalog.Remove(ctx, name, selector)
		if aerr != nil {
			return aerr
		}
		if err := rt.dropTables(ctx, tables); err != nil {
			return err
		}
		// removing the default leaves the dataset without one
		if selector != mysql.VersionAll {
			if aerr := rt.catalog.EnsureDefault(ctx, name); aerr != nil {
				return aerr
			}
		}
		fmt.Printf("Deleted %s %s (%d tables dropped)\n", name, selector, len(tables))
		return nil
	},
}
