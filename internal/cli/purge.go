package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge <name>",
	Short: "Drop old versions of a dataset",
	Long: `Purge deletes every version older than the default and its immediate
predecessor, dropping their backing tables. Versions newer than the
default always survive. Without a default, the two most recent versions
are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, closeFn, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		name := args[0]
		tables, aerr := rt.catalog.Purge(ctx, name)
		if aerr != nil {
			return aerr
		}
		if len(tables) == 0 {
			fmt.Printf("Nothing to purge for %s\n", name)
			return nil
		}
		if err := rt.dropTables(ctx, tables); err != nil {
			return err
		}
		fmt.Printf("Purged %s (%d tables dropped)\n", name, len(tables))
		return nil
	},
}
