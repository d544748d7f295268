package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var makeDefaultCmd = &cobra.Command{
	Use:   "make-default <name> <version>",
	Short: "Promote a version to the dataset default",
	Long: `Make-default marks the given version as the one served for version-less
requests. The special version "latest" clears the explicit default so
lookups follow the most recently imported version.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, closeFn, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		name, version := args[0], args[1]
		if aerr := rt.catalog.MarkDefault(ctx, name, version); aerr != nil {
			return aerr
		}
		fmt.Printf("Default version of %s is now %s\n", name, version)
		return nil
	},
}
