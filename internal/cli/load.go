package cli

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/loader"
)

var (
	loadDir        string
	loadPublish    bool
	loadOnlyParse  bool
	loadAssetsOnly bool
	loadPassword   string
)

var loadCmd = &cobra.Command{
	Use:   "load [flags] <name> [<version>]",
	Short: "Load a DDF package into the database",
	Long: `Load ingests the DDF package in the given directory (default: the current
directory) as a new version of the named dataset. Without an explicit
version a date-stamped one is assigned. --publish promotes the new version
to default once the load succeeds.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, closeFn, err := setup(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		opt := loader.Options{
			Dir:        loadDir,
			Name:       args[0],
			Password:   loadPassword,
			Publish:    loadPublish,
			OnlyParse:  loadOnlyParse,
			AssetsOnly: loadAssetsOnly,
		}
		if len(args) == 2 {
			opt.Version = args[1]
		}

		res, aerr := rt.loader.Run(ctx, opt)
		if aerr != nil {
			return aerr
		}
		if loadOnlyParse {
			definition, err := res.Model.Marshal()
			if err != nil {
				return err
			}
			pretty, err := jsoniter.MarshalIndent(jsoniter.RawMessage(definition), "", "  ")
			if err != nil {
				return err
			}
			os.Stdout.Write(append(pretty, '\n'))
			return nil
		}
		if loadAssetsOnly {
			fmt.Printf("Uploaded %d assets for %s version %s\n", res.AssetsUploaded, opt.Name, res.Version)
			return nil
		}
		fmt.Printf("Loaded %s version %s: %d tables, %d assets\n",
			opt.Name, res.Version, res.Tables, res.AssetsUploaded)
		if loadPublish {
			fmt.Printf("Version %s is now the default\n", res.Version)
		}
		return nil
	},
}

func init() {
	loadCmd.Flags().StringVarP(&loadDir, "dir", "d", ".", "Directory containing the DDF package")
	loadCmd.Flags().BoolVar(&loadPublish, "publish", false, "Make the loaded version the default")
	loadCmd.Flags().BoolVar(&loadOnlyParse, "only-parse", false, "Derive and print the schema without touching the database")
	loadCmd.Flags().BoolVarP(&loadAssetsOnly, "assets-only", "a", false, "Only upload the package assets for an existing version")
	loadCmd.Flags().StringVar(&loadPassword, "password", "", "Protect the loaded version with a password")
}
