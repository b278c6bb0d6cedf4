package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/studystore/internal/rdb"
	"github.com/mesh-intelligence/studystore/pkg/studystore"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the studystore version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"version":        studystore.Version,
					"module":         studystore.ModulePath,
					"schema_version": rdb.SchemaVersion,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "studystore v%s\nmodule: %s\nschema: %d\n",
				studystore.Version, studystore.ModulePath, rdb.SchemaVersion)
			return nil
		},
	}
}
