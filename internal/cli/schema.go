package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/studystore/internal/rdb"
)

func newSchemaCmd(a *app) *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the table definitions",
		Long:  "Print the CREATE statements for a dialect without touching any database.\nDefaults to the configured backend.",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dialect == "" {
				dialect = a.config.GetString(cfgKeyBackend)
			}
			stmts, err := rdb.SchemaDDL(dialect)
			if err != nil {
				return fmt.Errorf("dialect %q: %w", dialect, err)
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"dialect":        dialect,
					"schema_version": rdb.SchemaVersion,
					"statements":     stmts,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(stmts, "\n\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "sqlite, postgres or mysql")
	return cmd
}
