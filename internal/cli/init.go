package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize studystore storage",
		Long:  "Write a default config.yaml if missing, then create the tables and the schema version row.",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			backend, err := a.attach(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, backend.Detach())
			}()

			info, err := backend.VersionInfo(cmd.Context())
			if err != nil {
				return err
			}
			backendName := a.config.GetString(cfgKeyBackend)
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"backend":         backendName,
					"schema_version":  info.SchemaVersion,
					"library_version": info.LibraryVersion,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "studystore initialized (%s, schema %d, written by v%s)\n",
				backendName, info.SchemaVersion, info.LibraryVersion)
			return nil
		},
	}
}
