package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/studystore/internal/export"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

func newExportCmd(a *app) *cobra.Command {
	var study, out string
	cmd := &cobra.Command{
		Use:   "export --study <study-id|study-uuid> --out <file>",
		Short: "Write a study and its trials to a JSONL file",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if study == "" || out == "" {
				return usagef("--study and --out are required")
			}
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				studyID, err := resolveStudy(ctx, s, study)
				if err != nil {
					return err
				}
				sum, err := export.Export(ctx, s, studyID, out)
				if err != nil {
					return err
				}
				a.logger.Info("study exported", "study_id", studyID, "trials", sum.Trials, "path", out)
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{"study_id": studyID, "trials": sum.Trials, "path": out})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported study %d (%d trials) to %s\n", studyID, sum.Trials, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&study, "study", "", "study id or UUID")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import --in <file>",
		Short: "Create a study from a JSONL export",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return usagef("--in is required")
			}
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				sum, err := export.Import(ctx, s, in)
				if err != nil {
					return err
				}
				if sum.Skipped > 0 {
					a.logger.Warn("skipped malformed lines", "path", in, "count", sum.Skipped)
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{"study_id": sum.StudyID, "trials": sum.Trials, "skipped": sum.Skipped})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported study %d (%d trials)\n", sum.StudyID, sum.Trials)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input file")
	return cmd
}
