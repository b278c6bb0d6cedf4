package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

func newTrialCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trial",
		Short: "Inspect trials",
	}
	cmd.AddCommand(newTrialListCmd(a))
	cmd.AddCommand(newTrialShowCmd(a))
	return cmd
}

func newTrialListCmd(a *app) *cobra.Command {
	var study, state string
	cmd := &cobra.Command{
		Use:   "list --study <study-id|study-uuid>",
		Short: "List the trials of a study",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if study == "" {
				return usagef("--study is required")
			}
			var filter types.State
			if state != "" {
				var err error
				if filter, err = types.ParseState(state); err != nil {
					return usagef("invalid state %q (valid: RUNNING, COMPLETE, FAIL)", state)
				}
			}
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				studyID, err := resolveStudy(ctx, s, study)
				if err != nil {
					return err
				}
				all, err := s.GetAllTrials(ctx, studyID)
				if err != nil {
					return err
				}
				trials := make([]types.Trial, 0, len(all))
				for _, t := range all {
					if filter == "" || t.State == filter {
						trials = append(trials, t)
					}
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), trials)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATE\tVALUE\tPARAMS\tSTEPS\tSTARTED")
				for _, t := range trials {
					value := "-"
					if t.Value != nil {
						value = fmt.Sprint(*t.Value)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n", t.TrialID, t.State, value,
						len(t.Params), len(t.IntermediateValues), t.DatetimeStart.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&study, "study", "", "study id or UUID")
	cmd.Flags().StringVar(&state, "state", "", "only trials in this state")
	return cmd
}

func newTrialShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <trial-id>",
		Short: "Show one trial as JSON",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trialID, err := parseID("trial", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				trial, err := s.GetTrial(ctx, trialID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), trial)
			})
		},
	}
}
