package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

func newStudyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Create and inspect studies",
	}
	cmd.AddCommand(newStudyCreateCmd(a))
	cmd.AddCommand(newStudyListCmd(a))
	cmd.AddCommand(newStudyShowCmd(a))
	cmd.AddCommand(newStudySetAttrCmd(a))
	return cmd
}

func newStudyCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a study with a fresh UUID",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				studyID, err := s.CreateStudy(ctx)
				if err != nil {
					return err
				}
				studyUUID, err := s.GetStudyUUIDFromID(ctx, studyID)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]any{"study_id": studyID, "study_uuid": studyUUID})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created study %d (%s)\n", studyID, studyUUID)
				return nil
			})
		},
	}
}

func newStudyListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List studies with trial counts",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				studies, err := s.ListStudies(ctx)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					if studies == nil {
						studies = []types.StudySummary{}
					}
					return printJSON(cmd.OutOrStdout(), studies)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tUUID\tTRIALS\tRUNNING\tCOMPLETE\tFAIL")
				for _, st := range studies {
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\n", st.StudyID, st.StudyUUID, st.NTrials,
						st.ByState[types.StateRunning], st.ByState[types.StateComplete], st.ByState[types.StateFail])
				}
				return w.Flush()
			})
		},
	}
}

// studyDetail is the output of study show.
type studyDetail struct {
	StudyID     int64          `json:"study_id"`
	StudyUUID   string         `json:"study_uuid"`
	UserAttrs   map[string]any `json:"user_attrs"`
	NTrials     int            `json:"n_trials"`
	BestTrialID *int64         `json:"best_trial_id,omitempty"`
	BestValue   *float64       `json:"best_value,omitempty"`
}

func newStudyShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <study-id|study-uuid>",
		Short: "Show a study's attributes and best trial",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				detail, err := loadStudyDetail(ctx, s, args[0])
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), detail)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "study %d (%s)\ntrials: %d\n", detail.StudyID, detail.StudyUUID, detail.NTrials)
				if detail.BestTrialID != nil {
					fmt.Fprintf(out, "best: trial %d, value %v\n", *detail.BestTrialID, *detail.BestValue)
				}
				keys := make([]string, 0, len(detail.UserAttrs))
				for k := range detail.UserAttrs {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "attr %s = %v\n", k, detail.UserAttrs[k])
				}
				return nil
			})
		},
	}
}

func loadStudyDetail(ctx context.Context, s types.Session, ref string) (studyDetail, error) {
	studyID, err := resolveStudy(ctx, s, ref)
	if err != nil {
		return studyDetail{}, err
	}
	d := studyDetail{StudyID: studyID}
	if d.StudyUUID, err = s.GetStudyUUIDFromID(ctx, studyID); err != nil {
		return studyDetail{}, err
	}
	if d.UserAttrs, err = s.GetStudyUserAttrs(ctx, studyID); err != nil {
		return studyDetail{}, err
	}
	if d.NTrials, err = s.GetNTrials(ctx, studyID, ""); err != nil {
		return studyDetail{}, err
	}
	best, err := s.GetBestTrial(ctx, studyID)
	switch {
	case err == nil:
		d.BestTrialID = &best.TrialID
		d.BestValue = best.Value
	case !errors.Is(err, types.ErrNotFound):
		return studyDetail{}, err
	}
	return d, nil
}

func newStudySetAttrCmd(a *app) *cobra.Command {
	var system bool
	cmd := &cobra.Command{
		Use:   "set-attr <study-id|study-uuid> <key> <value>",
		Short: "Set a study attribute",
		Long:  "Set a study attribute. The value is parsed as JSON when possible and stored as a string otherwise.",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[1]
			if key == types.SystemAttrsKey {
				return usagef("%s is reserved; use --system", key)
			}
			ctx := cmd.Context()
			return a.withSession(ctx, func(s types.Session) error {
				studyID, err := resolveStudy(ctx, s, args[0])
				if err != nil {
					return err
				}
				value := parseValue(args[2])
				if system {
					err = s.SetStudySystemAttr(ctx, studyID, key, value)
				} else {
					err = s.SetStudyUserAttr(ctx, studyID, key, value)
				}
				if err != nil {
					return err
				}
				if !a.flags.jsonMode {
					fmt.Fprintf(cmd.OutOrStdout(), "study %d: %s set\n", studyID, key)
					return nil
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"study_id": studyID, "key": key, "value": value, "system": system})
			})
		},
	}
	cmd.Flags().BoolVar(&system, "system", false, "write under the reserved system attributes")
	return cmd
}
