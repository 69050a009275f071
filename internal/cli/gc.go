package cli

import (
	"github.com/spf13/cobra"

	"github.com/tidemark-io/tidemark/internal/state"
)

// GCReport is the payload of the gc command.
type GCReport struct {
	PendingDeletion []string `json:"pending_deletion"`
	Pruned          []string `json:"pruned"`
}

// NewGCCommand creates the gc command. External-system teardown needs the
// embedding application's registered providers, so the command reports
// what is pending and prunes only records whose tracking is already gone
// (a previous pass tore the effects down but failed before deleting the
// record).
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gc <store-path>",
		Short:         "Report and prune components pending deletion",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runGC(opts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := newFormatter(opts, cmd)

	st, err := openExistingStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	pending, err := st.ListByStatus(ctx, state.StatusPendingDeletion)
	if err != nil {
		return WrapExitError(ExitCommandError, "listing pending deletions", err)
	}

	report := GCReport{PendingDeletion: []string{}, Pruned: []string{}}
	for _, rec := range pending {
		display := rec.PathDisplay
		if display == "" {
			display = "/"
		}
		owned, err := st.ListTrackedKeysByOwnerPrefix(ctx, rec.PathKey)
		if err != nil {
			return WrapExitError(ExitCommandError, "listing owned tracking", err)
		}
		if len(owned) > 0 {
			formatter.VerboseLog("%s still owns %d tracked pair(s), left for the next update", display, len(owned))
			report.PendingDeletion = append(report.PendingDeletion, display)
			continue
		}
		if err := st.DeleteComponent(ctx, rec.PathKey); err != nil {
			return WrapExitError(ExitCommandError, "pruning component", err)
		}
		report.Pruned = append(report.Pruned, display)
	}

	return formatter.Success(report, renderGCReport(report))
}

func renderGCReport(report GCReport) string {
	if len(report.PendingDeletion) == 0 && len(report.Pruned) == 0 {
		return "nothing pending deletion"
	}
	text := ""
	for _, p := range report.Pruned {
		text += "pruned " + p + "\n"
	}
	for _, p := range report.PendingDeletion {
		text += "pending " + p + " (effects not yet torn down; run an update)\n"
	}
	return text[:len(text)-1]
}
