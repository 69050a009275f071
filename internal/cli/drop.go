package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDropCommand creates the drop command. This clears the persisted
// store only; reconciling external systems to nonexistence needs the
// embedding application's providers (App.Drop). Destructive, hence the
// required --force.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:           "drop <store-path>",
		Short:         "Clear all persisted state in a store",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return NewExitError(ExitCommandError, "drop is destructive; pass --force to confirm")
			}
			return runDrop(rootOpts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm clearing all persisted state")
	return cmd
}

func runDrop(opts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := newFormatter(opts, cmd)

	st, err := openExistingStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	tracked, err := st.ListTrackedKeys(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "listing tracking", err)
	}
	for _, tk := range tracked {
		if err := st.DeleteTracking(ctx, tk.Provider, tk.KeyEnc); err != nil {
			return WrapExitError(ExitCommandError, "deleting tracking", err)
		}
	}

	recs, err := st.ListComponents(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "listing components", err)
	}
	for _, rec := range recs {
		if err := st.DeleteComponent(ctx, rec.PathKey); err != nil {
			return WrapExitError(ExitCommandError, "deleting component", err)
		}
	}

	payload := map[string]int{"components": len(recs), "tracked_pairs": len(tracked)}
	text := fmt.Sprintf("dropped %d component(s) and %d tracked pair(s)", len(recs), len(tracked))
	return formatter.Success(payload, text)
}
