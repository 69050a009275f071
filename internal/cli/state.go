package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tidemark-io/tidemark/internal/state"
)

// ComponentInfo is the external view of one persisted component record.
type ComponentInfo struct {
	Path        string `json:"path"`
	Status      string `json:"status"`
	Memoized    bool   `json:"memoized"`
	UpdatedPass string `json:"updated_pass"`
}

// TrackingInfo is the external view of one tracked (provider, key) pair.
type TrackingInfo struct {
	Provider  string `json:"provider"`
	Key       string `json:"key"`
	OwnerPath string `json:"owner_path"`
}

// StateReport is the payload of the state command.
type StateReport struct {
	Components []ComponentInfo `json:"components"`
	Tracking   []TrackingInfo  `json:"tracking,omitempty"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	var withTracking bool

	cmd := &cobra.Command{
		Use:   "state <store-path>",
		Short: "List persisted component and tracking state",
		Long: `List the component records persisted in a tidemark store file,
optionally with the tracked (provider, key) pairs they own.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(rootOpts, cmd, args[0], withTracking)
		},
	}

	cmd.Flags().BoolVar(&withTracking, "tracking", false, "include tracked effect pairs")
	return cmd
}

func openExistingStore(path string) (*state.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("store %q not found", path), err)
	}
	st, err := state.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening store", err)
	}
	return st, nil
}

func runState(opts *RootOptions, cmd *cobra.Command, path string, withTracking bool) error {
	formatter := newFormatter(opts, cmd)

	st, err := openExistingStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	recs, err := st.ListComponents(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "listing components", err)
	}

	report := StateReport{Components: make([]ComponentInfo, 0, len(recs))}
	for _, rec := range recs {
		display := rec.PathDisplay
		if display == "" {
			display = "/"
		}
		report.Components = append(report.Components, ComponentInfo{
			Path:        display,
			Status:      string(rec.Status),
			Memoized:    rec.Fingerprint != nil,
			UpdatedPass: rec.UpdatedPass,
		})
	}

	if withTracking {
		tracked, err := st.ListTrackedKeys(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "listing tracking", err)
		}
		for _, tk := range tracked {
			report.Tracking = append(report.Tracking, TrackingInfo{
				Provider:  tk.Provider,
				Key:       tk.KeyEnc,
				OwnerPath: tk.OwnerPath,
			})
		}
	}

	return formatter.Success(report, renderStateReport(report))
}

func renderStateReport(report StateReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d component(s)\n", len(report.Components))
	for _, c := range report.Components {
		memo := ""
		if c.Memoized {
			memo = " [memoized]"
		}
		fmt.Fprintf(&b, "  %-12s %s%s\n", c.Status, c.Path, memo)
	}
	if report.Tracking != nil {
		fmt.Fprintf(&b, "%d tracked pair(s)\n", len(report.Tracking))
		for _, tk := range report.Tracking {
			fmt.Fprintf(&b, "  %s key=%s owner=%s\n", tk.Provider, tk.Key, tk.OwnerPath)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
