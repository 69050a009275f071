package cli

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/cobra"
)

//go:embed manifest.cue
var manifestSchema string

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a tidemark app manifest",
		Long: `Validate an app manifest (CUE or JSON) against the embedded schema:
name, store path, concurrency limit, and provider declarations.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, path string) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("reading manifest %q", path), err)
	}

	errs := validateManifest(data, path)
	if len(errs) > 0 {
		result := ValidationResult{Valid: false, Errors: errs}
		text := fmt.Sprintf("manifest invalid: %d error(s)", len(errs))
		for _, e := range errs {
			text += "\n  " + e
		}
		if err := formatter.Success(result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "manifest validation failed")
	}

	formatter.VerboseLog("manifest %s matches schema", path)
	return formatter.Success(ValidationResult{Valid: true}, "manifest valid")
}

// validateManifest unifies the manifest with the embedded #Manifest
// definition and returns one message per violation. CUE is a superset of
// JSON, so both manifest flavors compile the same way.
func validateManifest(data []byte, filename string) []string {
	ctx := cuecontext.New()

	schema := ctx.CompileString(manifestSchema, cue.Filename("manifest.cue"))
	if err := schema.Err(); err != nil {
		return []string{fmt.Sprintf("internal schema error: %v", err)}
	}
	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Err(); err != nil {
		return []string{fmt.Sprintf("internal schema error: %v", err)}
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return cueMessages(err)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return cueMessages(err)
	}
	return nil
}

func cueMessages(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}
