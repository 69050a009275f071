package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/internal/state"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tidemark", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"state", "gc", "drop", "validate", "version"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	_, _, err := execute(t, "version", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

// execute runs the CLI with args and captures stdout/stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// seedStore creates a store file with a couple of records.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	st, err := state.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.UpsertComponent(ctx, state.ComponentRecord{
		PathKey:     "",
		PathDisplay: "",
		Status:      state.StatusSucceeded,
		UpdatedPass: "pass-1",
	}))
	require.NoError(t, st.UpsertComponent(ctx, state.ComponentRecord{
		PathKey:     "0304686f6c64",
		PathDisplay: `/"hold"`,
		ParentKey:   "",
		Status:      state.StatusPendingDeletion,
		UpdatedPass: "pass-1",
	}))
	require.NoError(t, st.ReplaceTracking(ctx, "kv", "030178", []byte("v"), "0304686f6c64", "pass-1"))
	return path
}

func TestStateCommand(t *testing.T) {
	path := seedStore(t)

	out, _, err := execute(t, "state", path, "--tracking", "--format", "json")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report StateReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Len(t, report.Components, 2)
	require.Len(t, report.Tracking, 1)
	assert.Equal(t, "kv", report.Tracking[0].Provider)
}

func TestStateCommand_MissingStore(t *testing.T) {
	_, _, err := execute(t, "state", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGCCommand(t *testing.T) {
	path := seedStore(t)

	// The pending component still owns a tracked pair: reported, kept.
	out, _, err := execute(t, "gc", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	// Once its tracking is gone it can be pruned.
	st, err := state.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.DeleteTracking(context.Background(), "kv", "030178"))
	require.NoError(t, st.Close())

	out, _, err = execute(t, "gc", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pruned")

	st, err = state.Open(path)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.ListComponents(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDropCommand(t *testing.T) {
	path := seedStore(t)

	_, _, err := execute(t, "drop", path)
	require.Error(t, err, "drop without --force must refuse")

	out, _, err := execute(t, "drop", path, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped 2 component(s)")

	st, err := state.Open(path)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.ListComponents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	tracked, err := st.ListTrackedKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tracked)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "app.cue")
	require.NoError(t, os.WriteFile(valid, []byte(`
name:  "orders"
store: "orders.db"
max_inflight: 64
providers: [{name: "kv", kind: "memkv"}]
`), 0o644))

	out, _, err := execute(t, "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "manifest valid")

	t.Run("json manifest", func(t *testing.T) {
		path := filepath.Join(dir, "app.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name": "orders", "store": "orders.db"}`), 0o644))
		_, _, err := execute(t, "validate", path)
		require.NoError(t, err)
	})

	t.Run("missing store", func(t *testing.T) {
		path := filepath.Join(dir, "bad1.cue")
		require.NoError(t, os.WriteFile(path, []byte(`name: "orders"`), 0o644))
		_, _, err := execute(t, "validate", path)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})

	t.Run("reserved provider name", func(t *testing.T) {
		path := filepath.Join(dir, "bad2.cue")
		require.NoError(t, os.WriteFile(path, []byte(`
name:  "orders"
store: "orders.db"
providers: [{name: "kv@x", kind: "memkv"}]
`), 0o644))
		_, _, err := execute(t, "validate", path)
		require.Error(t, err)
	})

	t.Run("bad quota", func(t *testing.T) {
		path := filepath.Join(dir, "bad3.cue")
		require.NoError(t, os.WriteFile(path, []byte(`
name:  "orders"
store: "orders.db"
max_inflight: 0
`), 0o644))
		_, _, err := execute(t, "validate", path)
		require.Error(t, err)
	})
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tidemark")
}
