package vaultcli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bsv-blockchain/blockvault/stores/blocks"
	"github.com/bsv-blockchain/blockvault/stores/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type testCLI struct {
	t      *testing.T
	folder string
}

func newTestCLI(t *testing.T) *testCLI {
	return &testCLI{t: t, folder: t.TempDir()}
}

func (tc *testCLI) run(stdin string, args ...string) (string, error) {
	tc.t.Helper()

	var stdout, stderr bytes.Buffer

	app := NewApp("vaultcli", "test", "none")
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	global := []string{"vaultcli", "--data-folder", tc.folder, "--meta-store", "sqlite:///cli", "--log-level", "ERROR"}

	err := app.Run(append(global, args...))

	return stdout.String(), err
}

func TestSaveReadDelete(t *testing.T) {
	tc := newTestCLI(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("some notes"), 0o600))

	out, err := tc.run("", "save", "--application", "app", "--code-key", "n1", path)
	require.NoError(t, err)

	var file meta.File
	require.NoError(t, json.Unmarshal([]byte(out), &file))
	assert.Equal(t, "notes.txt", file.Filename)
	assert.Equal(t, int64(10), file.Size)

	out, err = tc.run("", "read", file.Key)
	require.NoError(t, err)
	assert.Equal(t, "some notes", out)

	// same content from stdin shares the stored blocks
	out, err = tc.run("some notes", "save", "--application", "app", "-")
	require.NoError(t, err)

	var second meta.File
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	assert.Equal(t, file.FilePathID, second.FilePathID)
	assert.Empty(t, second.Filename)

	output := filepath.Join(t.TempDir(), "copy.txt")
	_, err = tc.run("", "read", "--output", output, "2")
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "some notes", string(data))

	out, err = tc.run("", "delete", "1", "2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":true}`, out)

	_, err = tc.run("", "read", "1")
	require.Error(t, err)

	_, err = tc.run("", "delete", "x")
	require.Error(t, err)
}

func TestCacheCommands(t *testing.T) {
	tc := newTestCLI(t)

	_, err := tc.run("", "cache", "put", "user 1", "alice")
	require.NoError(t, err)

	_, err = tc.run("", "cache", "put", "user 2", "bob")
	require.NoError(t, err)

	out, err := tc.run("", "cache", "get", "user 1")
	require.NoError(t, err)
	assert.Equal(t, "alice\n", out)

	out, err = tc.run("", "cache", "refs", "user")
	require.NoError(t, err)
	assert.JSONEq(t, `["user 1","user 2"]`, out)

	out, err = tc.run("", "cache", "remove", "--children", "user")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":2}`, out)

	_, err = tc.run("", "cache", "get", "user 1")
	require.Error(t, err)
}

func TestLockCommands(t *testing.T) {
	tc := newTestCLI(t)

	_, err := tc.run("", "lock", "--timeout", "1s", "job", "true")
	require.NoError(t, err)

	_, err = tc.run("", "lock", "job", "false")
	require.Error(t, err)

	// both runs released the lock
	out, err := tc.run("", "unlock", "job")
	require.NoError(t, err)
	assert.JSONEq(t, `{"released":false}`, out)

	out, err = tc.run("", "reap")
	require.NoError(t, err)
	assert.Contains(t, out, "scanned")
}

func TestSweepAndHealth(t *testing.T) {
	tc := newTestCLI(t)

	out, err := tc.run("", "sweep", "--dry-run", "--grace", "0s")
	require.NoError(t, err)

	var report blocks.SweepReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.Zero(t, report.UnreferencedRows)

	out, err = tc.run("", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "MetaStore")
}
