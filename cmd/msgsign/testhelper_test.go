package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/remiblancher/msgsigner/internal/audit"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags(root)

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	err = root.Execute()
	// PersistentPostRunE does not run when the command fails.
	_ = audit.Close()
	return buf.String(), err
}

// executeWithInput is executeCommand with stdin set to input.
func executeWithInput(root *cobra.Command, input []byte, args ...string) (string, error) {
	resetFlags(root)

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(bytes.NewReader(input))
	root.SetArgs(args)

	err := root.Execute()
	_ = audit.Close()
	return buf.String(), err
}

// resetFlags restores every flag of cmd and its children to its default.
// Flag variables are package globals and keep their values between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	t.Setenv("MSGSIGN_PROFILE", "")
	t.Setenv("MSGSIGN_AUDIT_LOG", "")
	t.Setenv("MSGSIGN_LOG_LEVEL", "")
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// readFile returns the content of a file, failing the test on error.
func (tc *testContext) readFile(path string) []byte {
	tc.t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		tc.t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return data
}

// genKey generates a software key and returns the path of its public key.
func (tc *testContext) genKey(spec, name string) string {
	tc.t.Helper()
	pubPath := tc.path(name + ".pub")
	_, err := executeCommand(rootCmd, "key", "gen",
		"--spec", spec,
		"--name", name,
		"--key-store", tc.path("keys"),
		"--pub-out", pubPath)
	if err != nil {
		tc.t.Fatalf("key gen %s failed: %v", spec, err)
	}
	return pubPath
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file %s to exist", path)
	}
}

func assertFileNotEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("Failed to stat file %s: %v", path, err)
		return
	}
	if info.Size() == 0 {
		t.Errorf("Expected file %s to be non-empty", path)
	}
}
