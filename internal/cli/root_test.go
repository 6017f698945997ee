package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestExecuteVersion(t *testing.T) {
	out, err := captureStdout(t, func() error {
		rootCmd.SetArgs([]string{"version"})
		return rootCmd.Execute()
	})
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	requireContains(t, out, "postrelay dev")
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "scan", "history", "doctor", "init", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestNewLoggerVerbose(t *testing.T) {
	oldOut, oldVerbose := logOutput, verbose
	t.Cleanup(func() { logOutput, verbose = oldOut, oldVerbose })

	var buf bytes.Buffer
	logOutput = &buf

	verbose = false
	newLogger().Debug("hidden")
	verbose = true
	newLogger().Debug("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line logged without --verbose")
	}
	requireContains(t, out, "msg=shown k=v")
}
