package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/errors"
)

func newTestRunner(t *testing.T, registry map[string]Config) *Runner {
	t.Helper()
	return NewRunner(registry, t.TempDir(), "", nil)
}

func TestRunCapturesOutput(t *testing.T) {
	r := newTestRunner(t, map[string]Config{
		"greet": {Command: "echo hello; echo oops >&2"},
	})

	result, err := r.Run(context.Background(), "greet")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false, exit=%d stderr=%q", result.ExitCode, result.Stderr)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "oops" {
		t.Errorf("Stderr = %q, want oops", result.Stderr)
	}
}

func TestRunExitCode(t *testing.T) {
	r := newTestRunner(t, map[string]Config{
		"fail": {Command: "exit 3"},
	})

	result, err := r.Run(context.Background(), "fail")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true for exit 3")
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestRunUnknownHook(t *testing.T) {
	r := newTestRunner(t, nil)

	_, err := r.Run(context.Background(), "missing")
	if !errors.Is(err, errors.ErrHookNotFound) {
		t.Errorf("Run() error = %v, want ErrHookNotFound", err)
	}
	if !errors.IsHookFailure(err) {
		t.Errorf("error %v is not a hook failure", err)
	}
}

func TestRunTimeout(t *testing.T) {
	r := newTestRunner(t, map[string]Config{
		"slow": {Command: "sleep 5", Timeout: 50 * time.Millisecond},
	})

	result, err := r.Run(context.Background(), "slow")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.TimedOut {
		t.Error("TimedOut = false for hook exceeding its timeout")
	}
	if result.Success {
		t.Error("Success = true for timed-out hook")
	}
}

func TestRunAllStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(map[string]Config{
		"first":  {Command: "touch first.txt"},
		"broken": {Command: "exit 1"},
		"after":  {Command: "touch after.txt"},
	}, dir, "", nil)

	results, err := r.RunAll(context.Background(), []string{"first", "broken", "after"})
	if !errors.IsHookFailure(err) {
		t.Fatalf("RunAll() error = %v, want hook failure", err)
	}
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2 (phase short-circuits)", len(results))
	}

	if _, statErr := os.Stat(filepath.Join(dir, "after.txt")); !os.IsNotExist(statErr) {
		t.Error("hook after the failure still ran")
	}

	var hookErr *errors.HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("error %v is not *HookError", err)
	}
	if hookErr.HookID != "broken" {
		t.Errorf("HookID = %q, want broken", hookErr.HookID)
	}
	if hookErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", hookErr.ExitCode)
	}
}

func TestRunAllContinueOnFailure(t *testing.T) {
	r := newTestRunner(t, map[string]Config{
		"optional": {Command: "exit 1", ContinueOnFailure: true},
		"required": {Command: "true"},
	})

	results, err := r.RunAll(context.Background(), []string{"optional", "required"})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Success || !results[1].Success {
		t.Errorf("results = [%t %t], want [false true]", results[0].Success, results[1].Success)
	}
}

func TestRunWorkingDirAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(map[string]Config{
		"where": {
			Command:     "pwd; printf '%s' \"$HOOK_VAR\"",
			WorkingDir:  "sub",
			Environment: map[string]string{"HOOK_VAR": "injected"},
		},
	}, dir, "", nil)

	result, err := r.Run(context.Background(), "where")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(result.Stdout, filepath.Join(dir, "sub")) {
		t.Errorf("Stdout = %q, does not contain working dir", result.Stdout)
	}
	if !strings.HasSuffix(result.Stdout, "injected") {
		t.Errorf("Stdout = %q, environment variable not injected", result.Stdout)
	}
}

func TestSaveResults(t *testing.T) {
	logDir := t.TempDir()
	r := NewRunner(map[string]Config{
		"lint": {Command: "echo clean"},
	}, t.TempDir(), logDir, nil)

	results, err := r.RunAll(context.Background(), []string{"lint"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SaveResults("task-1", "pre", results); err != nil {
		t.Fatalf("SaveResults() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(logDir, "task-1", "pre.log"))
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	text := string(data)
	for _, want := range []string{"=== PRE-TASK HOOKS ===", "Task: task-1", "Hook: lint", "clean"} {
		if !strings.Contains(text, want) {
			t.Errorf("transcript missing %q:\n%s", want, text)
		}
	}
}
