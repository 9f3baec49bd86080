// Package repo takes lightweight snapshots of a git working tree so the
// engine can tell whether an attempt changed anything. Snapshot failures
// degrade to empty output: a missing git binary or a non-repo directory
// must not fail a task, it only disables progress detection.
package repo

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds each git invocation.
const commandTimeout = 5 * time.Second

// Snapshotter captures working-tree snapshots.
type Snapshotter struct {
	workingDir string
}

// NewSnapshotter creates a Snapshotter for the given repository root.
func NewSnapshotter(workingDir string) *Snapshotter {
	return &Snapshotter{workingDir: workingDir}
}

// Diff returns `git diff HEAD` output, or empty on any failure.
func (s *Snapshotter) Diff(ctx context.Context) string {
	return s.run(ctx, "diff", "HEAD")
}

// Status returns short branch-annotated status, or empty on any failure.
func (s *Snapshotter) Status(ctx context.Context) string {
	return strings.TrimSpace(s.run(ctx, "status", "--short", "--branch"))
}

func (s *Snapshotter) run(ctx context.Context, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.workingDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// HasChanges reports whether two diff snapshots differ. Plain string
// inequality: any textual difference counts as progress.
func HasChanges(before, after string) bool {
	return before != after
}
