// Package apply parses agent responses for markdown code blocks and
// applies them to the working tree. Application is best-effort: each
// block either applies or is counted as failed, and the caller decides
// what a partial application means for the task.
package apply

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/logging"
)

// codeBlockPattern matches fenced blocks of the form
// ```language:path/to/file or plain ```language.
var codeBlockPattern = regexp.MustCompile("(?s)```(\\w+)(?::([^\n]+))?\n(.*?)```")

var diffPathPattern = regexp.MustCompile(`[ab]/(.+)$`)

// commandTimeout bounds each extracted shell command.
const commandTimeout = 60 * time.Second

// shellLanguages are fence languages treated as commands to run.
var shellLanguages = map[string]bool{
	"bash": true, "sh": true, "shell": true, "zsh": true, "fish": true,
}

// diffLanguages are fence languages treated as patches.
var diffLanguages = map[string]bool{
	"diff": true, "patch": true,
}

// CodeBlock is one fenced block from an agent response.
type CodeBlock struct {
	Content   string
	Language  string
	FilePath  string
	StartLine int
}

// Operation names a file change kind.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// FileChange is one file write or patch extracted from a response.
type FileChange struct {
	Path      string
	Operation Operation
	Content   string
	IsDiff    bool
}

// Command is one shell command extracted from a response.
type Command struct {
	Command string
}

// Applier extracts and applies changes from agent responses.
type Applier struct {
	workingDir string
	dryRun     bool
	logger     *logging.Logger
}

// New creates an Applier rooted at workingDir. With dryRun set, changes
// are logged but not written.
func New(workingDir string, dryRun bool, logger *logging.Logger) *Applier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Applier{workingDir: workingDir, dryRun: dryRun, logger: logger}
}

// ParseResponse extracts every fenced code block from a response.
func (a *Applier) ParseResponse(content string) []CodeBlock {
	var blocks []CodeBlock
	for _, idx := range codeBlockPattern.FindAllStringSubmatchIndex(content, -1) {
		lang := strings.ToLower(content[idx[2]:idx[3]])
		var path string
		if idx[4] >= 0 {
			path = strings.TrimSpace(content[idx[4]:idx[5]])
		}
		blocks = append(blocks, CodeBlock{
			Content:   strings.TrimSpace(content[idx[6]:idx[7]]),
			Language:  lang,
			FilePath:  path,
			StartLine: strings.Count(content[:idx[0]], "\n"),
		})
	}
	return blocks
}

// ExtractFileChanges returns whole-file writes: blocks with an explicit
// file path that are neither shell nor diff fences.
func (a *Applier) ExtractFileChanges(blocks []CodeBlock) []FileChange {
	var changes []FileChange
	for _, block := range blocks {
		if shellLanguages[block.Language] || diffLanguages[block.Language] {
			continue
		}
		if block.FilePath == "" {
			continue
		}

		path := filepath.Join(a.workingDir, block.FilePath)
		op := OpCreate
		if _, err := os.Stat(path); err == nil {
			op = OpUpdate
		}
		changes = append(changes, FileChange{
			Path:      path,
			Operation: op,
			Content:   block.Content,
		})
	}
	return changes
}

// ExtractDiffs returns patch changes from diff fences. A diff whose
// target path cannot be determined is dropped.
func (a *Applier) ExtractDiffs(blocks []CodeBlock) []FileChange {
	var changes []FileChange
	for _, block := range blocks {
		if !diffLanguages[block.Language] {
			continue
		}
		path := pathFromDiff(block.Content)
		if path == "" {
			continue
		}
		changes = append(changes, FileChange{
			Path:      filepath.Join(a.workingDir, path),
			Operation: OpUpdate,
			Content:   block.Content,
			IsDiff:    true,
		})
	}
	return changes
}

// ExtractCommands returns shell commands from shell fences, one per
// non-comment line.
func (a *Applier) ExtractCommands(blocks []CodeBlock) []Command {
	var commands []Command
	for _, block := range blocks {
		if !shellLanguages[block.Language] {
			continue
		}
		for _, line := range strings.Split(block.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			commands = append(commands, Command{Command: line})
		}
	}
	return commands
}

// ApplyAll parses a response and applies every extracted change and
// command. It returns how many succeeded and how many failed.
func (a *Applier) ApplyAll(ctx context.Context, content string) (applied, failed int) {
	blocks := a.ParseResponse(content)

	changes := a.ExtractFileChanges(blocks)
	changes = append(changes, a.ExtractDiffs(blocks)...)
	for _, change := range changes {
		if a.ApplyFileChange(change) {
			applied++
		} else {
			failed++
		}
	}

	for _, cmd := range a.ExtractCommands(blocks) {
		if a.ApplyCommand(ctx, cmd) {
			applied++
		} else {
			failed++
		}
	}
	return applied, failed
}

// ApplyFileChange writes or patches one file.
func (a *Applier) ApplyFileChange(change FileChange) bool {
	if a.dryRun {
		a.logger.Info("dry run: would apply file change",
			"path", change.Path, "operation", string(change.Operation), "diff", change.IsDiff)
		return true
	}

	if change.IsDiff {
		return a.applyPatch(change.Path, change.Content)
	}

	if err := os.MkdirAll(filepath.Dir(change.Path), 0755); err != nil {
		a.logger.Error("create parent directory", "path", change.Path, "error", err.Error())
		return false
	}
	if err := os.WriteFile(change.Path, []byte(change.Content), 0644); err != nil {
		a.logger.Error("write file", "path", change.Path, "error", err.Error())
		return false
	}
	a.logger.Debug("applied file change", "path", change.Path, "operation", string(change.Operation))
	return true
}

// ApplyCommand runs one extracted shell command in the working tree.
func (a *Applier) ApplyCommand(ctx context.Context, cmd Command) bool {
	if a.dryRun {
		a.logger.Info("dry run: would run command", "command", cmd.Command)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, "sh", "-c", cmd.Command)
	c.Dir = a.workingDir
	out, err := c.CombinedOutput()
	if err != nil {
		a.logger.Warn("command failed",
			"command", cmd.Command, "error", err.Error(), "output", string(out))
		return false
	}
	a.logger.Debug("command succeeded", "command", cmd.Command)
	return true
}

// applyPatch shells out to patch(1) with the diff in a temp file.
func (a *Applier) applyPatch(path, diff string) bool {
	tmp, err := os.CreateTemp("", "taskmaster-*.patch")
	if err != nil {
		return false
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(diff); err != nil {
		tmp.Close()
		return false
	}
	if err := tmp.Close(); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "patch", "-u", path, tmp.Name())
	cmd.Dir = a.workingDir
	if err := cmd.Run(); err != nil {
		a.logger.Warn("patch failed", "path", path, "error", err.Error())
		return false
	}
	return true
}

// pathFromDiff extracts the target path from --- a/ or +++ b/ lines.
func pathFromDiff(diff string) string {
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++") && !strings.HasPrefix(line, "---") {
			continue
		}
		if m := diffPathPattern.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
