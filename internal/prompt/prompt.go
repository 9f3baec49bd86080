// Package prompt constructs agent prompts from tasks: a task description
// section, optional repository context (git status, matching file
// snippets), and constraint sections derived from the task's hooks.
package prompt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/taskmaster/internal/task"
)

// DefaultMaxFileSize bounds file snippets included in a prompt.
const DefaultMaxFileSize = 10_000

// DefaultSystemPrompt is used when no template overrides it.
const DefaultSystemPrompt = `You are an AI coding assistant executing a task from a task orchestration system.

Your responsibilities:
- Understand the task description and requirements
- Consider the current repository state and context
- Execute the task according to the specified constraints
- Provide clear explanations of your changes
- Ensure all pre-conditions are met before starting
- Verify post-conditions are satisfied after completion

Be thorough, precise, and follow best practices for code quality and maintainability.`

// Context carries everything a single prompt is built from. GitStatus is
// supplied by the caller so the builder itself does no I/O beyond
// reading snippet files.
type Context struct {
	Task                *task.Task
	RepoPath            string
	GitStatus           string
	IncludeFileSnippets bool
	FilePatterns        []string
	MaxFileSize         int
}

// Components are the assembled parts of one prompt.
type Components struct {
	System          string
	TaskDescription string
	Context         string
	Constraints     string
}

// FullPrompt combines the user-facing sections into one prompt string.
// The system prompt travels separately in the completion request.
func (c Components) FullPrompt() string {
	sections := []string{c.TaskDescription}
	if c.Context != "" {
		sections = append(sections, "\n## Context\n\n"+c.Context)
	}
	if c.Constraints != "" {
		sections = append(sections, "\n## Requirements\n\n"+c.Constraints)
	}
	return strings.Join(sections, "\n")
}

// Builder assembles prompts, optionally from a section template.
type Builder struct {
	template map[string]string
}

// NewBuilder creates a Builder with no template.
func NewBuilder() *Builder {
	return &Builder{template: map[string]string{}}
}

// NewBuilderFromTemplate loads a section template. The format is plain
// text with `--- name ---` markers; recognized sections are "system"
// (replaces the default system prompt) and "task" (a task description
// template with {id}, {title}, {description} and {path} placeholders).
func NewBuilderFromTemplate(path string) (*Builder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return &Builder{template: parseTemplate(string(data))}, nil
}

// Build assembles prompt components for one task.
func (b *Builder) Build(ctx Context) Components {
	system := b.template["system"]
	if system == "" {
		system = DefaultSystemPrompt
	}
	return Components{
		System:          system,
		TaskDescription: b.taskDescription(ctx.Task),
		Context:         b.contextSection(ctx),
		Constraints:     b.constraintsSection(ctx.Task),
	}
}

func (b *Builder) taskDescription(t *task.Task) string {
	if tmpl := b.template["task"]; tmpl != "" {
		r := strings.NewReplacer(
			"{id}", t.ID,
			"{title}", t.Title,
			"{description}", t.Description,
			"{path}", t.Path,
		)
		return r.Replace(tmpl)
	}

	parts := []string{
		"# Task: " + t.Title,
		"\n**Task ID:** " + t.ID,
		"\n**Description:**\n" + t.Description,
	}
	if t.Path != "" && t.Path != "." {
		parts = append(parts, "\n**Working Directory:** "+t.Path)
	}
	if len(t.Metadata) > 0 {
		keys := make([]string, 0, len(t.Metadata))
		for k := range t.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: %v", k, t.Metadata[k]))
		}
		parts = append(parts, "\n**Metadata:**\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n")
}

func (b *Builder) contextSection(ctx Context) string {
	var parts []string
	if ctx.GitStatus != "" {
		parts = append(parts, "### Git Status\n\n```\n"+ctx.GitStatus+"\n```")
	}
	if ctx.IncludeFileSnippets && len(ctx.FilePatterns) > 0 {
		if snippets := fileSnippets(ctx); snippets != "" {
			parts = append(parts, "### Relevant Files\n\n"+snippets)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) constraintsSection(t *task.Task) string {
	var parts []string
	if len(t.PreHooks) > 0 {
		parts = append(parts,
			"### Pre-conditions\n\nThe following checks must pass before starting:\n"+hookList(t.PreHooks))
	}
	if len(t.PostHooks) > 0 {
		parts = append(parts,
			"### Post-conditions\n\nThe following checks must pass after completion:\n"+hookList(t.PostHooks))
	}
	if cmd, ok := t.Metadata["test_command"].(string); ok && cmd != "" {
		parts = append(parts, fmt.Sprintf("### Testing\n\nRun tests with: `%s`", cmd))
	}
	if cmd, ok := t.Metadata["lint_command"].(string); ok && cmd != "" {
		parts = append(parts, fmt.Sprintf("### Linting\n\nCheck code quality with: `%s`", cmd))
	}
	return strings.Join(parts, "\n\n")
}

func hookList(hooks []string) string {
	lines := make([]string, 0, len(hooks))
	for _, h := range hooks {
		lines = append(lines, "- `"+h+"`")
	}
	return strings.Join(lines, "\n")
}

// fileSnippets walks the repository and fences every file whose
// slash-relative path matches a pattern and fits the size bound.
func fileSnippets(ctx Context) string {
	maxSize := ctx.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	globs := make([]glob.Glob, 0, len(ctx.FilePatterns))
	for _, p := range ctx.FilePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		globs = append(globs, g)
	}
	if len(globs) == 0 {
		return ""
	}

	var parts []string
	filepath.WalkDir(ctx.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(ctx.RepoPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		matched := false
		for _, g := range globs {
			if g.Match(rel) {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > int64(maxSize) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		parts = append(parts, fmt.Sprintf("#### %s\n\n```\n%s\n```", rel, strings.TrimRight(string(data), "\n")))
		return nil
	})
	return strings.Join(parts, "\n\n")
}

// parseTemplate splits `--- name ---` delimited sections.
func parseTemplate(content string) map[string]string {
	sections := map[string]string{}
	var name string
	var lines []string

	flush := func() {
		if name != "" {
			sections[name] = strings.TrimSpace(strings.Join(lines, "\n"))
		}
		lines = lines[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "---") && strings.HasSuffix(trimmed, "---") && len(trimmed) > 6 {
			flush()
			name = strings.TrimSpace(strings.Trim(trimmed, "-"))
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return sections
}
