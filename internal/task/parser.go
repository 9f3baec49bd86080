package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/taskmaster/internal/errors"
)

// taskFile is the on-disk shape of a task list file.
type taskFile struct {
	Tasks []taskEntry `json:"tasks" yaml:"tasks"`
}

// taskEntry is one task as declared in a task file. DependsOn is split out
// here because dependencies live beside the task in the file but in a
// separate map on the loaded List.
type taskEntry struct {
	ID          string         `json:"id" yaml:"id"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description" yaml:"description"`
	Path        string         `json:"path" yaml:"path"`
	Metadata    map[string]any `json:"metadata" yaml:"metadata"`
	PreHooks    []string       `json:"pre_hooks" yaml:"pre_hooks"`
	PostHooks   []string       `json:"post_hooks" yaml:"post_hooks"`
	DependsOn   []string       `json:"depends_on" yaml:"depends_on"`
}

// Load reads and validates a task list from a YAML or JSON file.
// The file extension selects the format: .yml/.yaml or .json.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	var tf taskFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse YAML task file %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse JSON task file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported task file format %q (use .yml, .yaml, or .json)",
			errors.ErrInvalidInput, ext)
	}

	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("%w: task file %s contains no tasks", errors.ErrInvalidInput, path)
	}

	list := &List{
		Tasks:        make([]*Task, 0, len(tf.Tasks)),
		Dependencies: make(map[string][]string),
	}

	seen := make(map[string]bool, len(tf.Tasks))
	for i, entry := range tf.Tasks {
		if err := validateEntry(entry, i); err != nil {
			return nil, err
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("%w: %q", errors.ErrDuplicateTaskID, entry.ID)
		}
		seen[entry.ID] = true

		t := &Task{
			ID:          entry.ID,
			Title:       entry.Title,
			Description: entry.Description,
			Path:        entry.Path,
			Metadata:    entry.Metadata,
			PreHooks:    entry.PreHooks,
			PostHooks:   entry.PostHooks,
			Status:      StatusPending,
		}
		if t.Path == "" {
			t.Path = "."
		}
		list.Tasks = append(list.Tasks, t)

		if len(entry.DependsOn) > 0 {
			list.Dependencies[entry.ID] = entry.DependsOn
		}
	}

	// Dependencies are informational only, but dangling references are
	// still a task-file authoring error worth rejecting up front.
	for id, deps := range list.Dependencies {
		for _, dep := range deps {
			if list.ByID(dep) == nil {
				return nil, fmt.Errorf("%w: task %q depends on %q",
					errors.ErrTaskNotFound, id, dep)
			}
		}
	}

	return list, nil
}

// validateEntry checks required fields on a single task entry.
func validateEntry(entry taskEntry, index int) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("%w: task at index %d missing required field 'id'",
			errors.ErrInvalidInput, index)
	}
	if strings.TrimSpace(entry.Title) == "" {
		return fmt.Errorf("%w: task %q missing required field 'title'",
			errors.ErrInvalidInput, entry.ID)
	}
	if strings.TrimSpace(entry.Description) == "" {
		return fmt.Errorf("%w: task %q missing required field 'description'",
			errors.ErrInvalidInput, entry.ID)
	}
	return nil
}
