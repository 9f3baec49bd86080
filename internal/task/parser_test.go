package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/taskmaster/internal/errors"
)

func writeTaskFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing task file: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTaskFile(t, "tasks.yml", `
tasks:
  - id: setup
    title: Set up project
    description: Create the initial scaffolding
    pre_hooks: [lint]
    post_hooks: [test]
  - id: feature
    title: Add feature
    description: Implement the thing
    path: pkg/feature
    depends_on: [setup]
    metadata:
      priority: high
`)

	list, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(list.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(list.Tasks))
	}

	setup := list.Tasks[0]
	if setup.ID != "setup" {
		t.Errorf("ID = %q, want setup", setup.ID)
	}
	if setup.Status != StatusPending {
		t.Errorf("Status = %q, want pending", setup.Status)
	}
	if setup.Path != "." {
		t.Errorf("Path = %q, want . (default)", setup.Path)
	}
	if len(setup.PreHooks) != 1 || setup.PreHooks[0] != "lint" {
		t.Errorf("PreHooks = %v, want [lint]", setup.PreHooks)
	}

	feature := list.Tasks[1]
	if feature.Path != "pkg/feature" {
		t.Errorf("Path = %q, want pkg/feature", feature.Path)
	}
	if feature.Metadata["priority"] != "high" {
		t.Errorf("Metadata[priority] = %v, want high", feature.Metadata["priority"])
	}

	deps := list.Dependencies["feature"]
	if len(deps) != 1 || deps[0] != "setup" {
		t.Errorf("Dependencies[feature] = %v, want [setup]", deps)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTaskFile(t, "tasks.json", `{
  "tasks": [
    {"id": "a", "title": "A", "description": "first"},
    {"id": "b", "title": "B", "description": "second"}
  ]
}`)

	list, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(list.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(list.Tasks))
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr error
	}{
		{
			name:    "unsupported format",
			file:    "tasks.toml",
			content: "tasks = []",
			wantErr: errors.ErrInvalidInput,
		},
		{
			name:    "empty task list",
			file:    "tasks.yml",
			content: "tasks: []",
			wantErr: errors.ErrInvalidInput,
		},
		{
			name: "missing id",
			file: "tasks.yml",
			content: `
tasks:
  - title: No ID
    description: oops
`,
			wantErr: errors.ErrInvalidInput,
		},
		{
			name: "missing title",
			file: "tasks.yml",
			content: `
tasks:
  - id: a
    description: oops
`,
			wantErr: errors.ErrInvalidInput,
		},
		{
			name: "duplicate id",
			file: "tasks.yml",
			content: `
tasks:
  - id: a
    title: A
    description: first
  - id: a
    title: A again
    description: second
`,
			wantErr: errors.ErrDuplicateTaskID,
		},
		{
			name: "dangling dependency",
			file: "tasks.yml",
			content: `
tasks:
  - id: a
    title: A
    description: first
    depends_on: [ghost]
`,
			wantErr: errors.ErrTaskNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTaskFile(t, tt.file, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}
