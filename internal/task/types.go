// Package task defines the task domain model and task-list loading for
// TaskMaster. A task list is an ordered sequence of agent work units with
// optional pre/post hooks and an informational dependency map.
package task

// Status represents the current state of a task within a run.
type Status string

const (
	// StatusPending indicates the task is waiting to be executed.
	StatusPending Status = "pending"

	// StatusRunning indicates the task is actively being executed.
	StatusRunning Status = "running"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the most recent attempt failed.
	StatusFailed Status = "failed"

	// StatusSkipped indicates the task was skipped by user decision.
	StatusSkipped Status = "skipped"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status is final for the task within a run.
// A failed task is not terminal: it may re-enter pending for another attempt.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Task is a single unit of work to be executed by an agent.
type Task struct {
	// ID uniquely identifies the task. It is stable across runs and is the
	// key for all per-task state.
	ID string `json:"id" yaml:"id"`

	// Title is a short, descriptive title.
	Title string `json:"title" yaml:"title"`

	// Description is the detailed instruction handed to the agent.
	Description string `json:"description" yaml:"description"`

	// Path is the working directory for task execution, relative to the
	// repository root. Defaults to ".".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Metadata carries free-form task-specific data.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// PreHooks are hook IDs run before the agent call.
	PreHooks []string `json:"pre_hooks,omitempty" yaml:"pre_hooks,omitempty"`

	// PostHooks are hook IDs run after changes are applied.
	PostHooks []string `json:"post_hooks,omitempty" yaml:"post_hooks,omitempty"`

	// Status is the current execution state. Mutated only by the engine.
	Status Status `json:"status" yaml:"-"`

	// FailureCount is the number of failed attempts so far.
	FailureCount int `json:"failure_count" yaml:"-"`

	// AttemptCount is the number of attempts so far, successful or not.
	// Invariant: AttemptCount >= FailureCount.
	AttemptCount int `json:"attempt_count" yaml:"-"`
}

// MarkRunning marks the task as currently running.
func (t *Task) MarkRunning() {
	t.Status = StatusRunning
}

// MarkCompleted marks the task as completed.
func (t *Task) MarkCompleted() {
	t.Status = StatusCompleted
}

// MarkFailed marks the task as failed and increments its failure count.
func (t *Task) MarkFailed() {
	t.Status = StatusFailed
	t.FailureCount++
}

// MarkSkipped marks the task as skipped.
func (t *Task) MarkSkipped() {
	t.Status = StatusSkipped
}

// IncrementAttempt increments the attempt counter.
func (t *Task) IncrementAttempt() {
	t.AttemptCount++
}

// ResetForRetry returns the task to pending for another attempt.
// Failure and attempt counters are preserved.
func (t *Task) ResetForRetry() {
	t.Status = StatusPending
}

// List is an ordered list of tasks with an informational dependency map.
// Dependencies are recorded but not enforced as an execution order: tasks
// always run strictly in list order.
type List struct {
	Tasks []*Task

	// Dependencies maps task ID to the IDs it depends on.
	Dependencies map[string][]string
}

// ByID returns the task with the given ID, or nil if absent.
func (l *List) ByID(id string) *Task {
	for _, t := range l.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Pending returns all tasks still in the pending state.
func (l *List) Pending() []*Task {
	return l.withStatus(StatusPending)
}

// Completed returns all tasks that have completed.
func (l *List) Completed() []*Task {
	return l.withStatus(StatusCompleted)
}

// Failed returns all tasks whose most recent attempt failed.
func (l *List) Failed() []*Task {
	return l.withStatus(StatusFailed)
}

// Skipped returns all tasks skipped by user decision.
func (l *List) Skipped() []*Task {
	return l.withStatus(StatusSkipped)
}

func (l *List) withStatus(s Status) []*Task {
	var out []*Task
	for _, t := range l.Tasks {
		if t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

// Summary is a snapshot of the list's per-status counts.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summarize returns per-status counts for the list.
func (l *List) Summarize() Summary {
	s := Summary{Total: len(l.Tasks)}
	for _, t := range l.Tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
