// Package state implements the durable run-state record for TaskMaster
// executions. The state is the single source of truth read back on resume:
// it tracks completed tasks, the resume cursor, per-task counters, the most
// recent errors and user decisions, and a rolling provider-usage ledger
// consumed by rate-limit admission checks.
package state

import (
	"slices"
	"time"
)

// UsageRetention is how long usage records are kept before pruning.
const UsageRetention = 7 * 24 * time.Hour

// Intervention is a recorded human decision at an escalation point.
type Intervention string

const (
	// InterventionRetry grants the task exactly one more attempt,
	// bypassing the max-attempts ceiling once.
	InterventionRetry Intervention = "retry"

	// InterventionSkip marks the task skipped and moves on.
	InterventionSkip Intervention = "skip"

	// InterventionAbort stops the entire run.
	InterventionAbort Intervention = "abort"
)

// UsageRecord is one entry in the append-only provider-usage ledger.
type UsageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Tokens    int       `json:"tokens"`
	Requests  int       `json:"requests"`
}

// RunState is the persisted execution record for one task-file run.
// The on-disk shape is flat: four independent counter maps keyed by task ID
// rather than a map of structs, for compatibility with external readers.
// All mutation goes through the methods below so the counters cannot drift.
type RunState struct {
	// TaskFile identifies which task list this state belongs to. A
	// mismatch on load means the state is for a different run.
	TaskFile string `json:"task_file"`

	// CompletedTaskIDs holds completed task IDs in completion order.
	// Append-once: an ID never appears twice.
	CompletedTaskIDs []string `json:"completed_task_ids"`

	// CurrentTaskIndex is the resume cursor into the task list. It is
	// monotonically non-decreasing within a run.
	CurrentTaskIndex int `json:"current_task_index"`

	// FailureCounts, AttemptCounts and NonProgressCounts are independent
	// per-task counters. Invariant: AttemptCounts[t] >= FailureCounts[t].
	FailureCounts     map[string]int `json:"failure_counts"`
	AttemptCounts     map[string]int `json:"attempt_counts"`
	NonProgressCounts map[string]int `json:"non_progress_counts"`

	// LastErrors maps task ID to the most recent error string
	// (overwritten, not appended).
	LastErrors map[string]string `json:"last_errors"`

	// UserInterventions maps task ID to the last recorded human decision.
	UserInterventions map[string]Intervention `json:"user_interventions"`

	// UsageRecords is the append-only provider-usage ledger, pruned by age.
	UsageRecords []UsageRecord `json:"usage_records"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh RunState for the given task file.
func New(taskFile string) *RunState {
	now := time.Now().UTC()
	return &RunState{
		TaskFile:          taskFile,
		CompletedTaskIDs:  []string{},
		FailureCounts:     make(map[string]int),
		AttemptCounts:     make(map[string]int),
		NonProgressCounts: make(map[string]int),
		LastErrors:        make(map[string]string),
		UserInterventions: make(map[string]Intervention),
		UsageRecords:      []UsageRecord{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// touch refreshes the updated-at timestamp. Every mutator calls it.
func (s *RunState) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// normalize backfills nil maps after JSON decoding so mutators never
// panic on state written by older versions.
func (s *RunState) normalize() {
	if s.CompletedTaskIDs == nil {
		s.CompletedTaskIDs = []string{}
	}
	if s.FailureCounts == nil {
		s.FailureCounts = make(map[string]int)
	}
	if s.AttemptCounts == nil {
		s.AttemptCounts = make(map[string]int)
	}
	if s.NonProgressCounts == nil {
		s.NonProgressCounts = make(map[string]int)
	}
	if s.LastErrors == nil {
		s.LastErrors = make(map[string]string)
	}
	if s.UserInterventions == nil {
		s.UserInterventions = make(map[string]Intervention)
	}
	if s.UsageRecords == nil {
		s.UsageRecords = []UsageRecord{}
	}
}

// MarkTaskCompleted records a task as completed. Appending is idempotent:
// an already-completed ID is not appended again.
func (s *RunState) MarkTaskCompleted(taskID string) {
	if !s.IsTaskCompleted(taskID) {
		s.CompletedTaskIDs = append(s.CompletedTaskIDs, taskID)
	}
	s.touch()
}

// IsTaskCompleted reports whether a task completed in this run.
func (s *RunState) IsTaskCompleted(taskID string) bool {
	return slices.Contains(s.CompletedTaskIDs, taskID)
}

// Advance moves the resume cursor to the given index. The cursor never
// moves backwards.
func (s *RunState) Advance(index int) {
	if index > s.CurrentTaskIndex {
		s.CurrentTaskIndex = index
	}
	s.touch()
}

// RecordAttempt increments the attempt counter for a task.
func (s *RunState) RecordAttempt(taskID string) {
	s.AttemptCounts[taskID]++
	s.touch()
}

// RecordFailure increments the failure counter for a task and overwrites
// its last error message. An empty message leaves the previous one intact.
func (s *RunState) RecordFailure(taskID string, errMsg string) {
	s.FailureCounts[taskID]++
	if errMsg != "" {
		s.LastErrors[taskID] = errMsg
	}
	s.touch()
}

// RecordNonProgress increments the non-progress counter for a task. This is
// a diagnostic signal that an attempt failed verification without making
// any detectable repository change.
func (s *RunState) RecordNonProgress(taskID string) {
	s.NonProgressCounts[taskID]++
	s.touch()
}

// RecordIntervention stores a user decision for a task. It is persisted
// before the decision is acted on, so a crash between the two is
// recoverable: on resume the recorded decision is replayed, not re-asked.
func (s *RunState) RecordIntervention(taskID string, decision Intervention) {
	s.UserInterventions[taskID] = decision
	s.touch()
}

// ConsumeIntervention returns and clears the recorded decision for a task.
// The second return is false when no decision is pending.
func (s *RunState) ConsumeIntervention(taskID string) (Intervention, bool) {
	decision, ok := s.UserInterventions[taskID]
	if ok {
		delete(s.UserInterventions, taskID)
		s.touch()
	}
	return decision, ok
}

// RecordUsage appends an entry to the usage ledger and prunes entries older
// than the retention window.
func (s *RunState) RecordUsage(provider string, tokens, requests int) {
	s.UsageRecords = append(s.UsageRecords, UsageRecord{
		Timestamp: time.Now().UTC(),
		Provider:  provider,
		Tokens:    tokens,
		Requests:  requests,
	})
	s.PruneUsage(time.Now().UTC())
	s.touch()
}

// PruneUsage drops ledger entries older than the retention window relative
// to now. Window queries tolerate out-of-order timestamps, so pruning
// filters by age rather than truncating a prefix.
func (s *RunState) PruneUsage(now time.Time) {
	cutoff := now.Add(-UsageRetention)
	kept := s.UsageRecords[:0]
	for _, r := range s.UsageRecords {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	s.UsageRecords = kept
}

// UsageSince sums tokens and requests for a provider with timestamps at or
// after the cutoff. It makes no ordering assumption about the ledger.
func (s *RunState) UsageSince(provider string, cutoff time.Time) (tokens, requests int) {
	for _, r := range s.UsageRecords {
		if r.Provider != provider {
			continue
		}
		if r.Timestamp.Before(cutoff) {
			continue
		}
		tokens += r.Tokens
		requests += r.Requests
	}
	return tokens, requests
}

// TaskStats is a consolidated read-side view of one task's counters.
// The on-disk shape stays flat; this only exists so callers get the
// counters from a single accessor instead of four map lookups.
type TaskStats struct {
	TaskID      string
	Attempts    int
	Failures    int
	NonProgress int
	LastError   string
}

// Stats returns the consolidated counters for a task.
func (s *RunState) Stats(taskID string) TaskStats {
	return TaskStats{
		TaskID:      taskID,
		Attempts:    s.AttemptCounts[taskID],
		Failures:    s.FailureCounts[taskID],
		NonProgress: s.NonProgressCounts[taskID],
		LastError:   s.LastErrors[taskID],
	}
}
