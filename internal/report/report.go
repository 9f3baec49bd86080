// Package report is the engine's output sink. The engine receives a
// Reporter instead of writing to the terminal directly, so the state
// machine is testable without one.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/taskmaster/internal/ratelimit"
	"github.com/Iron-Ham/taskmaster/internal/task"
	"github.com/Iron-Ham/taskmaster/internal/util"
)

// errMsgWidth bounds failure lines; full errors live in the run log.
const errMsgWidth = 120

// Reporter receives run progress events.
type Reporter interface {
	RunStarted(taskFile string, total, remaining int)
	TaskStarted(t *task.Task, attempt int)
	TaskCompleted(t *task.Task)
	TaskSkipped(t *task.Task)
	TaskFailed(t *task.Task, attempt int, errMsg string)
	RateLimited(decision ratelimit.Decision)
	RunFinished(summary task.Summary, outcome string)
}

// Nop is a Reporter that discards everything.
type Nop struct{}

func (Nop) RunStarted(string, int, int)        {}
func (Nop) TaskStarted(*task.Task, int)        {}
func (Nop) TaskCompleted(*task.Task)           {}
func (Nop) TaskSkipped(*task.Task)             {}
func (Nop) TaskFailed(*task.Task, int, string) {}
func (Nop) RateLimited(ratelimit.Decision)     {}
func (Nop) RunFinished(task.Summary, string)   {}

var (
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	primaryColor = lipgloss.Color("#A78BFA") // Purple

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// Console renders progress to a writer with lipgloss styling.
type Console struct {
	out io.Writer
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) RunStarted(taskFile string, total, remaining int) {
	fmt.Fprintln(c.out, titleStyle.Render("TaskMaster run: "+taskFile))
	if remaining < total {
		fmt.Fprintln(c.out, mutedStyle.Render(
			fmt.Sprintf("resuming: %d of %d tasks remaining", remaining, total)))
	} else {
		fmt.Fprintln(c.out, mutedStyle.Render(fmt.Sprintf("%d tasks", total)))
	}
}

func (c *Console) TaskStarted(t *task.Task, attempt int) {
	suffix := ""
	if attempt > 1 {
		suffix = mutedStyle.Render(fmt.Sprintf(" (attempt %d)", attempt))
	}
	fmt.Fprintf(c.out, "→ %s: %s%s\n", t.ID, t.Title, suffix)
}

func (c *Console) TaskCompleted(t *task.Task) {
	fmt.Fprintln(c.out, successStyle.Render("✓ "+t.ID+" completed"))
}

func (c *Console) TaskSkipped(t *task.Task) {
	fmt.Fprintln(c.out, warningStyle.Render("- "+t.ID+" skipped"))
}

func (c *Console) TaskFailed(t *task.Task, attempt int, errMsg string) {
	// Error text can carry ANSI sequences from hook stderr; truncate by
	// visible width so escapes are never split mid-sequence.
	msg := util.TruncateANSI(util.FirstLine(errMsg), errMsgWidth)
	fmt.Fprintln(c.out, errorStyle.Render(
		fmt.Sprintf("✗ %s failed (attempt %d): %s", t.ID, attempt, msg)))
}

func (c *Console) RateLimited(decision ratelimit.Decision) {
	msg := fmt.Sprintf("rate limit reached (%s)", decision.Dimension)
	if decision.Limit > 0 {
		msg = fmt.Sprintf("rate limit reached (%s: %d/%d)",
			decision.Dimension, decision.Current, decision.Limit)
	}
	if !decision.ResetAt.IsZero() {
		msg += ", resets " + decision.ResetAt.Format(time.RFC3339)
	}
	fmt.Fprintln(c.out, warningStyle.Render(msg))
}

func (c *Console) RunFinished(summary task.Summary, outcome string) {
	style := successStyle
	switch outcome {
	case "completed":
	case "rate-limit-paused", "interrupted":
		style = warningStyle
	default:
		style = errorStyle
	}
	fmt.Fprintln(c.out, style.Render("run "+outcome))
	fmt.Fprintln(c.out, mutedStyle.Render(fmt.Sprintf(
		"%d completed, %d failed, %d skipped, %d pending of %d",
		summary.Completed, summary.Failed, summary.Skipped, summary.Pending, summary.Total)))
}
