// Package escalate turns repeated task failure into a human decision:
// retry the task once more, skip it, or abort the run. The interactive
// decider is a small bubbletea prompt; a scripted decider serves
// non-interactive runs and tests.
package escalate

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/state"
	"github.com/Iron-Ham/taskmaster/internal/task"
	"github.com/Iron-Ham/taskmaster/internal/util"
)

// Decider resolves an escalation into a user decision.
type Decider interface {
	Decide(ctx context.Context, t *task.Task, attempt int, lastError string) (state.Intervention, error)
}

// Scripted returns pre-seeded decisions in order, then Abort. Used for
// non-interactive runs and tests.
type Scripted struct {
	decisions []state.Intervention
	next      int
}

// NewScripted creates a Scripted decider.
func NewScripted(decisions ...state.Intervention) *Scripted {
	return &Scripted{decisions: decisions}
}

func (s *Scripted) Decide(context.Context, *task.Task, int, string) (state.Intervention, error) {
	if s.next >= len(s.decisions) {
		return state.InterventionAbort, nil
	}
	d := s.decisions[s.next]
	s.next++
	return d, nil
}

// Fixed always returns the same decision.
type Fixed struct {
	Decision state.Intervention
}

func (f Fixed) Decide(context.Context, *task.Task, int, string) (state.Intervention, error) {
	return f.Decision, nil
}

// Interactive prompts on the terminal via bubbletea.
type Interactive struct{}

// NewInteractive creates an Interactive decider.
func NewInteractive() *Interactive {
	return &Interactive{}
}

func (i *Interactive) Decide(ctx context.Context, t *task.Task, attempt int, lastError string) (state.Intervention, error) {
	m := newPromptModel(t, attempt, lastError)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("escalation prompt: %w", err)
	}

	result, ok := final.(promptModel)
	if !ok || result.choice == "" {
		return "", errors.ErrRunInterrupted
	}
	return result.choice, nil
}

var choices = []state.Intervention{
	state.InterventionRetry,
	state.InterventionSkip,
	state.InterventionAbort,
}

var choiceLabels = map[state.Intervention]string{
	state.InterventionRetry: "retry — give this task one more attempt",
	state.InterventionSkip:  "skip — mark it skipped and continue",
	state.InterventionAbort: "abort — stop the whole run",
}

var (
	promptTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F87171"))
	promptErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	selectedItemStyle = lipgloss.NewStyle().Bold(true)
)

type promptModel struct {
	taskID    string
	title     string
	attempt   int
	lastError string
	cursor    int
	choice    state.Intervention
}

func newPromptModel(t *task.Task, attempt int, lastError string) promptModel {
	return promptModel{
		taskID:    t.ID,
		title:     t.Title,
		attempt:   attempt,
		lastError: lastError,
	}
}

func (m promptModel) Init() tea.Cmd {
	return nil
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(choices)-1 {
			m.cursor++
		}
	case "r":
		m.choice = state.InterventionRetry
		return m, tea.Quit
	case "s":
		m.choice = state.InterventionSkip
		return m, tea.Quit
	case "a":
		m.choice = state.InterventionAbort
		return m, tea.Quit
	case "enter":
		m.choice = choices[m.cursor]
		return m, tea.Quit
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m promptModel) View() string {
	s := promptTitleStyle.Render(
		fmt.Sprintf("Task %s failed after %d attempt(s): %s", m.taskID, m.attempt, m.title)) + "\n"
	if m.lastError != "" {
		s += promptErrorStyle.Render("last error: "+util.Truncate(util.FirstLine(m.lastError), 100)) + "\n"
	}
	s += "\n"

	for i, choice := range choices {
		cursor := "  "
		label := choiceLabels[choice]
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
			label = selectedItemStyle.Render(label)
		}
		s += cursor + label + "\n"
	}

	s += "\n" + promptErrorStyle.Render("enter to confirm, r/s/a shortcuts, q to abort the prompt")
	return s
}
