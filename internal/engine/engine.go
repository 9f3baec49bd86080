// Package engine drives the sequential execution loop: for each task it
// cycles attempts through pre-hooks, rate-limit admission, the agent
// call, change application and post-hooks, escalating repeated failure
// to a human decision. All collaborators arrive as interfaces so the
// state machine is testable without a terminal, a network or a repo.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/agent"
	"github.com/Iron-Ham/taskmaster/internal/backoff"
	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/escalate"
	"github.com/Iron-Ham/taskmaster/internal/hooks"
	"github.com/Iron-Ham/taskmaster/internal/logging"
	"github.com/Iron-Ham/taskmaster/internal/prompt"
	"github.com/Iron-Ham/taskmaster/internal/ratelimit"
	"github.com/Iron-Ham/taskmaster/internal/repo"
	"github.com/Iron-Ham/taskmaster/internal/report"
	"github.com/Iron-Ham/taskmaster/internal/state"
	"github.com/Iron-Ham/taskmaster/internal/task"
)

// Outcome is the terminal status of one run. Every run ends in exactly
// one of these, and each maps to a distinct exit signal so automation
// can react differently to a pause than to a failure.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeTaskFailed      Outcome = "task-failed"
	OutcomeRateLimitPaused Outcome = "rate-limit-paused"
	OutcomeInterrupted     Outcome = "interrupted"
	OutcomeAborted         Outcome = "aborted"
)

// Result describes how a run ended.
type Result struct {
	Outcome Outcome

	// FailedTaskID is set for OutcomeTaskFailed.
	FailedTaskID string

	// RateLimit is set for OutcomeRateLimitPaused.
	RateLimit ratelimit.Decision

	Summary task.Summary
}

// HookRunner executes a phase of hooks. *hooks.Runner satisfies it.
type HookRunner interface {
	RunAll(ctx context.Context, hookIDs []string) ([]hooks.Result, error)
	SaveResults(taskID, phase string, results []hooks.Result) error
}

// Applier applies agent-suggested changes. *apply.Applier satisfies it.
type Applier interface {
	ApplyAll(ctx context.Context, content string) (applied, failed int)
}

// Snapshotter captures repository snapshots. *repo.Snapshotter
// satisfies it.
type Snapshotter interface {
	Diff(ctx context.Context) string
	Status(ctx context.Context) string
}

// Saver persists run state. *state.Store satisfies it.
type Saver interface {
	Save(*state.RunState) error
}

// Config is the engine's behavioral configuration.
type Config struct {
	// Provider is the ledger attribution name for the active provider.
	Provider string

	// MaxAttempts is the silent-retry ceiling before escalation.
	MaxAttempts int

	// StopOnFirstFailure escalates on the first failed attempt.
	StopOnFirstFailure bool

	// AutoApply applies agent output to the working tree.
	AutoApply bool

	// MaxTokens and Temperature are passed through to completion calls.
	MaxTokens   int
	Temperature float32

	// RateLimits are the active provider's admission ceilings.
	RateLimits ratelimit.Config

	// IncludeGitStatus adds a repository status fence to prompts.
	IncludeGitStatus bool

	// IncludeFileSnippets and FilePatterns feed the prompt builder.
	IncludeFileSnippets bool
	FilePatterns        []string
	MaxFileSize         int

	// WorkingDir is the repository root prompts describe.
	WorkingDir string
}

// Engine executes a task list sequentially against one provider.
type Engine struct {
	cfg      Config
	client   agent.Client
	backoff  *backoff.Controller
	hooks    HookRunner
	applier  Applier
	snap     Snapshotter
	builder  *prompt.Builder
	store    Saver
	reporter report.Reporter
	decider  escalate.Decider
	logger   *logging.Logger

	// limitsCh receives hot-reloaded admission ceilings.
	limitsCh chan ratelimit.Config
}

// Options wires an Engine. Nil optional collaborators get no-op
// defaults; Client, Store and Backoff are required.
type Options struct {
	Config   Config
	Client   agent.Client
	Backoff  *backoff.Controller
	Hooks    HookRunner
	Applier  Applier
	Snap     Snapshotter
	Builder  *prompt.Builder
	Store    Saver
	Reporter report.Reporter
	Decider  escalate.Decider
	Logger   *logging.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Reporter == nil {
		opts.Reporter = report.Nop{}
	}
	if opts.Decider == nil {
		opts.Decider = escalate.Fixed{Decision: state.InterventionAbort}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Builder == nil {
		opts.Builder = prompt.NewBuilder()
	}
	if opts.Config.MaxAttempts <= 0 {
		opts.Config.MaxAttempts = 3
	}
	return &Engine{
		cfg:      opts.Config,
		client:   opts.Client,
		backoff:  opts.Backoff,
		hooks:    opts.Hooks,
		applier:  opts.Applier,
		snap:     opts.Snap,
		builder:  opts.Builder,
		store:    opts.Store,
		reporter: opts.Reporter,
		decider:  opts.Decider,
		logger:   opts.Logger,
		limitsCh: make(chan ratelimit.Config, 1),
	}
}

// UpdateRateLimits delivers new admission ceilings to a running engine.
// The update takes effect before the next admission check.
func (e *Engine) UpdateRateLimits(cfg ratelimit.Config) {
	select {
	case e.limitsCh <- cfg:
	default:
		// A pending update is superseded; drain and replace.
		select {
		case <-e.limitsCh:
		default:
		}
		e.limitsCh <- cfg
	}
}

func (e *Engine) applyPendingLimits() {
	select {
	case cfg := <-e.limitsCh:
		e.cfg.RateLimits = cfg
		e.logger.Info("rate limit config updated")
	default:
	}
}

// taskResult is the terminal per-run status of one task cycle.
type taskResult struct {
	outcome   Outcome // "" means the task completed or was skipped
	skipped   bool
	rateLimit ratelimit.Decision
	err       error
}

// Run executes the list starting at the state's resume cursor. It
// persists state after every terminal per-task step and on interrupt,
// and returns the run's terminal outcome. The returned error carries
// the failure detail for OutcomeTaskFailed; pauses and aborts are not
// errors.
func (e *Engine) Run(ctx context.Context, list *task.List, st *state.RunState) (Result, error) {
	total := len(list.Tasks)
	remaining := 0
	for _, t := range list.Tasks {
		if !st.IsTaskCompleted(t.ID) {
			remaining++
		}
	}
	e.reporter.RunStarted(st.TaskFile, total, remaining)

	for i := st.CurrentTaskIndex; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return e.finish(list, st, Result{Outcome: OutcomeInterrupted}), nil
		}

		t := list.Tasks[i]
		if st.IsTaskCompleted(t.ID) {
			t.Status = task.StatusCompleted
			st.Advance(i + 1)
			continue
		}

		res := e.runTask(ctx, t, st)
		switch {
		case res.outcome == OutcomeInterrupted:
			return e.finish(list, st, Result{Outcome: OutcomeInterrupted}), nil

		case res.outcome == OutcomeRateLimitPaused:
			e.reporter.RateLimited(res.rateLimit)
			return e.finish(list, st, Result{
				Outcome:   OutcomeRateLimitPaused,
				RateLimit: res.rateLimit,
			}), nil

		case res.outcome == OutcomeAborted:
			return e.finish(list, st, Result{Outcome: OutcomeAborted}), nil

		case res.outcome == OutcomeTaskFailed:
			// Index stays put so resume re-attempts this task.
			return e.finish(list, st, Result{
				Outcome:      OutcomeTaskFailed,
				FailedTaskID: t.ID,
			}), res.err

		case res.skipped:
			e.reporter.TaskSkipped(t)
			st.Advance(i + 1)
			e.persist(st)

		default:
			e.reporter.TaskCompleted(t)
			st.MarkTaskCompleted(t.ID)
			st.Advance(i + 1)
			e.persist(st)
		}
	}

	return e.finish(list, st, Result{Outcome: OutcomeCompleted}), nil
}

func (e *Engine) finish(list *task.List, st *state.RunState, res Result) Result {
	e.persist(st)
	res.Summary = list.Summarize()
	e.reporter.RunFinished(res.Summary, string(res.Outcome))
	return res
}

// runTask cycles attempts for one task until it reaches a terminal
// per-run status.
func (e *Engine) runTask(ctx context.Context, t *task.Task, st *state.RunState) taskResult {
	log := e.logger.WithTask(t.ID)

	// A decision recorded before a crash is replayed once, not re-asked.
	if decision, ok := st.ConsumeIntervention(t.ID); ok {
		log.Info("replaying recorded intervention", "decision", string(decision))
		switch decision {
		case state.InterventionSkip:
			t.MarkSkipped()
			return taskResult{skipped: true}
		case state.InterventionAbort:
			return taskResult{outcome: OutcomeAborted}
		case state.InterventionRetry:
			// Fall through into the attempt loop below.
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return taskResult{outcome: OutcomeInterrupted}
		}

		st.RecordAttempt(t.ID)
		t.IncrementAttempt()
		t.MarkRunning()
		attempt := st.AttemptCounts[t.ID]
		e.reporter.TaskStarted(t, attempt)
		e.persist(st)

		err := e.attempt(ctx, t, st)
		if err == nil {
			t.MarkCompleted()
			return taskResult{}
		}

		var pause *pauseError
		if errors.As(err, &pause) {
			// Not a task failure: the call was never admitted.
			return taskResult{outcome: OutcomeRateLimitPaused, rateLimit: pause.decision}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return taskResult{outcome: OutcomeInterrupted}
		}
		if errors.IsRateLimit(err) {
			// Backoff exhausted its bounded retries: pause, resume later.
			log.Warn("rate limit retries exhausted, pausing run", "attempt", attempt)
			st.RecordFailure(t.ID, err.Error())
			decision := ratelimit.Decision{Dimension: ratelimit.DimProvider}
			if hint, ok := errors.RetryAfter(err); ok {
				decision.ResetAt = time.Now().UTC().Add(hint)
			}
			return taskResult{outcome: OutcomeRateLimitPaused, rateLimit: decision}
		}

		t.MarkFailed()
		st.RecordFailure(t.ID, err.Error())
		e.reporter.TaskFailed(t, attempt, err.Error())
		if errors.IsHookFailure(err) {
			// The full command output is in the saved hook transcript.
			log.Warn("hook failed", "attempt", attempt, "error", err.Error())
		} else {
			log.Error("attempt failed", "attempt", attempt, "error", err.Error())
		}

		if errors.IsAuthentication(err) {
			// Not recoverable by retrying or escalating.
			return taskResult{outcome: OutcomeTaskFailed, err: failTask(t, attempt, err)}
		}

		if !e.shouldEscalate(attempt) {
			t.ResetForRetry()
			e.persist(st)
			continue
		}

		decision, derr := e.decider.Decide(ctx, t, attempt, st.LastErrors[t.ID])
		if derr != nil {
			if errors.Is(derr, context.Canceled) || errors.Is(derr, errors.ErrRunInterrupted) {
				return taskResult{outcome: OutcomeInterrupted}
			}
			return taskResult{outcome: OutcomeTaskFailed, err: derr}
		}

		// Persist the decision before acting on it: a crash between the
		// two replays the decision on resume instead of re-asking.
		st.RecordIntervention(t.ID, decision)
		e.persist(st)
		st.ConsumeIntervention(t.ID)

		switch decision {
		case state.InterventionRetry:
			log.Info("user granted one more attempt", "attempt", attempt)
			t.ResetForRetry()
			e.persist(st)
		case state.InterventionSkip:
			t.MarkSkipped()
			return taskResult{skipped: true}
		default:
			return taskResult{outcome: OutcomeAborted}
		}
	}
}

// failTask wraps a terminal attempt failure with the task and attempt
// that produced it. Classification of the cause survives the wrap.
func failTask(t *task.Task, attempt int, err error) error {
	return errors.NewTaskError("task execution failed", err).
		WithTaskID(t.ID).
		WithAttempt(attempt)
}

// shouldEscalate applies the escalation policy to a 1-indexed attempt
// count.
func (e *Engine) shouldEscalate(attempt int) bool {
	if e.cfg.StopOnFirstFailure && attempt == 1 {
		return true
	}
	return attempt >= e.cfg.MaxAttempts
}

// pauseError carries an admission denial out of an attempt.
type pauseError struct {
	decision ratelimit.Decision
}

func (p *pauseError) Error() string {
	return fmt.Sprintf("rate limit admission denied: %s at %d/%d",
		p.decision.Dimension, p.decision.Current, p.decision.Limit)
}

// attempt runs one full attempt sequence for a task. A nil return means
// the attempt succeeded end to end.
func (e *Engine) attempt(ctx context.Context, t *task.Task, st *state.RunState) error {
	if len(t.PreHooks) > 0 {
		results, err := e.hooks.RunAll(ctx, t.PreHooks)
		if serr := e.hooks.SaveResults(t.ID, "pre", results); serr != nil {
			e.logger.Warn("hook transcript not written", "task_id", t.ID, "error", serr.Error())
		}
		if err != nil {
			// No agent call when preconditions fail.
			return err
		}
	}

	gitStatus := ""
	if e.cfg.IncludeGitStatus && e.snap != nil {
		gitStatus = e.snap.Status(ctx)
	}
	components := e.builder.Build(prompt.Context{
		Task:                t,
		RepoPath:            e.cfg.WorkingDir,
		GitStatus:           gitStatus,
		IncludeFileSnippets: e.cfg.IncludeFileSnippets,
		FilePatterns:        e.cfg.FilePatterns,
		MaxFileSize:         e.cfg.MaxFileSize,
	})
	fullPrompt := components.FullPrompt()

	// Admission is re-evaluated before every call, never cached, and
	// picks up hot-reloaded ceilings first.
	e.applyPendingLimits()
	estimate := e.client.EstimateTokens(fullPrompt)
	decision := ratelimit.Check(e.cfg.RateLimits, st, e.cfg.Provider, estimate, time.Now().UTC())
	if !decision.Allowed {
		return &pauseError{decision: decision}
	}

	diffBefore := ""
	if e.snap != nil {
		diffBefore = e.snap.Diff(ctx)
	}

	var resp agent.CompletionResponse
	err := e.backoff.Do(ctx, func(ctx context.Context) error {
		r, callErr := e.client.GenerateCompletion(ctx, agent.CompletionRequest{
			System:      components.System,
			Prompt:      fullPrompt,
			MaxTokens:   e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature,
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}

	// Usage lands in the ledger only for calls that succeeded.
	tokens := resp.Usage.TotalTokens
	if tokens <= 0 {
		tokens = estimate
	}
	st.RecordUsage(e.cfg.Provider, tokens, 1)
	e.persist(st)

	if e.cfg.AutoApply && e.applier != nil {
		applied, failed := e.applier.ApplyAll(ctx, resp.Content)
		e.logger.WithTask(t.ID).Info("applied agent changes",
			"applied", applied, "failed", failed)
	}

	var postErr error
	if len(t.PostHooks) > 0 {
		results, err := e.hooks.RunAll(ctx, t.PostHooks)
		if serr := e.hooks.SaveResults(t.ID, "post", results); serr != nil {
			e.logger.Warn("hook transcript not written", "task_id", t.ID, "error", serr.Error())
		}
		postErr = err
	}

	if postErr != nil {
		// Verification failed; flag attempts that changed nothing at all.
		diffAfter := ""
		if e.snap != nil {
			diffAfter = e.snap.Diff(ctx)
		}
		if !repo.HasChanges(diffBefore, diffAfter) {
			st.RecordNonProgress(t.ID)
		}
		return postErr
	}
	return nil
}

// persist is a best-effort save used between steps. Failures are logged
// rather than fatal here; the store's own errors surface on the final
// save performed by the command layer.
func (e *Engine) persist(st *state.RunState) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(st); err != nil {
		e.logger.Error("state save failed", "error", err.Error())
	}
}
