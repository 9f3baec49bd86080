package engine

import (
	"context"
	"testing"
	"time"

	"github.com/Iron-Ham/taskmaster/internal/agent"
	"github.com/Iron-Ham/taskmaster/internal/backoff"
	"github.com/Iron-Ham/taskmaster/internal/errors"
	"github.com/Iron-Ham/taskmaster/internal/escalate"
	"github.com/Iron-Ham/taskmaster/internal/hooks"
	"github.com/Iron-Ham/taskmaster/internal/ratelimit"
	"github.com/Iron-Ham/taskmaster/internal/state"
	"github.com/Iron-Ham/taskmaster/internal/task"
)

// stubClient returns scripted results in order, then repeats the last.
type stubClient struct {
	script []func() (agent.CompletionResponse, error)
	calls  int
}

func succeedWith(content string) func() (agent.CompletionResponse, error) {
	return func() (agent.CompletionResponse, error) {
		return agent.CompletionResponse{
			Content: content,
			Model:   "stub",
			Usage:   agent.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

func failWith(err error) func() (agent.CompletionResponse, error) {
	return func() (agent.CompletionResponse, error) {
		return agent.CompletionResponse{}, err
	}
}

func (c *stubClient) GenerateCompletion(context.Context, agent.CompletionRequest) (agent.CompletionResponse, error) {
	i := c.calls
	c.calls++
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	if i < 0 {
		return agent.CompletionResponse{}, errors.New("no script")
	}
	return c.script[i]()
}

func (c *stubClient) ModelName() string { return "stub" }

func (c *stubClient) EstimateTokens(prompt string) int { return 100 }

// stubHooks fails configured hook IDs and records execution order.
type stubHooks struct {
	failOn map[string]bool
	ran    []string
}

func (h *stubHooks) RunAll(_ context.Context, hookIDs []string) ([]hooks.Result, error) {
	var results []hooks.Result
	for _, id := range hookIDs {
		h.ran = append(h.ran, id)
		if h.failOn[id] {
			results = append(results, hooks.Result{HookID: id, ExitCode: 1})
			return results, errors.NewHookError("hook failed with exit code 1", nil).
				WithHookID(id).WithExitCode(1)
		}
		results = append(results, hooks.Result{HookID: id, Success: true})
	}
	return results, nil
}

func (h *stubHooks) SaveResults(string, string, []hooks.Result) error { return nil }

// stubSnap returns scripted diffs in call order, then repeats the last.
type stubSnap struct {
	diffs []string
	calls int
}

func (s *stubSnap) Diff(context.Context) string {
	i := s.calls
	s.calls++
	if len(s.diffs) == 0 {
		return ""
	}
	if i >= len(s.diffs) {
		i = len(s.diffs) - 1
	}
	return s.diffs[i]
}

func (s *stubSnap) Status(context.Context) string { return "" }

type stubApplier struct {
	calls   int
	content string
}

func (a *stubApplier) ApplyAll(_ context.Context, content string) (int, int) {
	a.calls++
	a.content = content
	return 1, 0
}

// recordingDecider wraps a scripted decider and records prompts.
type recordingDecider struct {
	inner    escalate.Decider
	attempts []int
}

func (d *recordingDecider) Decide(ctx context.Context, t *task.Task, attempt int, lastError string) (state.Intervention, error) {
	d.attempts = append(d.attempts, attempt)
	return d.inner.Decide(ctx, t, attempt, lastError)
}

type noSleep struct{}

func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

type testHarness struct {
	engine  *Engine
	client  *stubClient
	hooks   *stubHooks
	snap    *stubSnap
	applier *stubApplier
	decider *recordingDecider
	store   *state.Store
	state   *state.RunState
	list    *task.List
}

func newHarness(t *testing.T, cfg Config, client *stubClient, decisions ...state.Intervention) *testHarness {
	t.Helper()

	if cfg.Provider == "" {
		cfg.Provider = "stub"
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	cfg.AutoApply = true

	h := &testHarness{
		client:  client,
		hooks:   &stubHooks{failOn: map[string]bool{}},
		snap:    &stubSnap{},
		applier: &stubApplier{},
		decider: &recordingDecider{inner: escalate.NewScripted(decisions...)},
		store:   state.NewStore(t.TempDir()),
		state:   state.New("tasks.yml"),
		list: &task.List{Tasks: []*task.Task{
			{ID: "t1", Title: "First", Description: "d1", Status: task.StatusPending},
			{ID: "t2", Title: "Second", Description: "d2", Status: task.StatusPending},
		}},
	}

	h.engine = New(Options{
		Config:  cfg,
		Client:  client,
		Backoff: backoff.New(backoff.Config{MaxRetries: 2}, nil).WithSleeper(noSleep{}),
		Hooks:   h.hooks,
		Applier: h.applier,
		Snap:    h.snap,
		Store:   h.store,
		Decider: h.decider,
	})
	return h
}

func (h *testHarness) run(t *testing.T, ctx context.Context) (Result, error) {
	t.Helper()
	return h.engine.Run(ctx, h.list, h.state)
}

func TestRunAllTasksComplete(t *testing.T) {
	h := newHarness(t, Config{}, &stubClient{script: []func() (agent.CompletionResponse, error){
		succeedWith("done"),
	}})

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed", res.Outcome)
	}

	if len(h.state.CompletedTaskIDs) != 2 {
		t.Errorf("CompletedTaskIDs = %v, want both tasks", h.state.CompletedTaskIDs)
	}
	if h.state.CurrentTaskIndex != 2 {
		t.Errorf("CurrentTaskIndex = %d, want 2", h.state.CurrentTaskIndex)
	}
	if h.applier.calls != 2 {
		t.Errorf("applier calls = %d, want 2", h.applier.calls)
	}

	// Usage recorded once per successful call.
	tokens, requests := h.state.UsageSince("stub", time.Now().Add(-time.Hour))
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if tokens != 30 {
		t.Errorf("tokens = %d, want 30", tokens)
	}

	// State was persisted.
	loaded, err := h.store.Load()
	if err != nil || loaded == nil {
		t.Fatalf("Load() = (%v, %v)", loaded, err)
	}
	if len(loaded.CompletedTaskIDs) != 2 {
		t.Errorf("persisted CompletedTaskIDs = %v", loaded.CompletedTaskIDs)
	}
}

func TestRunResumeSkipsCompletedTasks(t *testing.T) {
	h := newHarness(t, Config{}, &stubClient{script: []func() (agent.CompletionResponse, error){
		succeedWith("done"),
	}})
	h.state.MarkTaskCompleted("t1")

	res, err := h.run(t, context.Background())
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("Run() = (%+v, %v)", res, err)
	}
	if h.client.calls != 1 {
		t.Errorf("client calls = %d, want 1 (t1 already completed)", h.client.calls)
	}
	if h.state.AttemptCounts["t1"] != 0 {
		t.Errorf("completed task re-attempted: %d", h.state.AttemptCounts["t1"])
	}
}

func TestRunSilentRetryThenSuccess(t *testing.T) {
	transient := errors.NewTransientError("flaky", nil)
	h := newHarness(t, Config{MaxAttempts: 3}, &stubClient{script: []func() (agent.CompletionResponse, error){
		failWith(transient),
		failWith(transient),
		succeedWith("done"),
		succeedWith("done"),
	}})

	res, err := h.run(t, context.Background())
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("Run() = (%+v, %v)", res, err)
	}

	if got := h.state.AttemptCounts["t1"]; got != 3 {
		t.Errorf("attempts[t1] = %d, want 3", got)
	}
	if got := h.state.FailureCounts["t1"]; got != 2 {
		t.Errorf("failures[t1] = %d, want 2", got)
	}
	if len(h.decider.attempts) != 0 {
		t.Errorf("decider consulted during silent retries: %v", h.decider.attempts)
	}
	if h.state.LastErrors["t1"] != "flaky" {
		t.Errorf("LastErrors[t1] = %q", h.state.LastErrors["t1"])
	}
}

func TestRunEscalatesAtMaxAttemptsAndSkips(t *testing.T) {
	fatal := errors.NewFatalError("broken", nil)
	h := newHarness(t, Config{MaxAttempts: 2},
		&stubClient{script: []func() (agent.CompletionResponse, error){
			failWith(fatal),
			failWith(fatal),
			succeedWith("done"),
		}},
		state.InterventionSkip)

	res, err := h.run(t, context.Background())
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("Run() = (%+v, %v)", res, err)
	}

	// Escalated exactly once, at the configured ceiling.
	if len(h.decider.attempts) != 1 || h.decider.attempts[0] != 2 {
		t.Errorf("decider attempts = %v, want [2]", h.decider.attempts)
	}
	if h.list.Tasks[0].Status != task.StatusSkipped {
		t.Errorf("t1 status = %q, want skipped", h.list.Tasks[0].Status)
	}
	if h.state.IsTaskCompleted("t1") {
		t.Error("skipped task recorded as completed")
	}
	if !h.state.IsTaskCompleted("t2") {
		t.Error("run did not continue past the skipped task")
	}
	// Decision was consumed after being acted on.
	if _, ok := h.state.UserInterventions["t1"]; ok {
		t.Error("intervention left pending after being acted on")
	}
}

func TestRunEscalationAbort(t *testing.T) {
	fatal := errors.NewFatalError("broken", nil)
	h := newHarness(t, Config{MaxAttempts: 1},
		&stubClient{script: []func() (agent.CompletionResponse, error){failWith(fatal)}},
		state.InterventionAbort)

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for abort", err)
	}
	if res.Outcome != OutcomeAborted {
		t.Fatalf("Outcome = %q, want aborted", res.Outcome)
	}
	if h.state.IsTaskCompleted("t2") {
		t.Error("tasks ran after abort")
	}
}

func TestRunUserRetryBypassesCeilingOnce(t *testing.T) {
	fatal := errors.NewFatalError("broken", nil)
	h := newHarness(t, Config{MaxAttempts: 1},
		&stubClient{script: []func() (agent.CompletionResponse, error){
			failWith(fatal),
			failWith(fatal),
		}},
		state.InterventionRetry, state.InterventionAbort)

	res, _ := h.run(t, context.Background())
	if res.Outcome != OutcomeAborted {
		t.Fatalf("Outcome = %q, want aborted", res.Outcome)
	}

	// Attempt 1 escalated, retry granted attempt 2, which escalated again.
	if len(h.decider.attempts) != 2 {
		t.Fatalf("decider attempts = %v, want two escalations", h.decider.attempts)
	}
	if h.state.AttemptCounts["t1"] != 2 {
		t.Errorf("attempts[t1] = %d, want 2", h.state.AttemptCounts["t1"])
	}
}

func TestRunStopOnFirstFailureEscalatesImmediately(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3, StopOnFirstFailure: true},
		&stubClient{script: []func() (agent.CompletionResponse, error){
			failWith(errors.NewTransientError("flaky", nil)),
		}},
		state.InterventionAbort)

	res, _ := h.run(t, context.Background())
	if res.Outcome != OutcomeAborted {
		t.Fatalf("Outcome = %q, want aborted", res.Outcome)
	}
	if len(h.decider.attempts) != 1 || h.decider.attempts[0] != 1 {
		t.Errorf("decider attempts = %v, want [1]", h.decider.attempts)
	}
}

func TestRunAdmissionDenialPausesWithoutFailure(t *testing.T) {
	h := newHarness(t, Config{
		RateLimits: ratelimit.Config{MaxTokensHour: 50}, // below the 100-token estimate
	}, &stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("done")}})

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for pause", err)
	}
	if res.Outcome != OutcomeRateLimitPaused {
		t.Fatalf("Outcome = %q, want rate-limit-paused", res.Outcome)
	}
	if res.RateLimit.Dimension != ratelimit.DimTokensHour {
		t.Errorf("Dimension = %q", res.RateLimit.Dimension)
	}

	if h.client.calls != 0 {
		t.Error("agent called despite denied admission")
	}
	if h.state.FailureCounts["t1"] != 0 {
		t.Error("admission denial counted as a task failure")
	}
	// Resume must re-attempt this task.
	if h.state.CurrentTaskIndex != 0 {
		t.Errorf("CurrentTaskIndex = %d, want 0", h.state.CurrentTaskIndex)
	}
}

func TestRunRateLimitExhaustionPauses(t *testing.T) {
	rl := errors.NewRateLimitError("throttled", 42*time.Second, nil)
	client := &stubClient{script: []func() (agent.CompletionResponse, error){failWith(rl)}}
	h := newHarness(t, Config{}, client)

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for pause", err)
	}
	if res.Outcome != OutcomeRateLimitPaused {
		t.Fatalf("Outcome = %q, want rate-limit-paused", res.Outcome)
	}
	// Initial call plus the backoff controller's two bounded retries.
	if client.calls != 3 {
		t.Errorf("client calls = %d, want 3", client.calls)
	}
	// No usage recorded for failed calls.
	if len(h.state.UsageRecords) != 0 {
		t.Errorf("usage recorded for failed calls: %v", h.state.UsageRecords)
	}

	// The provider forced the pause, so the decision carries its
	// retry-after hint rather than a configured ceiling.
	if res.RateLimit.Dimension != ratelimit.DimProvider {
		t.Errorf("Dimension = %q, want %q", res.RateLimit.Dimension, ratelimit.DimProvider)
	}
	until := time.Until(res.RateLimit.ResetAt)
	if until < 40*time.Second || until > 43*time.Second {
		t.Errorf("ResetAt = %v, want ~42s from now", res.RateLimit.ResetAt)
	}
}

func TestRunRateLimitExhaustionWithoutHint(t *testing.T) {
	rl := errors.NewRateLimitError("throttled", 0, nil)
	h := newHarness(t, Config{}, &stubClient{script: []func() (agent.CompletionResponse, error){failWith(rl)}})

	res, err := h.run(t, context.Background())
	if err != nil || res.Outcome != OutcomeRateLimitPaused {
		t.Fatalf("Run() = (%+v, %v)", res, err)
	}
	if res.RateLimit.Dimension != ratelimit.DimProvider {
		t.Errorf("Dimension = %q, want %q", res.RateLimit.Dimension, ratelimit.DimProvider)
	}
	if !res.RateLimit.ResetAt.IsZero() {
		t.Errorf("ResetAt = %v, want zero when the provider gave no hint", res.RateLimit.ResetAt)
	}
}

func TestRunAuthenticationFailsTask(t *testing.T) {
	h := newHarness(t, Config{},
		&stubClient{script: []func() (agent.CompletionResponse, error){
			failWith(errors.NewAuthenticationError("bad key", nil)),
		}})

	res, err := h.run(t, context.Background())
	if res.Outcome != OutcomeTaskFailed {
		t.Fatalf("Outcome = %q, want task-failed", res.Outcome)
	}
	if !errors.IsAuthentication(err) {
		t.Errorf("Run() error = %v, want authentication error", err)
	}
	if res.FailedTaskID != "t1" {
		t.Errorf("FailedTaskID = %q", res.FailedTaskID)
	}
	if len(h.decider.attempts) != 0 {
		t.Error("authentication failure escalated instead of ending the run")
	}

	// The failure is wrapped with the task and attempt that produced it.
	var taskErr *errors.TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("Run() error = %v, want a TaskError", err)
	}
	if taskErr.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", taskErr.TaskID)
	}
	if taskErr.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", taskErr.Attempt)
	}
	if !errors.Is(err, errors.ErrTaskFailed) {
		t.Error("Is(err, ErrTaskFailed) = false, want true")
	}
}

func TestRunPreHookFailureSkipsAgentCall(t *testing.T) {
	client := &stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("done")}}
	h := newHarness(t, Config{MaxAttempts: 1}, client, state.InterventionAbort)
	h.list.Tasks[0].PreHooks = []string{"lint"}
	h.hooks.failOn["lint"] = true

	res, _ := h.run(t, context.Background())
	if res.Outcome != OutcomeAborted {
		t.Fatalf("Outcome = %q, want aborted", res.Outcome)
	}
	if client.calls != 0 {
		t.Error("agent called despite pre-hook failure")
	}
	if h.state.FailureCounts["t1"] != 1 {
		t.Errorf("failures[t1] = %d, want 1", h.state.FailureCounts["t1"])
	}
}

func TestRunPostHookFailureRecordsNonProgress(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1},
		&stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("no code here")}},
		state.InterventionSkip)
	h.list.Tasks[0].PostHooks = []string{"test"}
	h.hooks.failOn["test"] = true
	h.snap.diffs = []string{"same", "same"} // identical before/after

	res, _ := h.run(t, context.Background())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q (t1 skipped, t2 completes)", res.Outcome)
	}
	if h.state.NonProgressCounts["t1"] != 1 {
		t.Errorf("non-progress[t1] = %d, want 1", h.state.NonProgressCounts["t1"])
	}
	if h.state.FailureCounts["t1"] != 1 {
		t.Errorf("failures[t1] = %d, want 1", h.state.FailureCounts["t1"])
	}
}

func TestRunPostHookFailureWithProgressNoNonProgress(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 1},
		&stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("done")}},
		state.InterventionSkip)
	h.list.Tasks[0].PostHooks = []string{"test"}
	h.hooks.failOn["test"] = true
	h.snap.diffs = []string{"before", "after"} // tree changed

	h.run(t, context.Background())
	if h.state.NonProgressCounts["t1"] != 0 {
		t.Errorf("non-progress[t1] = %d for an attempt that changed the tree", h.state.NonProgressCounts["t1"])
	}
}

func TestRunInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, Config{}, &stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("done")}})
	res, err := h.run(t, ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeInterrupted {
		t.Fatalf("Outcome = %q, want interrupted", res.Outcome)
	}

	// Best-effort save happened.
	loaded, lerr := h.store.Load()
	if lerr != nil || loaded == nil {
		t.Errorf("state not persisted on interrupt: (%v, %v)", loaded, lerr)
	}
}

func TestRunReplaysRecordedIntervention(t *testing.T) {
	h := newHarness(t, Config{}, &stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("done")}})
	// Simulate a crash after recording a skip but before acting on it.
	h.state.RecordIntervention("t1", state.InterventionSkip)

	res, err := h.run(t, context.Background())
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("Run() = (%+v, %v)", res, err)
	}

	if len(h.decider.attempts) != 0 {
		t.Error("decider re-asked instead of replaying the recorded decision")
	}
	if h.list.Tasks[0].Status != task.StatusSkipped {
		t.Errorf("t1 status = %q, want skipped", h.list.Tasks[0].Status)
	}
	if h.state.AttemptCounts["t1"] != 0 {
		t.Error("replayed skip still attempted the task")
	}
	if !h.state.IsTaskCompleted("t2") {
		t.Error("run did not continue after the replayed skip")
	}
}

func TestRunTaskFailedLeavesIndexUnadvanced(t *testing.T) {
	h := newHarness(t, Config{},
		&stubClient{script: []func() (agent.CompletionResponse, error){
			failWith(errors.NewAuthenticationError("bad key", nil)),
		}})
	res, _ := h.run(t, context.Background())
	if res.Outcome != OutcomeTaskFailed {
		t.Fatalf("Outcome = %q", res.Outcome)
	}
	if h.state.CurrentTaskIndex != 0 {
		t.Errorf("CurrentTaskIndex = %d, want 0 so resume re-attempts t1", h.state.CurrentTaskIndex)
	}
}

func TestUpdateRateLimitsTakesEffect(t *testing.T) {
	h := newHarness(t, Config{}, &stubClient{script: []func() (agent.CompletionResponse, error){succeedWith("done")}})

	// Tighten limits below the estimate before the run starts.
	h.engine.UpdateRateLimits(ratelimit.Config{MaxTokensHour: 10})

	res, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeRateLimitPaused {
		t.Fatalf("Outcome = %q, want rate-limit-paused after hot reload", res.Outcome)
	}
}
