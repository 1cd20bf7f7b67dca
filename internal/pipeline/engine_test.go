package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ShayCichocki/stagehand/internal/agentconfig"
	"github.com/ShayCichocki/stagehand/internal/detect"
	"github.com/ShayCichocki/stagehand/internal/git"
	"github.com/ShayCichocki/stagehand/internal/selector"
	"github.com/ShayCichocki/stagehand/internal/state"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

func TestError_IsKind(t *testing.T) {
	err := conflictError("start agent", models.TaskRef("t"), "slot held")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "start agent: slot held", err.Error())

	wrapped := configError("select agent", models.TaskRef("t"), selector.ErrNoDefaultConfig)
	assert.True(t, errors.Is(wrapped, ErrConfiguration))
	assert.True(t, errors.Is(wrapped, selector.ErrNoDefaultConfig))
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Add login", models.StageBacklog, 0)

	err := h.engine.Transition(ctx, task.Ref(), models.StagePlanning)
	assert.ErrorIs(t, err, ErrValidation, "skipping a stage")

	err = h.engine.Transition(ctx, task.Ref(), models.StageBacklog)
	assert.ErrorIs(t, err, ErrValidation, "same state")

	err = h.engine.Transition(ctx, task.Ref(), models.StageRefining)
	assert.ErrorIs(t, err, ErrValidation, "backlog stage on a task")

	require.NoError(t, h.engine.Transition(ctx, task.Ref(), models.StageResearch))
	require.NoError(t, h.engine.Transition(ctx, task.Ref(), models.StageBacklog))
	assert.Equal(t, models.StageBacklog, h.reload(t, task.Ref()).CurrentStage())
	assert.Equal(t, []EventType{EventStateChanged, EventStateChanged}, h.events.Types())

	err = h.engine.Transition(ctx, models.TaskRef("missing"), models.StageResearch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartAgent_SingleFlight(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	h := newHarness(t, blockingRunner(release), newStubConfigs(models.StagePlanning))
	first := h.task(t, "First", models.StagePlanning, 0)
	second := h.task(t, "Second", models.StagePlanning, 0)

	runID, err := h.engine.StartAgent(ctx, first.Ref())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	_, err = h.engine.StartAgent(ctx, second.Ref())
	assert.ErrorIs(t, err, ErrConflict)

	err = h.engine.Transition(ctx, first.Ref(), models.StageImplementing)
	assert.ErrorIs(t, err, ErrConflict, "no transitions while running")

	err = h.engine.AbortAgent(ctx, second.Ref())
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "no agent running for task/"+second.ID)

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.Equal(t, runID, lease.HolderID)
	assert.Equal(t, first.Ref(), lease.Owner)
	assert.Equal(t, os.Getpid(), lease.PID)
	assert.Equal(t, runID, h.reload(t, first.Ref()).Control().AssignedAgent)

	close(release)
	h.engine.Wait()

	lease, err = h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())
	assert.Empty(t, h.reload(t, first.Ref()).Control().AssignedAgent)
}

func TestAbortAgent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, blockingRunner(make(chan struct{})), newStubConfigs(models.StagePlanning))
	task := h.task(t, "Abort me", models.StagePlanning, 0)

	_, err := h.engine.StartAgent(ctx, task.Ref())
	require.NoError(t, err)
	require.NoError(t, h.engine.AbortAgent(ctx, task.Ref()))
	h.engine.Wait()

	got := h.reload(t, task.Ref())
	assert.Empty(t, got.Control().AssignedAgent)
	assert.False(t, got.Control().HasError, "aborted runs are not failures")
	assert.Equal(t, models.StagePlanning, got.CurrentStage())

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())

	artifacts, err := h.db.ListArtifacts(task.Ref())
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	err = h.engine.AbortAgent(ctx, task.Ref())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStartAgent_NoConfigReleasesLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Nothing configured", models.StageResearch, 0)

	_, err := h.engine.StartAgent(ctx, task.Ref())
	assert.ErrorIs(t, err, ErrConfiguration)

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())
	assert.Empty(t, h.reload(t, task.Ref()).Control().AssignedAgent)
}

func TestStartAgent_TerminalRejected(t *testing.T) {
	h := newHarness(t, outputRunner("x"), newStubConfigs(models.StagePRReady))
	task := h.task(t, "Shipped", models.StagePRReady, 0)

	_, err := h.engine.StartAgent(context.Background(), task.Ref())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCompletion_AutoAdvance(t *testing.T) {
	output := "Thinking out loud first.\n\n## Implementation Plan\n1. Add handler\n2. Add tests\n\nConfidence: 0.92\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StagePlanning))
	task := h.task(t, "Add login", models.StagePlanning, 0)

	runID := h.runToCompletion(t, task.Ref())

	got := h.reload(t, task.Ref()).(*models.Task)
	assert.Equal(t, models.StageImplementing, got.State)
	assert.Empty(t, got.AssignedAgent)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.92, *got.Confidence, 1e-9)
	assert.False(t, got.PendingGate)
	assert.Equal(t, "go", got.DetectedLanguage, "detected context is cached on the item")

	artifacts, err := h.db.ListArtifacts(task.Ref())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, models.ArtifactPlan, artifacts[0].Type)
	assert.Equal(t, runID, artifacts[0].AgentID)
	assert.True(t, strings.HasPrefix(artifacts[0].Content, "## Implementation Plan"))

	assert.Equal(t, []EventType{EventArtifactCreated, EventStateChanged}, h.events.Types())

	reqs := h.runner.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Work on Add login in planning", reqs[0].Config.Prompt)
	assert.NotNil(t, reqs[0].Ask)
}

func TestCompletion_FollowsRecommendation(t *testing.T) {
	output := "## Code Review\nThe new tests are flaky.\n\n## Recommended Next State\nVerifying, to stabilise the suite.\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StageReviewing))
	task := h.task(t, "Review", models.StageReviewing, 0)

	h.runToCompletion(t, task.Ref())

	got := h.reload(t, task.Ref())
	assert.Equal(t, models.StageVerifying, got.CurrentStage())
	assert.Empty(t, got.Control().RecommendedNextState, "cleared once applied")
}

func TestCompletion_IllegalRecommendationFallsBackToSuccessor(t *testing.T) {
	output := "## Research Findings\nAll good.\n\n## Recommended Next State\nPrReady\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StageResearch))
	task := h.task(t, "Research", models.StageResearch, 0)

	h.runToCompletion(t, task.Ref())

	assert.Equal(t, models.StagePlanning, h.reload(t, task.Ref()).CurrentStage())
}

func TestCompletion_LowConfidenceGate(t *testing.T) {
	ctx := context.Background()
	output := "## Implementation Plan\nMaybe rewrite everything.\n\nConfidence: 40%\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StagePlanning))
	task := h.task(t, "Risky", models.StagePlanning, 0)

	h.runToCompletion(t, task.Ref())

	got := h.reload(t, task.Ref())
	assert.Equal(t, models.StagePlanning, got.CurrentStage(), "gated runs do not advance")
	assert.True(t, got.Control().PendingGate)
	assert.False(t, h.engine.Schedulable(got))
	assert.Equal(t, []EventType{EventArtifactCreated, EventGateRequested}, h.events.Types())

	gates, err := h.engine.ListGates(ctx, models.GatePending)
	require.NoError(t, err)
	require.Len(t, gates, 1)
	gate := gates[0]
	assert.Equal(t, models.GateLowConfidence, gate.GateType)
	require.NotNil(t, gate.Confidence)
	assert.InDelta(t, 0.4, *gate.Confidence, 1e-9)
	assert.NotEmpty(t, gate.SubjectID)

	resolved, err := h.engine.ResolveGate(ctx, gate.ID, models.GateApproved, "alice", "looks fine")
	require.NoError(t, err)
	assert.Equal(t, models.GateApproved, resolved.Status)

	got = h.reload(t, task.Ref())
	assert.Equal(t, models.StageImplementing, got.CurrentStage())
	assert.False(t, got.Control().PendingGate)

	_, err = h.engine.ResolveGate(ctx, gate.ID, models.GateRejected, "bob", "")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = h.engine.ResolveGate(ctx, "missing", models.GateApproved, "bob", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.ResolveGate(ctx, gate.ID, models.GatePending, "bob", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCompletion_HumanInputGateRejected(t *testing.T) {
	ctx := context.Background()
	output := "## Implementation Plan\nStep one.\n\nNEEDS_HUMAN_INPUT: which auth provider?\nConfidence: 0.95\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StagePlanning))
	task := h.task(t, "Auth", models.StagePlanning, 0)

	h.runToCompletion(t, task.Ref())

	gates, err := h.engine.ListGates(ctx, models.GatePending)
	require.NoError(t, err)
	require.Len(t, gates, 1)
	assert.Equal(t, models.GateHumanInput, gates[0].GateType)
	assert.Equal(t, "which auth provider?", gates[0].Reason)

	_, err = h.engine.ResolveGate(ctx, gates[0].ID, models.GateRejected, "alice", "use OIDC")
	require.NoError(t, err)

	got := h.reload(t, task.Ref())
	assert.Equal(t, models.StagePlanning, got.CurrentStage(), "rejected gates stay in stage")
	assert.False(t, got.Control().PendingGate)
	assert.False(t, got.Control().NeedsHumanInput)
	assert.True(t, h.engine.Schedulable(got), "rejected items can be run again")
}

func TestCompletion_FailureRetriesThenAutoPauses(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{respond: func(context.Context, RunRequest) (RunResult, error) {
		return RunResult{}, errors.New("model overloaded")
	}}
	h := newHarness(t, runner, newStubConfigs(models.StageResearch))
	task := &models.Task{Title: "Flaky", State: models.StageResearch, AgentState: models.AgentState{MaxRetries: 1}}
	require.NoError(t, h.engine.CreateTask(ctx, task))

	h.runToCompletion(t, task.Ref())
	got := h.reload(t, task.Ref()).Control()
	assert.True(t, got.HasError)
	assert.Equal(t, "model overloaded", got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
	assert.False(t, got.IsPaused)

	h.runToCompletion(t, task.Ref())
	got = h.reload(t, task.Ref()).Control()
	assert.Equal(t, 2, got.RetryCount)
	assert.True(t, got.IsPaused)
	assert.Equal(t, models.AutoPauseReason, got.PauseReason)
	assert.Equal(t, 1, h.events.Count(EventItemPaused))

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())

	require.NoError(t, h.engine.Resume(ctx, task.Ref()))
	got = h.reload(t, task.Ref()).Control()
	assert.False(t, got.IsPaused)
	assert.False(t, got.HasError)
	assert.Zero(t, got.RetryCount)
	assert.Nil(t, got.PausedAt)
}

func TestCompletion_ReportedErrorCountsAsFailure(t *testing.T) {
	runner := &fakeRunner{respond: func(context.Context, RunRequest) (RunResult, error) {
		return RunResult{Output: "partial", Error: "max turns reached"}, nil
	}}
	h := newHarness(t, runner, newStubConfigs(models.StageResearch))
	task := h.task(t, "Long", models.StageResearch, 0)

	h.runToCompletion(t, task.Ref())

	got := h.reload(t, task.Ref()).Control()
	assert.True(t, got.HasError)
	assert.Equal(t, "max turns reached", got.ErrorMessage)
	artifacts, err := h.db.ListArtifacts(task.Ref())
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs(models.StageResearch))
	task := h.task(t, "Hold", models.StageResearch, 0)

	require.NoError(t, h.engine.Pause(ctx, task.Ref(), "waiting on design"))
	require.NoError(t, h.engine.Pause(ctx, task.Ref(), "again"))

	got := h.reload(t, task.Ref())
	c := got.Control()
	assert.True(t, c.IsPaused)
	assert.Equal(t, "waiting on design", c.PauseReason)
	require.NotNil(t, c.PausedAt)
	assert.False(t, h.engine.Schedulable(got))

	require.NoError(t, h.engine.Resume(ctx, task.Ref()))
	require.NoError(t, h.engine.Resume(ctx, task.Ref()))

	c = h.reload(t, task.Ref()).Control()
	assert.False(t, c.IsPaused)
	assert.Empty(t, c.PauseReason)
	assert.Nil(t, c.PausedAt)
	assert.Equal(t, []EventType{EventItemPaused, EventItemResumed}, h.events.Types())
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	output := "## Implementation Plan\nUnsure.\n\nConfidence: 0.1\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StagePlanning))
	task := h.task(t, "Redo", models.StagePlanning, 0)
	h.runToCompletion(t, task.Ref())
	h.events.Reset()

	rec, err := h.engine.Rollback(ctx, task.Ref(), models.RollbackManual, "research was thin")
	require.NoError(t, err)
	assert.Equal(t, models.RollbackManual, rec.Trigger)
	assert.Contains(t, string(rec.StateBefore), `"state":"planning"`)
	assert.JSONEq(t, `{"from":"planning","to":"research"}`, string(rec.ActionTaken))

	got := h.reload(t, task.Ref())
	assert.Equal(t, models.StageResearch, got.CurrentStage())
	assert.False(t, got.Control().PendingGate)

	pending, err := h.engine.ListGates(ctx, models.GatePending)
	require.NoError(t, err)
	assert.Empty(t, pending, "pending gates are skipped by a rollback")
	assert.Equal(t, []EventType{EventGateResolved, EventStateChanged}, h.events.Types())

	records, err := h.db.ListRollbacks(task.Ref())
	require.NoError(t, err)
	assert.Len(t, records, 1)

	first := h.task(t, "At start", models.StageBacklog, 0)
	_, err = h.engine.Rollback(ctx, first.Ref(), models.RollbackManual, "")
	assert.ErrorIs(t, err, ErrValidation)
}

type fakeInspector struct {
	state *git.RepoState
	err   error
}

func (f fakeInspector) Inspect(context.Context, string) (*git.RepoState, error) {
	return f.state, f.err
}

func TestRollback_RecordsRepositoryState(t *testing.T) {
	ctx := context.Background()
	repo := &git.RepoState{Branch: "main", Head: "abc123", Changed: []string{"api.go"}}
	h := newHarness(t, outputRunner(""), newStubConfigs(), WithRepoInspector(fakeInspector{state: repo}))
	task := h.task(t, "Snapshot", models.StageResearch, 0)

	rec, err := h.engine.Rollback(ctx, task.Ref(), models.RollbackManual, "")
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"retry_stage":"research","resume":false,"repository":{"branch":"main","head":"abc123","changed":["api.go"]}}`,
		string(rec.RecoveryOptions))

	h = newHarness(t, outputRunner(""), newStubConfigs(), WithRepoInspector(fakeInspector{err: git.ErrNotRepository}))
	task = h.task(t, "No repo", models.StageResearch, 0)
	rec, err = h.engine.Rollback(ctx, task.Ref(), models.RollbackManual, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"retry_stage":"research","resume":false}`, string(rec.RecoveryOptions))
}

func TestSplittingCreatesChildrenAndCompletesParent(t *testing.T) {
	ctx := context.Background()
	output := "## Task Breakdown\n\n### Task 1: Schema\nAdd tables.\n\n### Task 2: API\nAdd endpoints.\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StageSplitting))
	epic := &models.BacklogItem{Title: "Accounts", State: models.StageSplitting, Priority: 3}
	require.NoError(t, h.engine.CreateBacklogItem(ctx, epic))

	h.runToCompletion(t, epic.Ref())

	parent := h.reload(t, epic.Ref()).(*models.BacklogItem)
	assert.Equal(t, models.StageExecuting, parent.State)
	assert.Equal(t, 2, parent.TaskCount)

	children, err := h.db.ListTasks(state.TaskFilter{BacklogID: epic.ID})
	require.NoError(t, err)
	require.Len(t, children, 2)
	titles := map[string]bool{}
	for _, c := range children {
		titles[c.Title] = true
		assert.Equal(t, 3, c.Priority)
		assert.Equal(t, models.StageBacklog, c.State)
	}
	assert.True(t, titles["Schema"])
	assert.True(t, titles["API"])

	for _, c := range children {
		for _, stage := range models.TaskPipeline[1:] {
			require.NoError(t, h.engine.Transition(ctx, c.Ref(), stage))
		}
	}

	parent = h.reload(t, epic.Ref()).(*models.BacklogItem)
	assert.Equal(t, 2, parent.CompletedTaskCount)
	assert.Equal(t, models.StageDone, parent.State)
}

func TestChildLeavingDoneStageIsNotCountedTwice(t *testing.T) {
	ctx := context.Background()
	output := "## Task Breakdown\n\n### Task 1: Schema\nAdd tables.\n\n### Task 2: API\nAdd endpoints.\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StageSplitting))
	epic := &models.BacklogItem{Title: "Accounts", State: models.StageSplitting}
	require.NoError(t, h.engine.CreateBacklogItem(ctx, epic))
	h.runToCompletion(t, epic.Ref())

	children, err := h.db.ListTasks(state.TaskFilter{BacklogID: epic.ID})
	require.NoError(t, err)
	require.Len(t, children, 2)
	first, second := children[0], children[1]

	for _, stage := range models.TaskPipeline[1:] {
		require.NoError(t, h.engine.Transition(ctx, first.Ref(), stage))
	}
	require.NoError(t, h.engine.Transition(ctx, first.Ref(), models.StageReviewing))
	parent := h.reload(t, epic.Ref()).(*models.BacklogItem)
	assert.Equal(t, 0, parent.CompletedTaskCount)

	require.NoError(t, h.engine.Transition(ctx, first.Ref(), models.StagePRReady))
	parent = h.reload(t, epic.Ref()).(*models.BacklogItem)
	assert.Equal(t, 1, parent.CompletedTaskCount)
	assert.Equal(t, models.StageExecuting, parent.State, "parent waits for the untouched child")
	assert.Equal(t, models.StageBacklog, h.reload(t, second.Ref()).CurrentStage())

	for _, stage := range models.TaskPipeline[1:] {
		require.NoError(t, h.engine.Transition(ctx, second.Ref(), stage))
	}
	parent = h.reload(t, epic.Ref()).(*models.BacklogItem)
	assert.Equal(t, 2, parent.CompletedTaskCount)
	assert.Equal(t, models.StageDone, parent.State)
}

// artifactFailingStore refuses to persist artifacts.
type artifactFailingStore struct {
	*state.DB
}

func (artifactFailingStore) CreateArtifact(*models.Artifact) error {
	return errors.New("disk full")
}

func TestFailedResultClearsRunMarker(t *testing.T) {
	ctx := context.Background()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	configs := newStubConfigs(models.StageResearch)
	e := New(artifactFailingStore{db}, configs, configs, outputRunner("## Research Findings\nAll good."),
		WithLogger(zaptest.NewLogger(t)), WithRepoPath(t.TempDir()))
	t.Cleanup(e.Shutdown)

	task := &models.Task{Title: "Survey", State: models.StageResearch}
	require.NoError(t, e.CreateTask(ctx, task))
	_, err = e.StartAgent(ctx, task.Ref())
	require.NoError(t, err)
	e.Wait()

	lease, err := db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())

	item, err := e.Item(ctx, task.Ref())
	require.NoError(t, err)
	c := item.Control()
	assert.Empty(t, c.AssignedAgent, "run marker must not outlive the lease")
	assert.True(t, c.HasError)
	assert.Contains(t, c.ErrorMessage, "disk full")
	assert.Equal(t, 1, c.RetryCount)
	assert.Equal(t, models.StageResearch, item.CurrentStage())
	assert.True(t, e.Schedulable(item))

	require.NoError(t, e.Transition(ctx, task.Ref(), models.StagePlanning))
}

func TestPendingGateBlocksManualTransition(t *testing.T) {
	ctx := context.Background()
	output := "## Implementation Plan\nUnsure.\n\nConfidence: 0.2\n"
	h := newHarness(t, outputRunner(output), newStubConfigs(models.StagePlanning))
	task := h.task(t, "Gated", models.StagePlanning, 0)
	h.runToCompletion(t, task.Ref())

	gates, err := h.engine.ListGates(ctx, models.GatePending)
	require.NoError(t, err)
	require.Len(t, gates, 1)

	err = h.engine.Transition(ctx, task.Ref(), models.StageImplementing)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.StagePlanning, h.reload(t, task.Ref()).CurrentStage())

	// A gate approved after its item left the gated stage does not advance it.
	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	stored.State = models.StageImplementing
	require.NoError(t, h.db.UpdateTask(stored))

	_, err = h.engine.ResolveGate(ctx, gates[0].ID, models.GateApproved, "alice", "")
	require.NoError(t, err)
	got := h.reload(t, task.Ref())
	assert.Equal(t, models.StageImplementing, got.CurrentStage())
	assert.False(t, got.Control().PendingGate)
}

func TestRefiningIncrementsIteration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("## Refined Requirements\nSharper."), newStubConfigs(models.StageRefining))
	item := &models.BacklogItem{Title: "Vague", State: models.StageRefining}
	require.NoError(t, h.engine.CreateBacklogItem(ctx, item))

	h.runToCompletion(t, item.Ref())

	got := h.reload(t, item.Ref()).(*models.BacklogItem)
	assert.Equal(t, 1, got.RefinementIteration)
	assert.Equal(t, models.StageReady, got.State)
}

type stubRecoverer struct {
	stale     *state.StaleLease
	recovered bool
}

func (s *stubRecoverer) CheckForStale() (*state.StaleLease, error) { return s.stale, nil }

func (s *stubRecoverer) Recover(*state.StaleLease, time.Time) error {
	s.recovered = true
	return nil
}

func TestStart_RecoversStaleLease(t *testing.T) {
	rec := &stubRecoverer{stale: &state.StaleLease{Lease: models.AgentLease{HolderID: "old", PID: 1}}}
	h := newHarness(t, outputRunner("x"), newStubConfigs(), WithRecoverer(rec))
	require.NoError(t, h.engine.Start(context.Background()))
	assert.True(t, rec.recovered)

	clean := &stubRecoverer{}
	h = newHarness(t, outputRunner("x"), newStubConfigs(), WithRecoverer(clean))
	require.NoError(t, h.engine.Start(context.Background()))
	assert.False(t, clean.recovered)
}

func TestPlanningWithoutArtifactsRendersFallbacks(t *testing.T) {
	root := t.TempDir()
	defaults := filepath.Join(root, "defaults")
	require.NoError(t, os.MkdirAll(defaults, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(defaults, "planner.yaml"), []byte(`id: planner
name: Planner
state: planning
prompt: |
  Plan the work item "{task.title}".
  Existing plan: {artifacts.plan}
  History: {artifacts}
`), 0644))

	logger := zaptest.NewLogger(t)
	configs := agentconfig.NewStore(defaults, filepath.Join(root, "variants"), logger)
	sel := selector.New(configs, detect.New(logger), logger)

	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	defer db.Close()

	runner := outputRunner("## Implementation Plan\nok\n")
	e := New(db, sel, configs, runner, WithLogger(logger), WithRepoPath(t.TempDir()))
	ctx := context.Background()
	task := &models.Task{Title: "Add {weird} login", State: models.StagePlanning}
	require.NoError(t, e.CreateTask(ctx, task))

	_, err = e.StartAgent(ctx, task.Ref())
	require.NoError(t, err)
	e.Wait()

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	p := reqs[0].Config.Prompt
	assert.Contains(t, p, `Plan the work item "Add {weird} login".`)
	assert.Contains(t, strings.ToLower(p), "existing plan: no implementation plan available")
	assert.Contains(t, p, "History: No previous artifacts available.")
	assert.Equal(t, "planner", reqs[0].Config.Config.ID)
	assert.False(t, reqs[0].Config.Variant)
}
