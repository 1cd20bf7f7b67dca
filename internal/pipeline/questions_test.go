package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

func dbChoice() []models.Question {
	return []models.Question{{
		Header:  "Database",
		Prompt:  "Which database should the service use?",
		Options: []models.QuestionOption{{Label: "sqlite"}, {Label: "postgres"}},
	}}
}

func TestRequestQuestion_ClaimsSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs(models.StageResearch))
	task := h.task(t, "Ask", models.StageResearch, 0)
	other := h.task(t, "Other", models.StageResearch, 0)

	q, err := h.engine.RequestQuestion(ctx, task.Ref(), "call-1", dbChoice(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionPending, q.Status)
	require.NotNil(t, q.TimeoutAt)

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.Equal(t, models.LeaseQuestion, lease.HolderKind)
	assert.Equal(t, q.ID, lease.HolderID)

	_, err = h.engine.StartAgent(ctx, other.Ref())
	assert.ErrorIs(t, err, ErrConflict, "a pending question occupies the slot")

	_, err = h.engine.RequestQuestion(ctx, other.Ref(), "call-2", dbChoice(), time.Minute)
	assert.ErrorIs(t, err, ErrConflict, "only one pending question")

	require.NoError(t, h.engine.AnswerQuestion(ctx, q.ID, map[string]string{"Database": "sqlite"}))

	err = h.engine.AnswerQuestion(ctx, q.ID, map[string]string{"Database": "postgres"})
	assert.ErrorIs(t, err, ErrConflict)
	err = h.engine.CancelQuestion(ctx, q.ID)
	assert.ErrorIs(t, err, ErrConflict)

	lease, err = h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())

	got, err := h.engine.WaitForAnswer(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", got.Answers["Database"])
	assert.Equal(t, []EventType{EventQuestionRequested, EventQuestionAnswered}, h.events.Types())
}

func TestRequestQuestion_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Ask", models.StageResearch, 0)

	_, err := h.engine.RequestQuestion(ctx, task.Ref(), "call", nil, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.RequestQuestion(ctx, task.Ref(), "call", []models.Question{{Header: "h"}}, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.RequestQuestion(ctx, models.TaskRef("missing"), "call", dbChoice(), 0)
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.engine.AnswerQuestion(ctx, "missing", map[string]string{"a": "b"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.engine.AnswerQuestion(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWaitForAnswer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Ask", models.StageResearch, 0)

	q, err := h.engine.RequestQuestion(ctx, task.Ref(), "call", dbChoice(), time.Hour)
	require.NoError(t, err)

	result := make(chan *models.AgentQuestion, 1)
	go func() {
		got, err := h.engine.WaitForAnswer(ctx, q.ID)
		assert.NoError(t, err)
		result <- got
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.engine.AnswerQuestion(ctx, q.ID, map[string]string{"Database": "postgres"}))

	select {
	case got := <-result:
		assert.Equal(t, models.QuestionAnswered, got.Status)
		assert.Equal(t, "postgres", got.Answers["Database"])
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForAnswer did not return")
	}
}

func TestWaitForAnswer_AnsweredByAnotherEngine(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Ask", models.StageResearch, 0)

	q, err := h.engine.RequestQuestion(ctx, task.Ref(), "call", dbChoice(), time.Hour)
	require.NoError(t, err)

	// A second engine on the same database stands in for the CLI process.
	other := New(h.db, newStubConfigs(), newStubConfigs(), outputRunner("x"))
	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, other.AnswerQuestion(ctx, q.ID, map[string]string{"Database": "sqlite"}))
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 3*answerPollInterval)
	defer cancel()
	got, err := h.engine.WaitForAnswer(waitCtx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", got.Answers["Database"])
}

func TestWaitForAnswer_ContextCancelled(t *testing.T) {
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Ask", models.StageResearch, 0)

	q, err := h.engine.RequestQuestion(context.Background(), task.Ref(), "call", dbChoice(), time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.engine.WaitForAnswer(ctx, q.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForAnswer_TimesOut(t *testing.T) {
	// Real clock so the wait timer and the stored deadline agree.
	h := newHarness(t, outputRunner("x"), newStubConfigs(), WithClock(time.Now))
	task := h.task(t, "Ask", models.StageResearch, 0)

	q, err := h.engine.RequestQuestion(context.Background(), task.Ref(), "call", dbChoice(), 30*time.Millisecond)
	require.NoError(t, err)

	got, err := h.engine.WaitForAnswer(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionTimeout, got.Status)
	assert.Equal(t, 1, h.events.Count(EventQuestionTimeout))

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())
}

func TestExpireQuestions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs())
	task := h.task(t, "Ask", models.StageResearch, 0)

	q, err := h.engine.RequestQuestion(ctx, task.Ref(), "call", dbChoice(), time.Minute)
	require.NoError(t, err)

	n, err := h.engine.ExpireQuestions(ctx, q.RequestedAt)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = h.engine.ExpireQuestions(ctx, q.TimeoutAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.db.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionTimeout, got.Status)
}

func TestAgentAsksDuringRun(t *testing.T) {
	runner := &fakeRunner{respond: func(ctx context.Context, req RunRequest) (RunResult, error) {
		answers, err := req.Ask(ctx, "tool-1", dbChoice())
		if err != nil {
			return RunResult{}, err
		}
		return RunResult{Output: "## Research Findings\nUse " + answers["Database"] + ".\nConfidence: 0.9"}, nil
	}}
	h := newHarness(t, runner, newStubConfigs(models.StageResearch))
	h.events.hook = func(ev Event) {
		if ev.Type != EventQuestionRequested {
			return
		}
		q := ev.Payload.(*models.AgentQuestion)
		go func() {
			assert.NoError(t, h.engine.AnswerQuestion(context.Background(), q.ID, map[string]string{"Database": "sqlite"}))
		}()
	}
	task := h.task(t, "Pick a database", models.StageResearch, 0)

	h.runToCompletion(t, task.Ref())

	artifacts, err := h.db.ListArtifacts(task.Ref())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Contains(t, artifacts[0].Content, "Use sqlite.")
	assert.Equal(t, models.StagePlanning, h.reload(t, task.Ref()).CurrentStage())

	questions, err := h.engine.ListQuestions(context.Background(), models.QuestionAnswered)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "tool-1", questions[0].ToolCallID)
}

func TestAbortCancelsPendingQuestion(t *testing.T) {
	ctx := context.Background()
	asked := make(chan string, 1)
	runner := &fakeRunner{respond: func(ctx context.Context, req RunRequest) (RunResult, error) {
		_, err := req.Ask(ctx, "tool-1", dbChoice())
		return RunResult{}, err
	}}
	h := newHarness(t, runner, newStubConfigs(models.StageResearch))
	h.events.hook = func(ev Event) {
		if ev.Type == EventQuestionRequested {
			asked <- ev.Payload.(*models.AgentQuestion).ID
		}
	}
	task := h.task(t, "Ask then abort", models.StageResearch, 0)

	_, err := h.engine.StartAgent(ctx, task.Ref())
	require.NoError(t, err)

	var qid string
	select {
	case qid = <-asked:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never asked")
	}

	require.NoError(t, h.engine.AbortAgent(ctx, task.Ref()))
	h.engine.Wait()

	got, err := h.db.GetQuestion(qid)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionCancelled, got.Status)
	assert.Equal(t, 1, h.events.Count(EventQuestionCancelled))

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())
}
