package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

func TestCandidates_PriorityThenAge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs(models.StageResearch, models.StageRefining))

	oldLow := h.task(t, "old low", models.StageResearch, 1)
	oldHigh := h.task(t, "old high", models.StageResearch, 5)
	newHigh := h.task(t, "new high", models.StageResearch, 5)
	h.task(t, "no agent for stage", models.StagePlanning, 9)
	h.task(t, "terminal", models.StagePRReady, 9)
	paused := h.task(t, "paused", models.StageResearch, 9)
	require.NoError(t, h.engine.Pause(ctx, paused.Ref(), "hold"))
	epic := &models.BacklogItem{Title: "epic", State: models.StageRefining, Priority: 5}
	require.NoError(t, h.engine.CreateBacklogItem(ctx, epic))

	cands, err := h.engine.Candidates(ctx)
	require.NoError(t, err)

	var refs []models.ItemRef
	for _, c := range cands {
		refs = append(refs, c.Ref())
	}
	assert.Equal(t, []models.ItemRef{oldHigh.Ref(), newHigh.Ref(), epic.Ref(), oldLow.Ref()}, refs)
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	h := newHarness(t, blockingRunner(release), newStubConfigs(models.StagePlanning))
	low := h.task(t, "low", models.StagePlanning, 1)
	high := h.task(t, "high", models.StagePlanning, 2)
	s := NewScheduler(h.engine, time.Hour, zaptest.NewLogger(t))

	runID, err := s.Tick(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.Equal(t, runID, h.reload(t, high.Ref()).Control().AssignedAgent)

	again, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "slot is busy")
	assert.Empty(t, h.reload(t, low.Ref()).Control().AssignedAgent)

	close(release)
	h.engine.Wait()

	next, err := s.Tick(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, next)
	assert.Equal(t, next, h.reload(t, low.Ref()).Control().AssignedAgent)
	h.engine.Wait()
}

func TestSchedulerTick_ExpiresQuestions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, outputRunner("x"), newStubConfigs(), WithClock(time.Now))
	task := h.task(t, "asks", models.StageResearch, 0)

	_, err := h.engine.RequestQuestion(ctx, task.Ref(), "call", dbChoice(), time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = NewScheduler(h.engine, time.Hour, nil).Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.events.Count(EventQuestionTimeout))

	lease, err := h.db.GetLease()
	require.NoError(t, err)
	assert.False(t, lease.Held())
}

func TestSchedulerRun_DrainsWork(t *testing.T) {
	h := newHarness(t, outputRunner("## Research Findings\nDone.\n"), newStubConfigs(models.StageResearch))
	task := h.task(t, "research me", models.StageResearch, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewScheduler(h.engine, 10*time.Millisecond, zaptest.NewLogger(t)).Run(ctx) }()

	require.Eventually(t, func() bool {
		item, err := h.engine.Item(context.Background(), task.Ref())
		return err == nil && item.CurrentStage() == models.StagePlanning
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
