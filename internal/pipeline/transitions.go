package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/git"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

const (
	causeManual   = "manual"
	causeAuto     = "auto"
	causeGate     = "gate"
	causeRollback = "rollback"
	causeChildren = "children_complete"
)

// Transition moves an item one step forward or back in its pipeline.
func (e *Engine) Transition(ctx context.Context, ref models.ItemRef, target models.Stage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.loadItem("transition", ref)
	if err != nil {
		return err
	}
	c := item.Control()
	if c.AssignedAgent != "" {
		return conflictError("transition", ref, "agent %s is running for %s", c.AssignedAgent, ref)
	}
	if c.PendingGate {
		return conflictError("transition", ref, "%s has a pending gate; resolve it or roll back first", ref)
	}
	from := item.CurrentStage()
	if target == from {
		return validationError("transition", ref, "%s is already in %s", ref, from)
	}
	if !models.PipelineFor(ref.Kind).CanTransition(from, target) {
		return validationError("transition", ref, "cannot move %s from %s to %s", ref, from, target)
	}
	return e.moveLocked(ctx, item, target, causeManual)
}

// moveLocked applies a transition that has already been validated.
func (e *Engine) moveLocked(ctx context.Context, item models.Item, target models.Stage, cause string) error {
	from := item.CurrentStage()
	item.SetStage(target)
	item.Control().RecommendedNextState = ""
	item.Touch(e.now())
	if err := e.saveItem(item); err != nil {
		return fmt.Errorf("transition %s: %w", item.Ref(), err)
	}

	ref := item.Ref()
	e.metrics.Transitions.WithLabelValues(string(ref.Kind), cause).Inc()
	e.logger.Info("item moved",
		zap.String("item", ref.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("cause", cause))
	e.notify(ctx, EventStateChanged, ref, StateChange{From: from, To: target, Cause: cause})

	done := models.StagePRReady
	if t, ok := item.(*models.Task); ok && t.BacklogID != "" && (from == done || target == done) {
		return e.childMovedLocked(ctx, t.BacklogID, done)
	}
	return nil
}

// childMovedLocked recounts the parent's finished children after a child
// enters or leaves the done stage, and closes the parent once all are done.
func (e *Engine) childMovedLocked(ctx context.Context, backlogID string, done models.Stage) error {
	parent, err := e.store.RecountCompletedTasks(backlogID, done)
	if err != nil {
		return fmt.Errorf("count completed children of %s: %w", backlogID, err)
	}
	if parent == nil || parent.TaskCount == 0 || parent.CompletedTaskCount < parent.TaskCount {
		return nil
	}
	next, ok := models.BacklogPipeline.Next(parent.State)
	if parent.State != models.StageExecuting || !ok || parent.AssignedAgent != "" {
		return nil
	}
	return e.moveLocked(ctx, parent, next, causeChildren)
}

// Pause excludes an item from scheduling. Pausing a paused item is a no-op.
func (e *Engine) Pause(ctx context.Context, ref models.ItemRef, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.loadItem("pause", ref)
	if err != nil {
		return err
	}
	c := item.Control()
	if c.IsPaused {
		return nil
	}
	now := e.now()
	c.Pause(reason, now)
	item.Touch(now)
	if err := e.saveItem(item); err != nil {
		return fmt.Errorf("pause %s: %w", ref, err)
	}
	e.notify(ctx, EventItemPaused, ref, item)
	return nil
}

// Resume clears the pause, the error fields and the retry counter.
func (e *Engine) Resume(ctx context.Context, ref models.ItemRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.loadItem("resume", ref)
	if err != nil {
		return err
	}
	c := item.Control()
	if !c.IsPaused && !c.HasError && c.RetryCount == 0 {
		return nil
	}
	c.Resume()
	item.Touch(e.now())
	if err := e.saveItem(item); err != nil {
		return fmt.Errorf("resume %s: %w", ref, err)
	}
	e.notify(ctx, EventItemResumed, ref, item)
	return nil
}

type rollbackAction struct {
	From models.Stage `json:"from"`
	To   models.Stage `json:"to"`
}

type rollbackOptions struct {
	RetryStage models.Stage   `json:"retry_stage"`
	Resume     bool           `json:"resume"`
	Repository *git.RepoState `json:"repository,omitempty"`
}

// Rollback records a snapshot of the item and moves it back one stage,
// clearing its error and gate flags. Pending gates are skipped.
func (e *Engine) Rollback(ctx context.Context, ref models.ItemRef, trigger models.RollbackTrigger, notes string) (*models.RollbackRecord, error) {
	repo := e.inspectRepo(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.loadItem("rollback", ref)
	if err != nil {
		return nil, err
	}
	c := item.Control()
	if c.AssignedAgent != "" {
		return nil, conflictError("rollback", ref, "agent %s is running for %s", c.AssignedAgent, ref)
	}
	from := item.CurrentStage()
	prev, ok := models.PipelineFor(ref.Kind).Previous(from)
	if !ok {
		return nil, validationError("rollback", ref, "%s has no stage before %s", ref, from)
	}

	artifacts, err := e.store.ListArtifacts(ref)
	if err != nil {
		return nil, fmt.Errorf("rollback: list artifacts: %w", err)
	}
	preserved := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		preserved = append(preserved, a.ID)
	}

	rec := &models.RollbackRecord{
		ID:                 uuid.NewString(),
		Owner:              ref,
		Trigger:            trigger,
		CreatedAt:          e.now(),
		StateBefore:        mustJSON(item),
		ActionTaken:        mustJSON(rollbackAction{From: from, To: prev}),
		PreservedArtifacts: mustJSON(preserved),
		RecoveryOptions:    mustJSON(rollbackOptions{RetryStage: from, Resume: c.IsPaused, Repository: repo}),
		Notes:              notes,
	}
	if err := e.store.CreateRollback(rec); err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}

	if err := e.skipPendingGatesLocked(ctx, ref, "superseded by rollback"); err != nil {
		return nil, err
	}

	c.HasError = false
	c.ErrorMessage = ""
	c.PendingGate = false
	c.NeedsHumanInput = false
	c.HumanInputReason = ""
	if err := e.moveLocked(ctx, item, prev, causeRollback); err != nil {
		return nil, err
	}
	return rec, nil
}

// inspectRepo snapshots the repository outside the engine lock. Failures
// only cost the snapshot.
func (e *Engine) inspectRepo(ctx context.Context) *git.RepoState {
	if e.inspector == nil || e.repoPath == "" {
		return nil
	}
	repo, err := e.inspector.Inspect(ctx, e.repoPath)
	if err != nil {
		e.logger.Debug("repository snapshot skipped", zap.Error(err))
		return nil
	}
	return repo
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
