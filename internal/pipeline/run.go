package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/artifact"
	"github.com/ShayCichocki/stagehand/internal/prompt"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// activeRun is a run dispatched by this process.
type activeRun struct {
	id      string
	owner   models.ItemRef
	stage   models.Stage
	config  *models.ResolvedAgentConfig
	cancel  context.CancelFunc
	started time.Time
	aborted bool
}

// StartAgent claims the agent slot for ref and dispatches a run in the
// background. It returns the run ID without waiting for the run.
func (e *Engine) StartAgent(ctx context.Context, ref models.ItemRef) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.loadItem("start agent", ref)
	if err != nil {
		return "", err
	}
	if models.PipelineFor(ref.Kind).Terminal(item.CurrentStage()) {
		return "", validationError("start agent", ref, "%s is in terminal stage %s", ref, item.CurrentStage())
	}

	now := e.now()
	runID := uuid.NewString()
	acquired, err := e.store.AcquireLease(models.AgentLease{
		HolderKind: models.LeaseRun,
		Owner:      ref,
		HolderID:   runID,
		AcquiredAt: &now,
		PID:        e.pid,
	})
	if err != nil {
		return "", fmt.Errorf("start agent: %w", err)
	}
	if !acquired {
		lease, _ := e.store.GetLease()
		return "", conflictError("start agent", ref, "agent slot is held by %s", lease.Owner)
	}

	run, err := e.prepareRunLocked(ctx, item, runID, now)
	if err != nil {
		if _, relErr := e.store.ReleaseLease(runID); relErr != nil {
			e.logger.Error("release lease after failed start", zap.String("run", runID), zap.Error(relErr))
		}
		return "", err
	}
	e.metrics.SlotOccupied.Set(1)
	e.metrics.RunsStarted.Inc()

	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	e.runs[runID] = run

	req := RunRequest{
		RunID:    runID,
		Owner:    ref,
		Stage:    run.stage,
		RepoPath: e.repoPath,
		Config:   run.config,
		Ask:      e.askFor(ref),
	}
	e.logger.Info("agent started",
		zap.String("run", runID),
		zap.String("item", ref.String()),
		zap.String("stage", string(run.stage)),
		zap.String("config", run.config.Config.ID),
		zap.Bool("variant", run.config.Variant))

	e.wg.Add(1)
	go e.execute(runCtx, run, req)
	return runID, nil
}

func (e *Engine) prepareRunLocked(ctx context.Context, item models.Item, runID string, now time.Time) (*activeRun, error) {
	resolved, err := e.selectLocked(ctx, item, e.repoPath)
	if err != nil {
		return nil, err
	}
	artifacts, err := e.store.ListArtifacts(item.Ref())
	if err != nil {
		return nil, fmt.Errorf("start agent: list artifacts: %w", err)
	}
	c := detected(item)
	resolved.Prompt = prompt.Assemble(resolved.Prompt, prompt.Input{
		Item:      item,
		RepoPath:  e.repoPath,
		Language:  c.Language,
		Framework: c.Framework,
		Artifacts: artifacts,
	})

	item.Control().AssignedAgent = runID
	item.Touch(now)
	if err := e.saveItem(item); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}
	return &activeRun{
		id:      runID,
		owner:   item.Ref(),
		stage:   item.CurrentStage(),
		config:  resolved,
		started: now,
	}, nil
}

func (e *Engine) execute(ctx context.Context, run *activeRun, req RunRequest) {
	defer e.wg.Done()
	defer run.cancel()

	result, err := e.runner.Run(ctx, req)
	e.complete(context.Background(), run, result, err)

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// AbortAgent cancels the run holding the slot for ref.
func (e *Engine) AbortAgent(ctx context.Context, ref models.ItemRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lease, err := e.store.GetLease()
	if err != nil {
		return fmt.Errorf("abort agent: %w", err)
	}
	if !lease.Held() || lease.HolderKind != models.LeaseRun || lease.Owner != ref {
		return conflictError("abort agent", ref, "no agent running for %s", ref)
	}

	if run, ok := e.runs[lease.HolderID]; ok {
		run.aborted = true
		run.cancel()
		delete(e.runs, run.id)
		e.metrics.RunsFinished.WithLabelValues(string(run.stage), "aborted").Inc()
	}

	item, err := e.loadItem("abort agent", ref)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if item != nil {
		item.Control().AssignedAgent = ""
		item.Touch(e.now())
		if err := e.saveItem(item); err != nil {
			return fmt.Errorf("abort agent: %w", err)
		}
	}

	if _, err := e.store.ReleaseLease(lease.HolderID); err != nil {
		return fmt.Errorf("abort agent: %w", err)
	}
	e.metrics.SlotOccupied.Set(0)
	e.logger.Info("agent aborted", zap.String("run", lease.HolderID), zap.String("item", ref.String()))

	return e.cancelQuestionsForLocked(ctx, ref)
}

// complete applies a finished run to its item. The slot is released in every
// outcome.
func (e *Engine) complete(ctx context.Context, run *activeRun, result RunResult, runErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if run.aborted {
		return
	}
	delete(e.runs, run.id)
	defer e.releaseRunLocked(run)
	if err := e.cancelQuestionsForLocked(ctx, run.owner); err != nil {
		e.logger.Error("cancel questions of finished run", zap.String("run", run.id), zap.Error(err))
	}

	e.metrics.RunDuration.WithLabelValues(string(run.stage)).Observe(e.now().Sub(run.started).Seconds())
	log := e.logger.With(zap.String("run", run.id), zap.String("item", run.owner.String()), zap.String("stage", string(run.stage)))

	item, err := e.loadItem("complete run", run.owner)
	if err != nil {
		log.Warn("run finished for missing item", zap.Error(err))
		return
	}
	c := item.Control()
	c.AssignedAgent = ""

	if runErr == nil && result.Error != "" {
		runErr = errors.New(result.Error)
	}
	if runErr != nil {
		e.failLocked(ctx, item, run, runErr, log)
		return
	}

	if err := e.succeedLocked(ctx, item, run, result.Output, log); err != nil {
		log.Error("apply run result", zap.Error(err))
		// The in-memory item may be half updated; record the failure on the
		// stored copy so the run marker never outlives the lease.
		stored, loadErr := e.loadItem("complete run", run.owner)
		if loadErr != nil {
			log.Error("reload item after failed result", zap.Error(loadErr))
			return
		}
		stored.Control().AssignedAgent = ""
		e.failLocked(ctx, stored, run, fmt.Errorf("apply run result: %w", err), log)
	}
}

func (e *Engine) releaseRunLocked(run *activeRun) {
	if _, err := e.store.ReleaseLease(run.id); err != nil {
		e.logger.Error("release lease", zap.String("run", run.id), zap.Error(err))
		return
	}
	e.metrics.SlotOccupied.Set(0)
}

func (e *Engine) failLocked(ctx context.Context, item models.Item, run *activeRun, runErr error, log *zap.Logger) {
	now := e.now()
	c := item.Control()
	paused := c.RecordFailure(runErr.Error(), now)
	item.Touch(now)
	if err := e.saveItem(item); err != nil {
		log.Error("record run failure", zap.Error(err))
		return
	}
	e.metrics.RunsFinished.WithLabelValues(string(run.stage), "failed").Inc()
	log.Warn("agent run failed",
		zap.Error(runErr),
		zap.Int("retry_count", c.RetryCount),
		zap.Int("max_retries", c.MaxRetries))
	if paused {
		e.metrics.AutoPauses.Inc()
		log.Warn("item paused after exhausting retries")
		e.notify(ctx, EventItemPaused, item.Ref(), item)
	}
}

func (e *Engine) succeedLocked(ctx context.Context, item models.Item, run *activeRun, output string, log *zap.Logger) error {
	ref := item.Ref()
	stage := run.stage
	c := item.Control()

	parsed := artifact.ParseArtifact(output, run.config.Config, stage)
	confidence := artifact.ParseConfidence(output)
	needsInput, inputReason := artifact.ParseHumanInputRequest(output)
	recommended, _ := artifact.ParseRecommendedNextState(output, models.PipelineFor(ref.Kind))

	a := &models.Artifact{
		ID:               uuid.NewString(),
		Owner:            ref,
		State:            stage,
		Type:             parsed.Type,
		Content:          parsed.Content,
		CreatedAt:        e.now(),
		AgentID:          run.id,
		Confidence:       confidence,
		NeedsHumanInput:  needsInput,
		HumanInputReason: inputReason,
	}
	if err := e.store.CreateArtifact(a); err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	e.notify(ctx, EventArtifactCreated, ref, a)

	c.HasError = false
	c.ErrorMessage = ""
	c.Confidence = confidence
	c.RecommendedNextState = recommended
	c.NeedsHumanInput = needsInput
	c.HumanInputReason = inputReason

	if err := e.applyStageEffectsLocked(item, stage, parsed.Content); err != nil {
		return err
	}
	e.metrics.RunsFinished.WithLabelValues(string(stage), "succeeded").Inc()

	low := confidence != nil && *confidence < e.threshold
	if low || needsInput {
		typ, reason := models.GateLowConfidence, fmt.Sprintf("confidence %.2f is below threshold %.2f", deref(confidence), e.threshold)
		if needsInput {
			typ, reason = models.GateHumanInput, inputReason
			if reason == "" {
				reason = "agent requested human input"
			}
		}
		g, err := e.raiseGateLocked(ctx, item, typ, reason, gateSnapshot{
			Stage:                stage,
			RunID:                run.id,
			ArtifactID:           a.ID,
			RecommendedNextState: recommended,
			Threshold:            e.threshold,
		})
		if err != nil {
			return err
		}
		item.Touch(e.now())
		if err := e.saveItem(item); err != nil {
			return fmt.Errorf("save gated item: %w", err)
		}
		log.Info("run gated", zap.String("gate", g.ID), zap.String("type", string(typ)))
		e.notify(ctx, EventGateRequested, ref, g)
		return nil
	}

	item.Touch(e.now())
	if err := e.saveItem(item); err != nil {
		return fmt.Errorf("save run result: %w", err)
	}
	log.Info("agent run succeeded", zap.String("artifact", a.ID), zap.String("recommended", string(recommended)))
	return e.advanceLocked(ctx, item, causeAuto)
}

// applyStageEffectsLocked handles the per-stage side effects of a successful run.
func (e *Engine) applyStageEffectsLocked(item models.Item, stage models.Stage, content string) error {
	b, ok := item.(*models.BacklogItem)
	if !ok {
		return nil
	}
	switch stage {
	case models.StageRefining:
		b.RefinementIteration++
	case models.StageSplitting:
		split := artifact.ParseTaskSplit(content)
		if len(split) == 0 {
			e.logger.Warn("splitting run produced no tasks", zap.String("item", b.Ref().String()))
			return nil
		}
		now := e.now()
		children := make([]*models.Task, 0, len(split))
		for i, s := range split {
			children = append(children, &models.Task{
				ID:                uuid.NewString(),
				Title:             s.Title,
				Description:       s.Description,
				State:             models.TaskPipeline[0],
				Priority:          b.Priority,
				AgentState:        models.AgentState{MaxRetries: b.MaxRetries},
				DetectedLanguage:  b.DetectedLanguage,
				DetectedFramework: b.DetectedFramework,
				ExecutionOrder:    i,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
		}
		if err := e.store.CreateSplitTasks(b.ID, children); err != nil {
			return fmt.Errorf("create split tasks: %w", err)
		}
		b.TaskCount += len(children)
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
