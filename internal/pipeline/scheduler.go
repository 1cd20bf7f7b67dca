package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/state"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// Schedulable reports whether the scheduler may start an agent for item: its
// stage has a default agent and it is not terminal, paused, running or gated.
func (e *Engine) Schedulable(item models.Item) bool {
	c := item.Control()
	stage := item.CurrentStage()
	if c.IsPaused || c.AssignedAgent != "" || c.PendingGate {
		return false
	}
	if models.PipelineFor(item.Ref().Kind).Terminal(stage) {
		return false
	}
	return e.stages.HasDefault(stage)
}

// Candidates returns the schedulable items, highest priority first, then
// oldest first.
func (e *Engine) Candidates(ctx context.Context) ([]models.Item, error) {
	tasks, err := e.store.ListTasks(state.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	backlog, err := e.store.ListBacklogItems("")
	if err != nil {
		return nil, fmt.Errorf("list backlog items: %w", err)
	}

	type candidate struct {
		item     models.Item
		priority int
		created  time.Time
	}
	var cands []candidate
	for i := range tasks {
		t := &tasks[i]
		if e.Schedulable(t) {
			cands = append(cands, candidate{t, t.Priority, t.CreatedAt})
		}
	}
	for i := range backlog {
		b := &backlog[i]
		if e.Schedulable(b) {
			cands = append(cands, candidate{b, b.Priority, b.CreatedAt})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].priority != cands[j].priority {
			return cands[i].priority > cands[j].priority
		}
		if !cands[i].created.Equal(cands[j].created) {
			return cands[i].created.Before(cands[j].created)
		}
		return cands[i].item.Ref().String() < cands[j].item.Ref().String()
	})

	items := make([]models.Item, len(cands))
	for i, c := range cands {
		items[i] = c.item
	}
	return items, nil
}

// Scheduler polls for schedulable work and starts it when the slot is free.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler polling every interval.
func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{engine: engine, interval: interval, logger: logger.Named("scheduler")}
}

// Run polls until ctx is cancelled. A finished run triggers an immediate tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		case <-s.engine.Wake():
		}
	}
}

// Tick expires overdue questions and, when the slot is free, starts the best
// candidate. It returns the started run ID, or "" when nothing started.
func (s *Scheduler) Tick(ctx context.Context) (string, error) {
	e := s.engine
	if n, err := e.ExpireQuestions(ctx, e.now()); err != nil {
		return "", err
	} else if n > 0 {
		s.logger.Info("expired questions", zap.Int("count", n))
	}

	lease, err := e.store.GetLease()
	if err != nil {
		return "", fmt.Errorf("load lease: %w", err)
	}
	if lease.Held() {
		return "", nil
	}

	cands, err := e.Candidates(ctx)
	if err != nil {
		return "", err
	}
	for _, item := range cands {
		runID, err := e.StartAgent(ctx, item.Ref())
		switch {
		case err == nil:
			return runID, nil
		case errors.Is(err, ErrConflict):
			return "", nil
		default:
			s.logger.Warn("could not start candidate", zap.String("item", item.Ref().String()), zap.Error(err))
		}
	}
	return "", nil
}
