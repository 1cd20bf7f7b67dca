package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// gateSnapshot is stored on a gate so a reviewer sees what the agent produced.
type gateSnapshot struct {
	Stage                models.Stage `json:"stage"`
	RunID                string       `json:"run_id,omitempty"`
	ArtifactID           string       `json:"artifact_id,omitempty"`
	RecommendedNextState models.Stage `json:"recommended_next_state,omitempty"`
	Threshold            float64      `json:"threshold"`
}

func (e *Engine) raiseGateLocked(ctx context.Context, item models.Item, typ models.GateType, reason string, snap gateSnapshot) (*models.HumanGate, error) {
	c := item.Control()
	g := &models.HumanGate{
		ID:              uuid.NewString(),
		Owner:           item.Ref(),
		SubjectID:       snap.ArtifactID,
		GateType:        typ,
		Status:          models.GatePending,
		Confidence:      c.Confidence,
		Reason:          reason,
		RequestedAt:     e.now(),
		ContextSnapshot: mustJSON(snap),
	}
	if err := e.store.CreateGate(g); err != nil {
		return nil, fmt.Errorf("create gate: %w", err)
	}
	c.PendingGate = true
	e.metrics.GatesRaised.WithLabelValues(string(typ)).Inc()
	return g, nil
}

// ResolveGate records a human decision. Approved and skipped gates advance
// the item the way the run's completion would have; rejected gates leave it
// in its stage to be run again.
func (e *Engine) ResolveGate(ctx context.Context, gateID string, status models.GateStatus, resolver, note string) (*models.HumanGate, error) {
	if !status.Resolution() {
		return nil, validationError("resolve gate", models.ItemRef{}, "%q is not a resolution", status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.store.GetGate(gateID)
	if err != nil {
		return nil, fmt.Errorf("resolve gate: %w", err)
	}
	if g == nil {
		return nil, notFoundError("resolve gate", models.ItemRef{}, "gate %s not found", gateID)
	}
	if g.Status != models.GatePending {
		return nil, conflictError("resolve gate", g.Owner, "gate %s is already %s", gateID, g.Status)
	}

	item, err := e.loadItem("resolve gate", g.Owner)
	if err != nil {
		return nil, err
	}
	c := item.Control()
	if status != models.GateRejected && c.AssignedAgent != "" {
		return nil, conflictError("resolve gate", g.Owner, "agent %s is running for %s", c.AssignedAgent, g.Owner)
	}

	now := e.now()
	g.Status = status
	g.ResolvedAt = &now
	g.ResolvedBy = resolver
	g.ResolutionNote = note
	ok, err := e.store.ResolveGate(g)
	if err != nil {
		return nil, fmt.Errorf("resolve gate: %w", err)
	}
	if !ok {
		return nil, conflictError("resolve gate", g.Owner, "gate %s is already resolved", gateID)
	}
	e.metrics.GatesResolved.WithLabelValues(string(status)).Inc()

	pending, err := e.store.PendingGatesFor(g.Owner)
	if err != nil {
		return nil, fmt.Errorf("resolve gate: %w", err)
	}
	c.PendingGate = len(pending) > 0
	if !c.PendingGate {
		c.NeedsHumanInput = false
		c.HumanInputReason = ""
	}
	item.Touch(now)
	if err := e.saveItem(item); err != nil {
		return nil, fmt.Errorf("resolve gate: %w", err)
	}
	e.logger.Info("gate resolved",
		zap.String("gate", g.ID),
		zap.String("item", g.Owner.String()),
		zap.String("status", string(status)),
		zap.String("by", resolver))
	e.notify(ctx, EventGateResolved, g.Owner, g)

	if status != models.GateRejected && !c.PendingGate {
		if stage := gateStage(g); stage != "" && stage != item.CurrentStage() {
			e.logger.Warn("gate resolved for a stage the item has left, not advancing",
				zap.String("gate", g.ID),
				zap.String("gate_stage", string(stage)),
				zap.String("item_stage", string(item.CurrentStage())))
			return g, nil
		}
		if err := e.advanceLocked(ctx, item, causeGate); err != nil {
			return g, err
		}
	}
	return g, nil
}

// gateStage returns the stage a gate was raised in, or "" when unknown.
func gateStage(g *models.HumanGate) models.Stage {
	var snap gateSnapshot
	if len(g.ContextSnapshot) == 0 || json.Unmarshal(g.ContextSnapshot, &snap) != nil {
		return ""
	}
	return snap.Stage
}

// ListGates lists gates, optionally filtered by status.
func (e *Engine) ListGates(ctx context.Context, status models.GateStatus) ([]models.HumanGate, error) {
	gates, err := e.store.ListGates(status)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	return gates, nil
}

// advanceLocked moves the item to its recommended next stage when that is a
// legal neighbour, else to its successor. Terminal items stay put.
func (e *Engine) advanceLocked(ctx context.Context, item models.Item, cause string) error {
	p := models.PipelineFor(item.Ref().Kind)
	from := item.CurrentStage()
	target := item.Control().RecommendedNextState
	if target == "" || !p.CanTransition(from, target) {
		next, ok := p.Next(from)
		if !ok {
			return nil
		}
		target = next
	}
	return e.moveLocked(ctx, item, target, cause)
}

func (e *Engine) skipPendingGatesLocked(ctx context.Context, ref models.ItemRef, note string) error {
	pending, err := e.store.PendingGatesFor(ref)
	if err != nil {
		return fmt.Errorf("list pending gates: %w", err)
	}
	for i := range pending {
		g := &pending[i]
		now := e.now()
		g.Status = models.GateSkipped
		g.ResolvedAt = &now
		g.ResolvedBy = "system"
		g.ResolutionNote = note
		ok, err := e.store.ResolveGate(g)
		if err != nil {
			return fmt.Errorf("skip gate %s: %w", g.ID, err)
		}
		if ok {
			e.metrics.GatesResolved.WithLabelValues(string(g.Status)).Inc()
			e.notify(ctx, EventGateResolved, ref, g)
		}
	}
	return nil
}
