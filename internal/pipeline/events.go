package pipeline

import (
	"context"
	"time"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// EventType names an observable engine mutation.
type EventType string

const (
	EventArtifactCreated   EventType = "artifact.created"
	EventGateRequested     EventType = "gate.requested"
	EventGateResolved      EventType = "gate.resolved"
	EventQuestionRequested EventType = "question.requested"
	EventQuestionAnswered  EventType = "question.answered"
	EventQuestionTimeout   EventType = "question.timeout"
	EventQuestionCancelled EventType = "question.cancelled"
	EventStateChanged      EventType = "item.state_changed"
	EventItemPaused        EventType = "item.paused"
	EventItemResumed       EventType = "item.resumed"
)

// Event is emitted once per persisted mutation.
type Event struct {
	Type      EventType      `json:"type"`
	Owner     models.ItemRef `json:"owner"`
	Timestamp time.Time      `json:"timestamp"`
	// Payload is the record that changed: an artifact, gate, question,
	// StateChange, or the item itself for pause/resume.
	Payload any `json:"payload,omitempty"`
}

// StateChange is the payload of item.state_changed.
type StateChange struct {
	From models.Stage `json:"from"`
	To   models.Stage `json:"to"`
	// Cause is "manual", "auto", "gate", "rollback" or "children_complete".
	Cause string `json:"cause"`
}

// Notifier receives engine events. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
