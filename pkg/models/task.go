package models

import (
	"fmt"
	"time"
)

// ItemKind distinguishes work items (tasks) from backlog items.
type ItemKind string

const (
	// KindTask is a pipeline-tracked implementation task.
	KindTask ItemKind = "task"
	// KindBacklog is a coarser backlog item that is refined and split into tasks.
	KindBacklog ItemKind = "backlog"
)

// Valid returns true if the kind is a known value.
func (k ItemKind) Valid() bool {
	return k == KindTask || k == KindBacklog
}

// ItemRef identifies the owner of artifacts, gates, questions and rollbacks.
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   string   `json:"id"`
}

// TaskRef returns a reference to a task.
func TaskRef(id string) ItemRef { return ItemRef{Kind: KindTask, ID: id} }

// BacklogRef returns a reference to a backlog item.
func BacklogRef(id string) ItemRef { return ItemRef{Kind: KindBacklog, ID: id} }

// IsZero reports whether the reference is empty.
func (r ItemRef) IsZero() bool { return r.ID == "" }

func (r ItemRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// AutoPauseReason is recorded when an item exhausts its retries.
const AutoPauseReason = "Max retries exceeded"

// DefaultMaxRetries is used when an item is created without an explicit limit.
const DefaultMaxRetries = 3

// AgentState holds the agent, retry, pause and gating fields shared by tasks
// and backlog items.
type AgentState struct {
	// AssignedAgent is the run ID of the active agent. Set iff a run is active.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// HasError is set after a failed run and cleared on resume.
	HasError     bool   `json:"has_error"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	// IsPaused excludes the item from scheduling. PausedAt is set iff IsPaused.
	IsPaused    bool       `json:"is_paused"`
	PauseReason string     `json:"pause_reason,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	// RecommendedNextState is the hint parsed from the last agent output.
	RecommendedNextState Stage `json:"recommended_next_state,omitempty"`
	// Confidence is the score of the last produced artifact, 0.0-1.0.
	Confidence       *float64 `json:"confidence,omitempty"`
	NeedsHumanInput  bool     `json:"needs_human_input"`
	HumanInputReason string   `json:"human_input_reason,omitempty"`
	// PendingGate halts automatic scheduling until the gate is resolved.
	PendingGate bool `json:"pending_gate"`
}

// Pause marks the item paused with the given reason.
func (a *AgentState) Pause(reason string, now time.Time) {
	a.IsPaused = true
	a.PauseReason = reason
	a.PausedAt = &now
}

// Resume clears the pause along with any error and resets the retry counter.
func (a *AgentState) Resume() {
	a.IsPaused = false
	a.PauseReason = ""
	a.PausedAt = nil
	a.HasError = false
	a.ErrorMessage = ""
	a.RetryCount = 0
}

// RecordFailure records a failed run. It auto-pauses the item and returns true
// once the retry counter exceeds MaxRetries.
func (a *AgentState) RecordFailure(msg string, now time.Time) bool {
	a.RetryCount++
	a.HasError = true
	a.ErrorMessage = msg
	if a.RetryCount > a.MaxRetries {
		a.Pause(AutoPauseReason, now)
		return true
	}
	return false
}

// Item is the common view the pipeline engine uses for tasks and backlog items.
type Item interface {
	Ref() ItemRef
	CurrentStage() Stage
	SetStage(s Stage)
	Control() *AgentState
	Touch(now time.Time)
	DisplayTitle() string
}

// Task is a unit of pipeline-tracked engineering work.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       Stage  `json:"state"`
	Priority    int    `json:"priority"`
	AgentState
	DetectedLanguage  string `json:"detected_language,omitempty"`
	DetectedFramework string `json:"detected_framework,omitempty"`
	// BacklogID is the parent backlog item, if the task came from a split.
	BacklogID string `json:"backlog_id,omitempty"`
	// ExecutionOrder is the position among sibling tasks.
	ExecutionOrder int       `json:"execution_order"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (t *Task) Ref() ItemRef { return TaskRef(t.ID) }
func (t *Task) CurrentStage() Stage { return t.State }
func (t *Task) SetStage(s Stage) { t.State = s }
func (t *Task) Control() *AgentState { return &t.AgentState }
func (t *Task) Touch(now time.Time) { t.UpdatedAt = now }
func (t *Task) DisplayTitle() string { return t.Title }

// BacklogItem is a coarse unit that is refined, split into tasks and tracked to completion.
type BacklogItem struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	State              Stage  `json:"state"`
	Priority           int    `json:"priority"`
	AgentState
	DetectedLanguage    string    `json:"detected_language,omitempty"`
	DetectedFramework   string    `json:"detected_framework,omitempty"`
	TaskCount           int       `json:"task_count"`
	CompletedTaskCount  int       `json:"completed_task_count"`
	RefinementIteration int       `json:"refinement_iteration"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (b *BacklogItem) Ref() ItemRef { return BacklogRef(b.ID) }
func (b *BacklogItem) CurrentStage() Stage { return b.State }
func (b *BacklogItem) SetStage(s Stage) { b.State = s }
func (b *BacklogItem) Control() *AgentState { return &b.AgentState }
func (b *BacklogItem) Touch(now time.Time) { b.UpdatedAt = now }
func (b *BacklogItem) DisplayTitle() string { return b.Title }

var (
	_ Item = (*Task)(nil)
	_ Item = (*BacklogItem)(nil)
)
