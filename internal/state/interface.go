package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	State     models.Stage
	BacklogID string
}

// TaskStore handles task persistence.
type TaskStore interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTask(t *models.Task) error
	ListTasks(filter TaskFilter) ([]models.Task, error)
}

// BacklogStore handles backlog item persistence.
type BacklogStore interface {
	CreateBacklogItem(b *models.BacklogItem) error
	GetBacklogItem(id string) (*models.BacklogItem, error)
	UpdateBacklogItem(b *models.BacklogItem) error
	ListBacklogItems(state models.Stage) ([]models.BacklogItem, error)
	// CreateSplitTasks inserts children and bumps the parent's task count atomically.
	CreateSplitTasks(backlogID string, tasks []*models.Task) error
	// RecountCompletedTasks recomputes the parent's completed count from its
	// children in the done stage and returns the updated parent.
	RecountCompletedTasks(backlogID string, done models.Stage) (*models.BacklogItem, error)
}

// ArtifactStore handles artifact persistence. Artifacts are append-only.
type ArtifactStore interface {
	CreateArtifact(a *models.Artifact) error
	GetArtifact(id string) (*models.Artifact, error)
	// ListArtifacts returns the owner's artifacts oldest first.
	ListArtifacts(owner models.ItemRef) ([]models.Artifact, error)
}

// GateStore handles human gate persistence.
type GateStore interface {
	CreateGate(g *models.HumanGate) error
	GetGate(id string) (*models.HumanGate, error)
	// ResolveGate transitions a pending gate. It returns false if the gate was
	// not pending, leaving it untouched.
	ResolveGate(g *models.HumanGate) (bool, error)
	ListGates(status models.GateStatus) ([]models.HumanGate, error)
	PendingGatesFor(owner models.ItemRef) ([]models.HumanGate, error)
}

// RollbackStore handles rollback audit records. Records are write-once.
type RollbackStore interface {
	CreateRollback(r *models.RollbackRecord) error
	ListRollbacks(owner models.ItemRef) ([]models.RollbackRecord, error)
}

// QuestionStore handles agent question persistence.
type QuestionStore interface {
	CreateQuestion(q *models.AgentQuestion) error
	GetQuestion(id string) (*models.AgentQuestion, error)
	// FinishQuestion moves a pending question to a terminal status. It returns
	// false if the question was no longer pending.
	FinishQuestion(q *models.AgentQuestion) (bool, error)
	ListQuestions(status models.QuestionStatus) ([]models.AgentQuestion, error)
	// ExpiredQuestions returns pending questions whose timeout is at or before now.
	ExpiredQuestions(now time.Time) ([]models.AgentQuestion, error)
}

// LeaseStore manages the persisted single-flight slot.
type LeaseStore interface {
	// AcquireLease claims the slot if it is free.
	AcquireLease(l models.AgentLease) (bool, error)
	// ReleaseLease frees the slot if holderID currently holds it.
	ReleaseLease(holderID string) (bool, error)
	GetLease() (models.AgentLease, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is everything the pipeline engine persists.
type Store interface {
	io.Closer
	Migrator
	TaskStore
	BacklogStore
	ArtifactStore
	GateStore
	RollbackStore
	QuestionStore
	LeaseStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ TaskStore     = (*DB)(nil)
	_ BacklogStore  = (*DB)(nil)
	_ ArtifactStore = (*DB)(nil)
	_ GateStore     = (*DB)(nil)
	_ RollbackStore = (*DB)(nil)
	_ QuestionStore = (*DB)(nil)
	_ LeaseStore    = (*DB)(nil)
)
