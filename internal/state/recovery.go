package state

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// InterruptedRunMessage is recorded on an item whose run died with its process.
const InterruptedRunMessage = "agent run interrupted: owning process exited before completion"

// StaleLease describes a lease left behind by a process that no longer runs.
type StaleLease struct {
	Lease models.AgentLease
	// ItemFound is false when the owning item has since been deleted.
	ItemFound bool
}

// RecoveryManager detects and clears leases held by dead processes.
type RecoveryManager struct {
	db *DB
	// alive reports whether a pid is running. Replaced in tests.
	alive func(pid int) bool
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, alive: isProcessAlive}
}

// CheckForStale returns the held lease if its process is gone, else nil.
// A lease held by the current process is never stale.
func (rm *RecoveryManager) CheckForStale() (*StaleLease, error) {
	lease, err := rm.db.GetLease()
	if err != nil {
		return nil, fmt.Errorf("load lease: %w", err)
	}
	if !lease.Held() {
		return nil, nil
	}
	if lease.PID == os.Getpid() || rm.alive(lease.PID) {
		return nil, nil
	}

	found, err := rm.ownerExists(lease.Owner)
	if err != nil {
		return nil, err
	}
	return &StaleLease{Lease: lease, ItemFound: found}, nil
}

// Recover clears a stale lease: the owner's agent marker is cleared and the
// interruption recorded as an error, a pending question holding the slot is
// cancelled, and the slot is freed.
func (rm *RecoveryManager) Recover(stale *StaleLease, now time.Time) error {
	lease := stale.Lease

	if lease.HolderKind == models.LeaseQuestion {
		q, err := rm.db.GetQuestion(lease.HolderID)
		if err != nil {
			return fmt.Errorf("load question %s: %w", lease.HolderID, err)
		}
		if q != nil && q.Status == models.QuestionPending {
			q.Status = models.QuestionCancelled
			if _, err := rm.db.FinishQuestion(q); err != nil {
				return fmt.Errorf("cancel question %s: %w", q.ID, err)
			}
		}
	}

	if stale.ItemFound {
		if err := rm.markInterrupted(lease.Owner, now); err != nil {
			return err
		}
	}

	if _, err := rm.db.ReleaseLease(lease.HolderID); err != nil {
		return fmt.Errorf("release stale lease: %w", err)
	}
	return nil
}

func (rm *RecoveryManager) markInterrupted(owner models.ItemRef, now time.Time) error {
	switch owner.Kind {
	case models.KindTask:
		t, err := rm.db.GetTask(owner.ID)
		if err != nil || t == nil {
			return err
		}
		interrupt(&t.AgentState)
		t.UpdatedAt = now
		if err := rm.db.UpdateTask(t); err != nil {
			return fmt.Errorf("reset task %s: %w", t.ID, err)
		}
	case models.KindBacklog:
		b, err := rm.db.GetBacklogItem(owner.ID)
		if err != nil || b == nil {
			return err
		}
		interrupt(&b.AgentState)
		b.UpdatedAt = now
		if err := rm.db.UpdateBacklogItem(b); err != nil {
			return fmt.Errorf("reset backlog item %s: %w", b.ID, err)
		}
	}
	return nil
}

func interrupt(a *models.AgentState) {
	a.AssignedAgent = ""
	a.HasError = true
	a.ErrorMessage = InterruptedRunMessage
}

func (rm *RecoveryManager) ownerExists(owner models.ItemRef) (bool, error) {
	switch owner.Kind {
	case models.KindTask:
		t, err := rm.db.GetTask(owner.ID)
		return t != nil, err
	case models.KindBacklog:
		b, err := rm.db.GetBacklogItem(owner.ID)
		return b != nil, err
	}
	return false, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
