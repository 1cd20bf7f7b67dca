package models

import (
	"testing"
	"time"
)

func TestItemKind_Valid(t *testing.T) {
	tests := []struct {
		name string
		kind ItemKind
		want bool
	}{
		{"task is valid", KindTask, true},
		{"backlog is valid", KindBacklog, true},
		{"empty string is invalid", ItemKind(""), false},
		{"unknown kind is invalid", ItemKind("epic"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Valid(); got != tt.want {
				t.Errorf("ItemKind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestItemRef_String(t *testing.T) {
	if got := TaskRef("t-1").String(); got != "task/t-1" {
		t.Errorf("TaskRef.String() = %q, want %q", got, "task/t-1")
	}
	if got := BacklogRef("b-1").String(); got != "backlog/b-1" {
		t.Errorf("BacklogRef.String() = %q, want %q", got, "backlog/b-1")
	}
	if !(ItemRef{}).IsZero() {
		t.Error("zero ItemRef should report IsZero")
	}
}

func TestAgentState_PauseResumeRoundTrip(t *testing.T) {
	a := AgentState{
		HasError:     true,
		ErrorMessage: "x",
		RetryCount:   3,
		MaxRetries:   3,
	}

	now := time.Now()
	a.Pause("operator hold", now)

	if !a.IsPaused {
		t.Fatal("expected item to be paused")
	}
	if a.PausedAt == nil || !a.PausedAt.Equal(now) {
		t.Errorf("PausedAt = %v, want %v", a.PausedAt, now)
	}
	if a.PauseReason != "operator hold" {
		t.Errorf("PauseReason = %q, want %q", a.PauseReason, "operator hold")
	}

	a.Resume()

	if a.IsPaused {
		t.Error("IsPaused should be false after resume")
	}
	if a.PauseReason != "" {
		t.Errorf("PauseReason = %q, want empty", a.PauseReason)
	}
	if a.PausedAt != nil {
		t.Errorf("PausedAt = %v, want nil", a.PausedAt)
	}
	if a.HasError {
		t.Error("HasError should be false after resume")
	}
	if a.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", a.ErrorMessage)
	}
	if a.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", a.RetryCount)
	}
}

func TestAgentState_RecordFailure(t *testing.T) {
	a := AgentState{MaxRetries: 2}
	now := time.Now()

	for i := 1; i <= 2; i++ {
		if paused := a.RecordFailure("boom", now); paused {
			t.Fatalf("failure %d should not auto-pause", i)
		}
		if a.RetryCount != i {
			t.Errorf("RetryCount = %d, want %d", a.RetryCount, i)
		}
	}

	if !a.RecordFailure("boom", now) {
		t.Fatal("failure past the ceiling should auto-pause")
	}
	if !a.IsPaused || a.PauseReason != AutoPauseReason {
		t.Errorf("expected auto-pause with reason %q, got paused=%v reason=%q", AutoPauseReason, a.IsPaused, a.PauseReason)
	}
	if a.PausedAt == nil {
		t.Error("PausedAt must be set when paused")
	}
	if !a.HasError || a.ErrorMessage != "boom" {
		t.Errorf("expected error fields to be recorded, got %v %q", a.HasError, a.ErrorMessage)
	}
}

func TestTask_ItemView(t *testing.T) {
	now := time.Now()
	task := &Task{ID: "task-123", Title: "Add login", State: StagePlanning}

	var item Item = task
	if item.Ref() != TaskRef("task-123") {
		t.Errorf("Ref() = %v", item.Ref())
	}
	if item.CurrentStage() != StagePlanning {
		t.Errorf("CurrentStage() = %q, want %q", item.CurrentStage(), StagePlanning)
	}

	item.SetStage(StageImplementing)
	item.Touch(now)
	item.Control().AssignedAgent = "run-1"

	if task.State != StageImplementing {
		t.Errorf("State = %q, want %q", task.State, StageImplementing)
	}
	if !task.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", task.UpdatedAt, now)
	}
	if task.AssignedAgent != "run-1" {
		t.Errorf("AssignedAgent = %q, want %q", task.AssignedAgent, "run-1")
	}
}

func TestBacklogItem_ItemView(t *testing.T) {
	b := &BacklogItem{ID: "b-1", Title: "Auth epic", State: StageNew}

	var item Item = b
	if item.Ref() != BacklogRef("b-1") {
		t.Errorf("Ref() = %v", item.Ref())
	}
	if item.DisplayTitle() != "Auth epic" {
		t.Errorf("DisplayTitle() = %q", item.DisplayTitle())
	}
	item.Control().PendingGate = true
	if !b.PendingGate {
		t.Error("Control() should expose the embedded state by pointer")
	}
}
