package models

import (
	"encoding/json"
	"time"
)

// GateStatus is the lifecycle status of a human gate.
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
	GateSkipped  GateStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s GateStatus) Valid() bool {
	switch s {
	case GatePending, GateApproved, GateRejected, GateSkipped:
		return true
	default:
		return false
	}
}

// Resolution reports whether s is a terminal resolution status.
func (s GateStatus) Resolution() bool {
	return s == GateApproved || s == GateRejected || s == GateSkipped
}

// GateType names why a gate was raised.
type GateType string

const (
	// GateLowConfidence is raised when an artifact scores below the threshold.
	GateLowConfidence GateType = "low_confidence"
	// GateHumanInput is raised when the agent explicitly asks for input.
	GateHumanInput GateType = "human_input"
)

// HumanGate is an approval checkpoint that blocks automatic scheduling of its owner.
type HumanGate struct {
	ID    string  `json:"id"`
	Owner ItemRef `json:"owner"`
	// SubjectID optionally narrows the gate to a sub-unit such as an artifact.
	SubjectID       string          `json:"subject_id,omitempty"`
	GateType        GateType        `json:"gate_type"`
	Status          GateStatus      `json:"status"`
	Confidence      *float64        `json:"confidence,omitempty"`
	Reason          string          `json:"reason"`
	RequestedAt     time.Time       `json:"requested_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	ResolutionNote  string          `json:"resolution_note,omitempty"`
	ContextSnapshot json.RawMessage `json:"context_snapshot,omitempty"`
}

// RollbackTrigger names what caused a rollback.
type RollbackTrigger string

const (
	RollbackManual       RollbackTrigger = "manual"
	RollbackGateRejected RollbackTrigger = "gate_rejected"
	RollbackRunFailure   RollbackTrigger = "run_failure"
)

// RollbackRecord is a write-once audit snapshot taken before a corrective reversal.
type RollbackRecord struct {
	ID                 string          `json:"id"`
	Owner              ItemRef         `json:"owner"`
	Trigger            RollbackTrigger `json:"trigger"`
	CreatedAt          time.Time       `json:"created_at"`
	StateBefore        json.RawMessage `json:"state_before"`
	ActionTaken        json.RawMessage `json:"action_taken"`
	PreservedArtifacts json.RawMessage `json:"preserved_artifacts"`
	RecoveryOptions    json.RawMessage `json:"recovery_options"`
	Notes              string          `json:"notes,omitempty"`
}
