package models

import "time"

// ArtifactType classifies the structured output an agent produced.
type ArtifactType string

const (
	ArtifactPlan                 ArtifactType = "plan"
	ArtifactImplementation       ArtifactType = "implementation"
	ArtifactReview               ArtifactType = "review"
	ArtifactTest                 ArtifactType = "test"
	ArtifactTaskSplit            ArtifactType = "task_split"
	ArtifactResearchFindings     ArtifactType = "research_findings"
	ArtifactSimplificationReview ArtifactType = "simplification_review"
	ArtifactVerificationReport   ArtifactType = "verification_report"
	ArtifactGeneral              ArtifactType = "general"
)

// ArtifactTypes lists every recognized artifact type.
var ArtifactTypes = []ArtifactType{
	ArtifactPlan,
	ArtifactImplementation,
	ArtifactReview,
	ArtifactTest,
	ArtifactTaskSplit,
	ArtifactResearchFindings,
	ArtifactSimplificationReview,
	ArtifactVerificationReport,
	ArtifactGeneral,
}

// Valid returns true if the type is a known value.
func (t ArtifactType) Valid() bool {
	for _, known := range ArtifactTypes {
		if t == known {
			return true
		}
	}
	return false
}

var artifactLabels = map[ArtifactType]string{
	ArtifactPlan:                 "Implementation Plan",
	ArtifactImplementation:       "Implementation Summary",
	ArtifactReview:               "Code Review",
	ArtifactTest:                 "Test Results",
	ArtifactTaskSplit:            "Task Breakdown",
	ArtifactResearchFindings:     "Research Findings",
	ArtifactSimplificationReview: "Simplification Review",
	ArtifactVerificationReport:   "Verification Report",
	ArtifactGeneral:              "General Output",
}

// Label returns the human-readable label used in prompts.
func (t ArtifactType) Label() string {
	if l, ok := artifactLabels[t]; ok {
		return l
	}
	return string(t)
}

// stageArtifactTypes maps each agent-driven stage to the artifact it produces.
var stageArtifactTypes = map[Stage]ArtifactType{
	StageResearch:     ArtifactResearchFindings,
	StagePlanning:     ArtifactPlan,
	StageImplementing: ArtifactImplementation,
	StageSimplifying:  ArtifactSimplificationReview,
	StageVerifying:    ArtifactVerificationReport,
	StageReviewing:    ArtifactReview,
	StageSplitting:    ArtifactTaskSplit,
}

// ArtifactTypeForStage infers the artifact type a stage produces, or general.
func ArtifactTypeForStage(s Stage) ArtifactType {
	if t, ok := stageArtifactTypes[s]; ok {
		return t
	}
	return ArtifactGeneral
}

// Artifact is an immutable piece of agent output captured for an item.
type Artifact struct {
	ID               string       `json:"id"`
	Owner            ItemRef      `json:"owner"`
	State            Stage        `json:"state"`
	Type             ArtifactType `json:"type"`
	Content          string       `json:"content"`
	CreatedAt        time.Time    `json:"created_at"`
	AgentID          string       `json:"agent_id,omitempty"`
	Confidence       *float64     `json:"confidence,omitempty"`
	NeedsHumanInput  bool         `json:"needs_human_input,omitempty"`
	HumanInputReason string       `json:"human_input_reason,omitempty"`
}

// LatestByType returns the most recently created artifact of type t.
// Artifacts must be ordered oldest first.
func LatestByType(artifacts []Artifact, t ArtifactType) (Artifact, bool) {
	for i := len(artifacts) - 1; i >= 0; i-- {
		if artifacts[i].Type == t {
			return artifacts[i], true
		}
	}
	return Artifact{}, false
}
