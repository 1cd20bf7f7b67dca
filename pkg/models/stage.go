package models

import "strings"

// Stage is a single state in one of the two pipelines. Work-item stages and
// backlog stages share one namespace so agent configs can target either.
type Stage string

// Work-item (task) stages, in pipeline order.
const (
	StageBacklog      Stage = "backlog"
	StageResearch     Stage = "research"
	StagePlanning     Stage = "planning"
	StageImplementing Stage = "implementing"
	StageSimplifying  Stage = "simplifying"
	StageVerifying    Stage = "verifying"
	StageReviewing    Stage = "reviewing"
	StagePRReady      Stage = "pr_ready"
)

// Backlog-item stages, in pipeline order.
const (
	StageNew       Stage = "new"
	StageRefining  Stage = "refining"
	StageReady     Stage = "ready"
	StageSplitting Stage = "splitting"
	StageExecuting Stage = "executing"
	StageDone      Stage = "done"
)

// TaskPipeline is the canonical ordered state list for work items.
var TaskPipeline = Pipeline{
	StageBacklog,
	StageResearch,
	StagePlanning,
	StageImplementing,
	StageSimplifying,
	StageVerifying,
	StageReviewing,
	StagePRReady,
}

// BacklogPipeline is the canonical ordered state list for backlog items.
var BacklogPipeline = Pipeline{
	StageNew,
	StageRefining,
	StageReady,
	StageSplitting,
	StageExecuting,
	StageDone,
}

var stageDisplayNames = map[Stage]string{
	StageBacklog:      "Backlog",
	StageResearch:     "Research",
	StagePlanning:     "Planning",
	StageImplementing: "Implementing",
	StageSimplifying:  "Simplifying",
	StageVerifying:    "Verifying",
	StageReviewing:    "Reviewing",
	StagePRReady:      "PrReady",
	StageNew:          "New",
	StageRefining:     "Refining",
	StageReady:        "Ready",
	StageSplitting:    "Splitting",
	StageExecuting:    "Executing",
	StageDone:         "Done",
}

// DisplayName returns the human-facing name of the stage.
func (s Stage) DisplayName() string {
	if name, ok := stageDisplayNames[s]; ok {
		return name
	}
	return string(s)
}

// Valid returns true if the stage belongs to either pipeline.
func (s Stage) Valid() bool {
	_, ok := stageDisplayNames[s]
	return ok
}

// ParseStage resolves a wire name or display name (case-insensitive) to a Stage.
func ParseStage(s string) (Stage, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for stage, display := range stageDisplayNames {
		if string(stage) == norm || strings.ToLower(display) == norm {
			return stage, true
		}
	}
	return "", false
}

// Pipeline is an ordered list of stages. Only moves between neighbours are legal.
type Pipeline []Stage

// Index returns the position of s in the pipeline, or -1.
func (p Pipeline) Index(s Stage) int {
	for i, st := range p {
		if st == s {
			return i
		}
	}
	return -1
}

// Contains reports whether s is part of the pipeline.
func (p Pipeline) Contains(s Stage) bool {
	return p.Index(s) >= 0
}

// CanTransition reports whether from→to moves exactly one step in either direction.
func (p Pipeline) CanTransition(from, to Stage) bool {
	i, j := p.Index(from), p.Index(to)
	if i < 0 || j < 0 {
		return false
	}
	return j == i+1 || j == i-1
}

// Next returns the immediate successor of s.
func (p Pipeline) Next(s Stage) (Stage, bool) {
	i := p.Index(s)
	if i < 0 || i+1 >= len(p) {
		return "", false
	}
	return p[i+1], true
}

// Previous returns the immediate predecessor of s.
func (p Pipeline) Previous(s Stage) (Stage, bool) {
	i := p.Index(s)
	if i <= 0 {
		return "", false
	}
	return p[i-1], true
}

// Terminal reports whether s is the last stage of the pipeline.
func (p Pipeline) Terminal(s Stage) bool {
	return len(p) > 0 && p[len(p)-1] == s
}

// PipelineFor returns the pipeline for the given item kind.
func PipelineFor(kind ItemKind) Pipeline {
	if kind == KindBacklog {
		return BacklogPipeline
	}
	return TaskPipeline
}
