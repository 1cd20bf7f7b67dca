package models

import "testing"

func TestPipeline_CanTransition_Adjacency(t *testing.T) {
	for _, p := range []Pipeline{TaskPipeline, BacklogPipeline} {
		for i := range p {
			if p.CanTransition(p[i], p[i]) {
				t.Errorf("same-state transition %q should be rejected", p[i])
			}
			for j := range p {
				want := j == i+1 || j == i-1
				if got := p.CanTransition(p[i], p[j]); got != want {
					t.Errorf("CanTransition(%q, %q) = %v, want %v", p[i], p[j], got, want)
				}
			}
		}
	}
}

func TestPipeline_CrossPipelineRejected(t *testing.T) {
	if TaskPipeline.CanTransition(StageBacklog, StageNew) {
		t.Error("task pipeline should not accept backlog stages")
	}
	if BacklogPipeline.CanTransition(StageDone, StagePRReady) {
		t.Error("backlog pipeline should not accept task stages")
	}
}

func TestPipeline_NextPrevious(t *testing.T) {
	next, ok := TaskPipeline.Next(StagePlanning)
	if !ok || next != StageImplementing {
		t.Errorf("Next(planning) = %q, %v", next, ok)
	}
	if _, ok := TaskPipeline.Next(StagePRReady); ok {
		t.Error("pr_ready has no successor")
	}
	prev, ok := BacklogPipeline.Previous(StageReady)
	if !ok || prev != StageRefining {
		t.Errorf("Previous(ready) = %q, %v", prev, ok)
	}
	if _, ok := BacklogPipeline.Previous(StageNew); ok {
		t.Error("new has no predecessor")
	}
	if !TaskPipeline.Terminal(StagePRReady) || TaskPipeline.Terminal(StageReviewing) {
		t.Error("only pr_ready is terminal for tasks")
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in   string
		want Stage
		ok   bool
	}{
		{"planning", StagePlanning, true},
		{"Planning", StagePlanning, true},
		{"PrReady", StagePRReady, true},
		{"pr_ready", StagePRReady, true},
		{"pr-ready", StagePRReady, true},
		{"  Done ", StageDone, true},
		{"shipping", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStage(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseStage(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestArtifactTypeForStage(t *testing.T) {
	tests := []struct {
		stage Stage
		want  ArtifactType
	}{
		{StageResearch, ArtifactResearchFindings},
		{StagePlanning, ArtifactPlan},
		{StageImplementing, ArtifactImplementation},
		{StageSimplifying, ArtifactSimplificationReview},
		{StageVerifying, ArtifactVerificationReport},
		{StageReviewing, ArtifactReview},
		{StageSplitting, ArtifactTaskSplit},
		{StageRefining, ArtifactGeneral},
		{StageBacklog, ArtifactGeneral},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			if got := ArtifactTypeForStage(tt.stage); got != tt.want {
				t.Errorf("ArtifactTypeForStage(%q) = %q, want %q", tt.stage, got, tt.want)
			}
		})
	}
}

func TestAgentConfig_Defaults(t *testing.T) {
	cfg := &AgentConfig{ID: "planner", State: StagePlanning}

	if cfg.IsVariant() {
		t.Error("config without extends should be a default")
	}
	if got := cfg.EffectiveMaxTurns(); got != DefaultMaxTurns {
		t.Errorf("EffectiveMaxTurns() = %d, want %d", got, DefaultMaxTurns)
	}
	if got := cfg.ExpectedArtifactType(); got != ArtifactPlan {
		t.Errorf("ExpectedArtifactType() = %q, want %q", got, ArtifactPlan)
	}

	cfg.Extends = "planner"
	cfg.MaxTurns = 12
	cfg.Output = &OutputSpec{Type: ArtifactReview}

	if !cfg.IsVariant() {
		t.Error("config with extends should be a variant")
	}
	if got := cfg.EffectiveMaxTurns(); got != 12 {
		t.Errorf("EffectiveMaxTurns() = %d, want 12", got)
	}
	if got := cfg.ExpectedArtifactType(); got != ArtifactReview {
		t.Errorf("ExpectedArtifactType() = %q, want %q", got, ArtifactReview)
	}
}

func TestLatestByType(t *testing.T) {
	artifacts := []Artifact{
		{ID: "a1", Type: ArtifactPlan, Content: "old plan"},
		{ID: "a2", Type: ArtifactReview, Content: "review"},
		{ID: "a3", Type: ArtifactPlan, Content: "new plan"},
	}

	got, ok := LatestByType(artifacts, ArtifactPlan)
	if !ok || got.ID != "a3" {
		t.Errorf("LatestByType(plan) = %q, %v; want a3", got.ID, ok)
	}
	if _, ok := LatestByType(artifacts, ArtifactTest); ok {
		t.Error("no test artifact should be found")
	}
}

func TestAgentLease_Held(t *testing.T) {
	if (AgentLease{}).Held() {
		t.Error("zero lease should be free")
	}
	if !(AgentLease{HolderID: "run-1"}).Held() {
		t.Error("lease with holder should be held")
	}
}
