package models

import "time"

// DefaultMaxTurns is the conversation turn limit when a config omits max_turns.
const DefaultMaxTurns = 50

// MatchRules decide when a variant config replaces the stage default.
type MatchRules struct {
	Framework string   `yaml:"framework,omitempty" json:"framework,omitempty"`
	Language  string   `yaml:"language,omitempty" json:"language,omitempty"`
	Files     []string `yaml:"files,omitempty" json:"files,omitempty"`
}

// Empty reports whether no rule is set.
func (m MatchRules) Empty() bool {
	return m.Framework == "" && m.Language == "" && len(m.Files) == 0
}

// OutputSpec describes the artifact an agent is expected to produce.
type OutputSpec struct {
	Type   ArtifactType `yaml:"type,omitempty" json:"type,omitempty"`
	Schema string       `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// AgentConfig is a named prompt template plus matching rules for one stage.
type AgentConfig struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	State       Stage       `yaml:"state" json:"state"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Prompt      string      `yaml:"prompt" json:"prompt"`
	Extends     string      `yaml:"extends,omitempty" json:"extends,omitempty"`
	Match       *MatchRules `yaml:"match,omitempty" json:"match,omitempty"`
	Output      *OutputSpec `yaml:"output,omitempty" json:"output,omitempty"`
	MCPServers  []string    `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	MaxTurns    int         `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	// SourcePath is the file the config was loaded from.
	SourcePath string `yaml:"-" json:"source_path,omitempty"`
}

// IsVariant reports whether the config extends a default.
func (c *AgentConfig) IsVariant() bool {
	return c.Extends != ""
}

// EffectiveMaxTurns returns MaxTurns or the default when unset.
func (c *AgentConfig) EffectiveMaxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return DefaultMaxTurns
}

// ExpectedArtifactType returns the declared output type, else the stage's type.
func (c *AgentConfig) ExpectedArtifactType() ArtifactType {
	if c.Output != nil && c.Output.Type != "" {
		return c.Output.Type
	}
	return ArtifactTypeForStage(c.State)
}

// ResolvedAgentConfig is the per-dispatch result of agent selection. Never persisted.
type ResolvedAgentConfig struct {
	Config       *AgentConfig `json:"config"`
	Prompt       string       `json:"prompt"`
	MCPServers   []string     `json:"mcp_servers"`
	MaxTurns     int          `json:"max_turns"`
	ArtifactType ArtifactType `json:"artifact_type"`
	// Variant is true when a variant config matched instead of the default.
	Variant bool `json:"variant"`
}

// LeaseHolderKind says what occupies the single-flight slot.
type LeaseHolderKind string

const (
	LeaseRun      LeaseHolderKind = "run"
	LeaseQuestion LeaseHolderKind = "question"
)

// AgentLease is the persisted single-flight slot. A zero Owner means free.
type AgentLease struct {
	HolderKind LeaseHolderKind `json:"holder_kind,omitempty"`
	Owner      ItemRef         `json:"owner"`
	// HolderID is the run ID or question ID occupying the slot.
	HolderID   string     `json:"holder_id,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	// PID is the process that acquired the slot, used to detect stale leases.
	PID int `json:"pid,omitempty"`
}

// Held reports whether the slot is occupied.
func (l AgentLease) Held() bool {
	return l.HolderID != ""
}
