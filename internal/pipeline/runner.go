package pipeline

import (
	"context"
	"time"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// RunRequest is one dispatch of an agent for an item.
type RunRequest struct {
	RunID    string
	Owner    models.ItemRef
	Stage    models.Stage
	RepoPath string
	// Config carries the rendered prompt, merged capability servers and turn limit.
	Config *models.ResolvedAgentConfig
	// Ask lets the agent pose structured questions and block for answers.
	// It is nil when the engine cannot take questions.
	Ask AskFunc
}

// AskFunc raises questions on behalf of a running agent and returns the answers
// keyed by question header.
type AskFunc func(ctx context.Context, toolCallID string, questions []models.Question) (map[string]string, error)

// RunResult is the raw outcome of an agent run.
type RunResult struct {
	// Output is the agent's final text.
	Output string
	// Error is set when the agent finished but reported failure.
	Error string
	// Turns is the number of conversation turns used.
	Turns        int
	InputTokens  int64
	OutputTokens int64
	Duration     time.Duration
}

// AgentRunner executes one agent run. Run must honour ctx cancellation.
type AgentRunner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}
