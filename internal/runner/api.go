package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// ErrMaxTurns is returned when an agent uses every turn without finishing.
var ErrMaxTurns = errors.New("max turns reached")

const systemPrompt = `You are an autonomous software engineering agent working inside a repository.
Use the provided tools to inspect and change files. When you are done, reply with your final
output only. Use the section headers your instructions ask for.`

// APIRunner runs agents against the Anthropic Messages API.
type APIRunner struct {
	client    *Client
	maxTokens int64
	logger    *zap.Logger
}

// NewAPIRunner creates a runner that sends requests through client.
func NewAPIRunner(client *Client, maxTokens int64, logger *zap.Logger) *APIRunner {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIRunner{client: client, maxTokens: maxTokens, logger: logger}
}

// Run drives the tool-use loop until the model ends its turn or the turn limit is hit.
func (r *APIRunner) Run(ctx context.Context, req pipeline.RunRequest) (pipeline.RunResult, error) {
	start := time.Now()
	result := pipeline.RunResult{}
	if req.Config == nil {
		return result, fmt.Errorf("run %s: no resolved agent config", req.RunID)
	}

	maxTurns := req.Config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = models.DefaultMaxTurns
	}

	logger := r.logger.With(
		zap.String("run_id", req.RunID),
		zap.Stringer("owner", req.Owner),
		zap.String("stage", string(req.Stage)),
	)
	if len(req.Config.MCPServers) > 0 {
		logger.Debug("capability servers are not attached by the api backend",
			zap.Strings("mcp_servers", req.Config.MCPServers))
	}

	executor := NewToolExecutor(req.RepoPath)
	tools := toolDefinitions(req.Ask != nil)
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Config.Prompt)),
	}

	for result.Turns < maxTurns {
		result.Turns++

		resp, err := r.client.inner.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     r.client.Model(),
			MaxTokens: r.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("messages call: %w", err)
		}

		result.InputTokens += resp.Usage.InputTokens
		result.OutputTokens += resp.Usage.OutputTokens
		r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var text strings.Builder

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				var tr ToolResult
				if variant.Name == AskToolName && req.Ask != nil {
					tr, err = ask(ctx, req.Ask, variant.ID, variant.Input)
					if err != nil {
						result.Duration = time.Since(start)
						return result, err
					}
				} else {
					tr = executor.Execute(ctx, variant.Name, variant.Input)
				}
				logger.Debug("tool call",
					zap.String("tool", variant.Name),
					zap.Bool("is_error", tr.IsError))

				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, tr.Content, tr.IsError))
			}
		}

		if resp.StopReason != anthropic.StopReasonToolUse || len(toolResultBlocks) == 0 {
			result.Output = text.String()
			result.Duration = time.Since(start)
			return result, nil
		}

		messages = append(messages,
			anthropic.NewAssistantMessage(assistantBlocks...),
			anthropic.NewUserMessage(toolResultBlocks...))
	}

	result.Duration = time.Since(start)
	return result, fmt.Errorf("%w (%d)", ErrMaxTurns, maxTurns)
}

// ask forwards a question tool call to the engine and renders the answers as
// the tool result. Only cancellation of ctx aborts the run; an unanswered
// question becomes an error result the agent can react to.
func ask(ctx context.Context, fn pipeline.AskFunc, toolCallID string, input json.RawMessage) (ToolResult, error) {
	var params struct {
		Questions []models.Question `json:"questions"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err), nil
	}
	if len(params.Questions) == 0 {
		return failf("questions must not be empty"), nil
	}

	answers, err := fn(ctx, toolCallID, params.Questions)
	if err != nil {
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		return failf("Question was not answered: %v. Proceed with your best judgement.", err), nil
	}

	data, err := json.Marshal(answers)
	if err != nil {
		return failf("Encoding answers: %v", err), nil
	}
	return ToolResult{Content: string(data)}, nil
}
