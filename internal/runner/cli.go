package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
	"github.com/ShayCichocki/stagehand/pkg/models"
)

// baseAllowedTools are the claude CLI tools granted to every run.
var baseAllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"}

// CLIRunner runs agents as claude CLI subprocesses using stream-json output.
// The CLI cannot route questions back to the engine, so RunRequest.Ask is unused.
type CLIRunner struct {
	binary string
	model  string
	logger *zap.Logger
}

// NewCLIRunner creates a runner invoking binary ("claude" when empty).
func NewCLIRunner(binary, model string, logger *zap.Logger) *CLIRunner {
	if binary == "" {
		binary = "claude"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIRunner{binary: binary, model: model, logger: logger}
}

// streamLine is one line of the CLI's stream-json output.
type streamLine struct {
	Type     string          `json:"type"`
	Subtype  string          `json:"subtype,omitempty"`
	Result   string          `json:"result,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
	NumTurns int             `json:"num_turns,omitempty"`
	Error    string          `json:"error,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Usage    *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

// args builds the CLI argument list for req.
func (r *CLIRunner) args(req pipeline.RunRequest) []string {
	maxTurns := req.Config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = models.DefaultMaxTurns
	}

	allowed := append([]string(nil), baseAllowedTools...)
	for _, server := range req.Config.MCPServers {
		allowed = append(allowed, "mcp__"+server)
	}

	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(maxTurns),
		"--allowedTools", strings.Join(allowed, ","),
	}
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	return append(args, "-p", req.Config.Prompt)
}

// Run starts the subprocess in the repository and waits for its result event.
func (r *CLIRunner) Run(ctx context.Context, req pipeline.RunRequest) (pipeline.RunResult, error) {
	start := time.Now()
	result := pipeline.RunResult{}
	if req.Config == nil {
		return result, fmt.Errorf("run %s: no resolved agent config", req.RunID)
	}

	logger := r.logger.With(
		zap.String("run_id", req.RunID),
		zap.Stringer("owner", req.Owner),
		zap.String("stage", string(req.Stage)),
	)

	cmd := exec.CommandContext(ctx, r.binary, r.args(req)...)
	cmd.Dir = req.RepoPath
	stderr := &boundedBuffer{limit: 16 * 1024}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("start %s: %w", r.binary, err)
	}

	var (
		final     *streamLine
		lastText  string
		streamErr string
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev streamLine
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Debug("skipping unparseable stream line", zap.Error(err))
			continue
		}
		switch ev.Type {
		case "assistant":
			text, action := assistantContent(ev.Message)
			if text != "" {
				lastText = text
			}
			if action != "" {
				logger.Debug("tool call", zap.String("action", action))
			}
		case "result":
			final = &ev
		case "error":
			streamErr = ev.Error
		}
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	result.Duration = time.Since(start)

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	if final != nil {
		result.Output = final.Result
		if result.Output == "" {
			result.Output = lastText
		}
		result.Turns = final.NumTurns
		if final.Usage != nil {
			result.InputTokens = final.Usage.InputTokens
			result.OutputTokens = final.Usage.OutputTokens
		}
		if final.IsError {
			result.Error = final.Subtype
			if result.Error == "" {
				result.Error = "agent reported an error"
			}
		}
		return result, nil
	}

	switch {
	case waitErr != nil:
		msg := fmt.Sprintf("%s exited: %v", filepath.Base(r.binary), waitErr)
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += "; stderr: " + s
		}
		return result, fmt.Errorf("%s", msg)
	case scanErr != nil:
		return result, fmt.Errorf("read stream: %w", scanErr)
	case streamErr != "":
		return result, fmt.Errorf("agent error: %s", streamErr)
	}
	return result, fmt.Errorf("%s exited without a result event", filepath.Base(r.binary))
}

// assistantContent extracts the text and a short tool action description from
// an assistant message.
func assistantContent(raw json.RawMessage) (text, action string) {
	if len(raw) == 0 {
		return "", ""
	}
	var msg struct {
		Content []struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", ""
	}

	var b strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			b.WriteString(block.Text)
		case "tool_use":
			if action == "" {
				action = describeTool(block.Name, block.Input)
			}
		}
	}
	return b.String(), action
}

// describeTool formats a tool call for logs, e.g. "Reading auth.go".
func describeTool(name string, input map[string]any) string {
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}
	switch name {
	case "Read":
		return "Reading " + filepath.Base(str("file_path"))
	case "Edit":
		return "Editing " + filepath.Base(str("file_path"))
	case "Write":
		return "Writing " + filepath.Base(str("file_path"))
	case "Bash":
		cmd, _, _ := strings.Cut(str("command"), " ")
		return "Running " + cmd
	case "Glob", "Grep":
		return "Searching " + str("pattern")
	default:
		return name
	}
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
