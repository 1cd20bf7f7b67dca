package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/bmatcuk/doublestar/v4"
)

// AskToolName is the tool an agent calls to pose structured questions.
const AskToolName = "ask_user_question"

const maxToolOutput = 30000

// toolDefinitions returns the repository tools, plus the question tool when ask is true.
func toolDefinitions(ask bool) []anthropic.ToolUnionParam {
	tools := []anthropic.ToolUnionParam{
		tool("Read", "Read a file from the repository. Returns contents with line numbers.",
			map[string]any{
				"file_path": prop("string", "Path to the file, relative to the repository root"),
				"offset":    prop("integer", "Line number to start reading from (1-indexed, optional)"),
				"limit":     prop("integer", "Maximum number of lines to read (optional)"),
			}, "file_path"),
		tool("Write", "Write content to a file. Creates parent directories if needed.",
			map[string]any{
				"file_path": prop("string", "Path to the file, relative to the repository root"),
				"content":   prop("string", "Content to write"),
			}, "file_path", "content"),
		tool("Edit", "Replace text in a file. old_string must be unique unless replace_all is true.",
			map[string]any{
				"file_path":   prop("string", "Path to the file, relative to the repository root"),
				"old_string":  prop("string", "The exact text to replace"),
				"new_string":  prop("string", "The replacement text"),
				"replace_all": prop("boolean", "Replace every occurrence (default false)"),
			}, "file_path", "old_string", "new_string"),
		tool("Bash", "Run a shell command in the repository root.",
			map[string]any{
				"command": prop("string", "The command to execute"),
				"timeout": prop("integer", "Timeout in milliseconds (optional, default 120000)"),
			}, "command"),
		tool("Glob", "Find files matching a glob pattern such as '**/*.go'.",
			map[string]any{
				"pattern": prop("string", "Glob pattern, relative to the repository root"),
			}, "pattern"),
		tool("Grep", "Search file contents with a regular expression.",
			map[string]any{
				"pattern": prop("string", "Regular expression to search for"),
				"path":    prop("string", "File or directory to search in (optional)"),
				"glob":    prop("string", "Glob filter for file names (optional)"),
			}, "pattern"),
	}
	if ask {
		tools = append(tools, tool(AskToolName,
			"Ask the operator one or more questions and wait for the answers. Use only when you cannot proceed without a decision.",
			map[string]any{
				"questions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"header":       prop("string", "Short unique label; answers are keyed by it"),
							"prompt":       prop("string", "The full question"),
							"multi_select": prop("boolean", "Whether several options may be chosen"),
							"options": map[string]any{
								"type": "array",
								"items": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"label":       prop("string", "Option label"),
										"description": prop("string", "What choosing this option means"),
									},
									"required": []string{"label"},
								},
							},
						},
						"required": []string{"header", "prompt"},
					},
				},
			}, "questions"))
	}
	return tools
}

func tool(name, description string, props map[string]any, required ...string) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   required,
			},
		},
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolExecutor executes repository tool calls. Paths are confined to the repository root.
type ToolExecutor struct {
	root string
}

// NewToolExecutor creates an executor rooted at root.
func NewToolExecutor(root string) *ToolExecutor {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return &ToolExecutor{root: abs}
}

// Execute runs a tool by name with the given JSON input.
func (e *ToolExecutor) Execute(ctx context.Context, name string, input json.RawMessage) ToolResult {
	switch name {
	case "Read":
		return e.read(input)
	case "Write":
		return e.write(input)
	case "Edit":
		return e.edit(input)
	case "Bash":
		return e.bash(ctx, input)
	case "Glob":
		return e.glob(input)
	case "Grep":
		return e.grep(ctx, input)
	default:
		return failf("Unknown tool: %s", name)
	}
}

func (e *ToolExecutor) read(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err)
	}
	path, err := e.resolve(params.FilePath)
	if err != nil {
		return failf("%v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return failf("Failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return failf("Offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(lines))
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return ToolResult{Content: b.String()}
}

func (e *ToolExecutor) write(input json.RawMessage) ToolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err)
	}
	path, err := e.resolve(params.FilePath)
	if err != nil {
		return failf("%v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return failf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return failf("Failed to write file: %v", err)
	}
	return ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *ToolExecutor) edit(input json.RawMessage) ToolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err)
	}
	if params.OldString == "" {
		return failf("old_string must not be empty")
	}
	path, err := e.resolve(params.FilePath)
	if err != nil {
		return failf("%v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return failf("Failed to read file: %v", err)
	}
	text := string(content)

	count := strings.Count(text, params.OldString)
	switch {
	case count == 0:
		return failf("old_string not found in file")
	case count > 1 && !params.ReplaceAll:
		return failf("old_string found %d times; must be unique or use replace_all", count)
	}

	n := 1
	if params.ReplaceAll {
		n = -1
	}
	if err := os.WriteFile(path, []byte(strings.Replace(text, params.OldString, params.NewString, n)), 0644); err != nil {
		return failf("Failed to write file: %v", err)
	}
	if params.ReplaceAll {
		return ToolResult{Content: fmt.Sprintf("Replaced %d occurrences", count)}
	}
	return ToolResult{Content: "Edit successful"}
}

func (e *ToolExecutor) bash(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err)
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = e.root
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return failf("Command timed out after %v:\n%s", timeout, truncate(string(output)))
		}
		return failf("%s\nError: %v", truncate(string(output)), err)
	}
	return ToolResult{Content: truncate(string(output))}
}

func (e *ToolExecutor) glob(input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err)
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return failf("Invalid glob pattern: %s", params.Pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(e.root), params.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return failf("Glob error: %v", err)
	}
	if len(matches) == 0 {
		return ToolResult{Content: "No files matched the pattern"}
	}
	return ToolResult{Content: truncate(strings.Join(matches, "\n"))}
}

func (e *ToolExecutor) grep(ctx context.Context, input json.RawMessage) ToolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return failf("Invalid parameters: %v", err)
	}

	searchPath := e.root
	if params.Path != "" {
		p, err := e.resolve(params.Path)
		if err != nil {
			return failf("%v", err)
		}
		searchPath = p
	}

	args := []string{"--color=never", "-n"}
	if params.Glob != "" {
		args = append(args, "--glob", params.Glob)
	}
	args = append(args, "-e", params.Pattern, searchPath)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// rg exits non-zero when nothing matches.
	output, _ := exec.CommandContext(ctx, "rg", args...).CombinedOutput()
	if len(output) == 0 {
		return ToolResult{Content: "No matches found"}
	}
	return ToolResult{Content: truncate(string(output))}
}

// resolve maps path to an absolute path inside the repository root.
func (e *ToolExecutor) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(e.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the repository", path)
	}
	return path, nil
}

func truncate(s string) string {
	if len(s) > maxToolOutput {
		return s[:maxToolOutput] + "\n... (output truncated)"
	}
	return s
}

func failf(format string, args ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
