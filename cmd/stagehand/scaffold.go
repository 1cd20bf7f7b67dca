package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// outputFooter asks every agent for the signals the engine parses.
const outputFooter = `

End your response with:

Confidence: <0.0-1.0>

## Recommended Next State
<one of the stages of this pipeline>

If you cannot proceed without a decision from a person, add a
"## Human Input Needed" section explaining what you need.`

// stageInstructions is the scaffolded prompt body per agent-driven stage.
var stageInstructions = map[models.Stage]string{
	models.StageResearch: `Research the codebase at {context.repo_path} for this task.

Task: {task.title}
{task.description}

Language: {task.language}. Framework: {task.framework}.

Identify the files, modules and conventions the change will touch and any
risks. Write your findings under "## Research Findings".`,

	models.StagePlanning: `Write an implementation plan for this task.

Task: {task.title}
{task.description}

{artifacts.research_findings}

List the concrete changes file by file, the tests to add and the order to
make them in. Write the plan under "## Implementation Plan".`,

	models.StageImplementing: `Implement this task in {context.repo_path} following the plan.

Task: {task.title}

{artifacts.plan}

Make the changes, run the tests, and summarize what you did under
"## Implementation Summary".`,

	models.StageSimplifying: `Review the implementation of "{task.title}" for unnecessary complexity.

{artifacts.implementation}

Simplify where it helps readability without changing behavior. Report under
"## Simplification Review".`,

	models.StageVerifying: `Verify that "{task.title}" works.

{artifacts.plan}

Run the build, the tests and the linters for this {task.language} project.
Report results under "## Verification Report".`,

	models.StageReviewing: `Review the completed change for "{task.title}".

{artifacts}

Check correctness, tests and style. Write the review under "## Code Review".`,

	models.StageRefining: `Refine this backlog item into a well-scoped unit of work.

Item: {backlog.title}
{backlog.description}

Acceptance criteria:
{backlog.acceptance_criteria}

This is refinement iteration {backlog.refinement_iteration}. Tighten the
description and acceptance criteria and flag open questions.`,

	models.StageSplitting: `Split this backlog item into ordered implementation tasks.

Item: {backlog.title}
{backlog.description}

Acceptance criteria:
{backlog.acceptance_criteria}

Write each task as "### Task N: <title>" followed by its description, under
"## Task Breakdown".`,
}

// defaultAgentConfigs builds one default config per stage that has scaffolded
// instructions, in pipeline order.
func defaultAgentConfigs() []*models.AgentConfig {
	var configs []*models.AgentConfig
	for _, p := range []models.Pipeline{models.TaskPipeline, models.BacklogPipeline} {
		for _, stage := range p {
			body, ok := stageInstructions[stage]
			if !ok {
				continue
			}
			configs = append(configs, &models.AgentConfig{
				ID:          string(stage) + "-default",
				Name:        stage.DisplayName() + " Agent",
				State:       stage,
				Description: "Default " + strings.ToLower(stage.DisplayName()) + " agent",
				Prompt:      body + outputFooter,
				Output:      &models.OutputSpec{Type: models.ArtifactTypeForStage(stage)},
			})
		}
	}
	return configs
}

// scaffoldAgents writes the default agent configs into dir. Existing files
// are kept unless force is set. It returns the paths it wrote.
func scaffoldAgents(dir string, force bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	var written []string
	for i, cfg := range defaultAgentConfigs() {
		path := filepath.Join(dir, fmt.Sprintf("%02d-%s.yaml", i+1, cfg.State))
		if _, err := os.Stat(path); err == nil && !force {
			continue
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return written, fmt.Errorf("encoding %s: %w", cfg.ID, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// updateGitignore adds stagehand entries to .gitignore if not present.
func updateGitignore(repoPath string) (bool, error) {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	entries := []string{
		".stagehand/state.db*",
		".stagehand/logs/",
	}
	var missing []string
	for _, entry := range entries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# stagehand\n")
	for _, entry := range missing {
		b.WriteString(entry + "\n")
	}
	return true, os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}

const projectConfigTemplate = `# stagehand project configuration
# This file overrides defaults from ~/.config/stagehand/config.yaml

# agents:
#   dir: .stagehand/agents
#   watch: true

# pipeline:
#   confidence_threshold: 0.7
#   max_retries: 3
#   poll_interval: 5s
#   question_timeout: 30m

# runner:
#   backend: api        # or "cli" to drive the claude binary
#   model: claude-sonnet-4-20250514
#   bedrock: false

# nats:
#   url: nats://localhost:4222
#   subject_prefix: stagehand

# metrics:
#   addr: :9090

# log:
#   level: info
#   file: .stagehand/logs/stagehand.log
`

// createProjectConfig writes the .stagehand.yaml template unless one exists.
func createProjectConfig(repoPath string) (bool, error) {
	path := filepath.Join(repoPath, ".stagehand.yaml")
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	return true, os.WriteFile(path, []byte(projectConfigTemplate), 0644)
}
