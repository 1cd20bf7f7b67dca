// Package prompt renders agent prompt templates against item fields,
// repository context and prior artifacts.
package prompt

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// placeholderPattern matches {scope.field} and the bare {artifacts} token.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_]+(?:\.[A-Za-z_]+)?)\}`)

const (
	unknownValue        = "unknown"
	noAcceptanceText    = "No acceptance criteria defined."
	noArtifactsText     = "No previous artifacts available."
	artifactSeparator   = "\n\n---\n\n"
	artifactsToken      = "artifacts"
	artifactScopePrefix = "artifacts."
)

// missingArtifactText is rendered for {artifacts.<type>} when no artifact of the type exists.
var missingArtifactText = map[models.ArtifactType]string{
	models.ArtifactPlan:                 "No implementation plan available.",
	models.ArtifactImplementation:       "No implementation summary available.",
	models.ArtifactReview:               "No code review available.",
	models.ArtifactResearchFindings:     "No research findings available.",
	models.ArtifactSimplificationReview: "No simplification review available.",
	models.ArtifactVerificationReport:   "No verification report available.",
	models.ArtifactTaskSplit:            "No task breakdown available.",
}

// retiredArtifacts always render their notice regardless of stored data.
var retiredArtifacts = map[string]string{
	"test":     "(The test artifact is no longer produced; refer to the verification report.)",
	"design":   "(The design artifact is no longer produced; refer to the implementation plan.)",
	"analysis": "(The analysis artifact is no longer produced; refer to the research findings.)",
}

// Input is everything a template can reference.
type Input struct {
	// Item is a *models.Task or *models.BacklogItem.
	Item models.Item
	// RepoPath defaults to the working directory.
	RepoPath  string
	Language  string
	Framework string
	// Artifacts belong to Item, oldest first.
	Artifacts []models.Artifact
}

// Assemble renders template in a single left-to-right pass. Substituted text
// is never re-scanned, and unknown placeholders are left as written.
func Assemble(template string, in Input) string {
	r := newResolver(in)
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := strings.ToLower(token[1 : len(token)-1])
		if v, ok := r.resolve(key); ok {
			return v
		}
		return token
	})
}

type resolver struct {
	in     Input
	fields map[string]string
}

func newResolver(in Input) *resolver {
	r := &resolver{in: in, fields: make(map[string]string)}
	r.addItemFields()
	r.addContextFields()
	return r
}

func (r *resolver) resolve(key string) (string, bool) {
	if v, ok := r.fields[key]; ok {
		return v, true
	}
	if key == artifactsToken {
		return r.allArtifacts(), true
	}
	if name, ok := strings.CutPrefix(key, artifactScopePrefix); ok {
		return r.artifactOfType(name)
	}
	return "", false
}

func (r *resolver) addItemFields() {
	switch item := r.in.Item.(type) {
	case *models.Task:
		r.setScope("task", map[string]string{
			"id":          item.ID,
			"title":       item.Title,
			"description": item.Description,
			"state":       item.State.DisplayName(),
			"priority":    strconv.Itoa(item.Priority),
			"language":    orDefault(item.DetectedLanguage, orDefault(r.in.Language, unknownValue)),
			"framework":   orDefault(item.DetectedFramework, orDefault(r.in.Framework, unknownValue)),
		})
	case *models.BacklogItem:
		r.setScope("backlog", map[string]string{
			"id":                   item.ID,
			"title":                item.Title,
			"description":          item.Description,
			"state":                item.State.DisplayName(),
			"priority":             strconv.Itoa(item.Priority),
			"language":             orDefault(item.DetectedLanguage, orDefault(r.in.Language, unknownValue)),
			"framework":            orDefault(item.DetectedFramework, orDefault(r.in.Framework, unknownValue)),
			"acceptance_criteria":  orDefault(strings.TrimSpace(item.AcceptanceCriteria), noAcceptanceText),
			"refinement_iteration": strconv.Itoa(item.RefinementIteration),
		})
	}
}

func (r *resolver) addContextFields() {
	repo := r.in.RepoPath
	if repo == "" {
		if cwd, err := os.Getwd(); err == nil {
			repo = cwd
		}
	}
	r.setScope("context", map[string]string{
		"repo_path": repo,
		"language":  orDefault(r.in.Language, unknownValue),
		"framework": orDefault(r.in.Framework, unknownValue),
	})
}

func (r *resolver) setScope(scope string, values map[string]string) {
	for field, v := range values {
		r.fields[scope+"."+field] = v
	}
}

func (r *resolver) artifactOfType(name string) (string, bool) {
	if notice, ok := retiredArtifacts[name]; ok {
		return notice, true
	}
	t := models.ArtifactType(name)
	fallback, ok := missingArtifactText[t]
	if !ok {
		return "", false
	}
	if a, found := models.LatestByType(r.in.Artifacts, t); found {
		return strings.TrimSpace(a.Content), true
	}
	return fallback, true
}

func (r *resolver) allArtifacts() string {
	if len(r.in.Artifacts) == 0 {
		return noArtifactsText
	}
	blocks := make([]string, 0, len(r.in.Artifacts))
	for _, a := range r.in.Artifacts {
		var b strings.Builder
		b.WriteString("### ")
		b.WriteString(a.Type.Label())
		b.WriteString(" (from ")
		b.WriteString(a.State.DisplayName())
		b.WriteString(")\n\n")
		b.WriteString(strings.TrimSpace(a.Content))
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, artifactSeparator)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
