// Package artifact parses raw agent output into typed artifacts and the
// signals the pipeline acts on. Parsing degrades instead of failing: the
// worst case is the whole output as content with no signals.
package artifact

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// knownHeaders are the section titles that open a structured artifact.
// The earliest one present in the output wins, not the first in this list.
var knownHeaders = []string{
	"Research Findings",
	"Implementation Plan",
	"Plan",
	"Implementation Summary",
	"Changes Made",
	"Simplification Review",
	"Verification Report",
	"Code Review",
	"Review Summary",
	"Task Breakdown",
	"Task Split",
	"Refined Requirements",
}

var (
	knownHeaderPatterns = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(knownHeaders))
		for i, h := range knownHeaders {
			out[i] = regexp.MustCompile(`(?im)^#{1,6}[ \t]+` + regexp.QuoteMeta(h) + `[ \t]*:?[ \t]*$`)
		}
		return out
	}()
	genericHeaderPattern = regexp.MustCompile(`(?m)^#{1,3}[ \t]+\S.*$`)
)

// Result is a parsed artifact.
type Result struct {
	Type    models.ArtifactType
	Content string
	// MatchedHeader is the header line the content starts at, or "" when the
	// whole output was used.
	MatchedHeader string
}

// ParseArtifact extracts the structured section of raw. The type comes from
// cfg's declared output, else stage. cfg may be nil.
func ParseArtifact(raw string, cfg *models.AgentConfig, stage models.Stage) Result {
	t := models.ArtifactTypeForStage(stage)
	if cfg != nil {
		t = cfg.ExpectedArtifactType()
	}

	offset, header := -1, ""
	for _, p := range knownHeaderPatterns {
		if loc := p.FindStringIndex(raw); loc != nil && (offset < 0 || loc[0] < offset) {
			offset = loc[0]
			header = strings.TrimSpace(raw[loc[0]:loc[1]])
		}
	}
	if offset < 0 {
		if loc := genericHeaderPattern.FindStringIndex(raw); loc != nil {
			offset = loc[0]
			header = strings.TrimSpace(raw[loc[0]:loc[1]])
		}
	}
	if offset < 0 {
		return Result{Type: t, Content: strings.TrimSpace(raw)}
	}
	return Result{Type: t, Content: strings.TrimSpace(raw[offset:]), MatchedHeader: header}
}

var markdownHeaderPattern = regexp.MustCompile(`^#{1,6}[ \t]`)

var recommendedHeaderPattern = regexp.MustCompile(`(?im)^#{1,6}[ \t]*Recommended Next State\b[ \t]*:?(.*)$`)

// ParseRecommendedNextState finds a "Recommended Next State" section and
// returns the first of stages, in the given order, named in it.
func ParseRecommendedNextState(raw string, stages []models.Stage) (models.Stage, bool) {
	loc := recommendedHeaderPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return "", false
	}

	var section []string
	if inline := strings.TrimSpace(raw[loc[2]:loc[3]]); inline != "" {
		section = append(section, inline)
	}
	started := len(section) > 0
	for _, line := range strings.Split(raw[loc[1]:], "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if started {
				break
			}
			continue
		}
		if markdownHeaderPattern.MatchString(trimmed) {
			break
		}
		started = true
		section = append(section, trimmed)
	}

	text := strings.ToLower(strings.Join(section, " "))
	if text == "" {
		return "", false
	}
	for _, s := range stages {
		display := strings.ToLower(s.DisplayName())
		wire := strings.ReplaceAll(string(s), "_", " ")
		if strings.Contains(text, display) || strings.Contains(text, wire) {
			return s, true
		}
	}
	return "", false
}
