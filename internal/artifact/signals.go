package artifact

import (
	"regexp"
	"strconv"
	"strings"
)

var confidencePattern = regexp.MustCompile(`(?im)^[\s*_>#-]*confidence(?:[ \t]+(?:score|level))?[*_]*[ \t]*[:=][*_ \t]*([0-9]*\.?[0-9]+)[ \t]*(%)?`)

// ParseConfidence reads a "Confidence: 0.82" or "Confidence: 82%" line.
// Values above 1 are read as percentages. The result is clamped to [0,1].
func ParseConfidence(raw string) *float64 {
	m := confidencePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	if m[2] == "%" || v > 1 {
		v /= 100
	}
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return &v
}

var (
	humanInputHeaderPattern = regexp.MustCompile(`(?im)^#{1,6}[ \t]*Human Input (?:Needed|Required)[ \t]*:?[ \t]*$`)
	humanInputLinePattern   = regexp.MustCompile(`(?m)^[ \t]*NEEDS_HUMAN_INPUT[ \t]*:[ \t]*(.*)$`)
	nextHeaderPattern       = regexp.MustCompile(`(?m)^#{1,6}[ \t]`)
)

// ParseHumanInputRequest reports whether the agent asked for human input,
// via a "Human Input Needed" section or a NEEDS_HUMAN_INPUT: line.
func ParseHumanInputRequest(raw string) (bool, string) {
	if m := humanInputLinePattern.FindStringSubmatch(raw); m != nil {
		return true, strings.TrimSpace(m[1])
	}
	loc := humanInputHeaderPattern.FindStringIndex(raw)
	if loc == nil {
		return false, ""
	}
	body := raw[loc[1]:]
	if next := nextHeaderPattern.FindStringIndex(body); next != nil {
		body = body[:next[0]]
	}
	return true, strings.TrimSpace(body)
}
