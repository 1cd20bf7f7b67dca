package artifact

import (
	"regexp"
	"strings"
)

// SplitTask is one child task proposed by a splitting run.
type SplitTask struct {
	Title       string
	Description string
}

var (
	taskHeaderPattern = regexp.MustCompile(`(?im)^#{2,4}[ \t]*Task[ \t]+\d+[ \t]*[:.)-][ \t]*(.+?)[ \t]*$`)
	listItemPattern   = regexp.MustCompile(`^(?:[-*]|\d+[.)])[ \t]+(.+)$`)
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// ParseTaskSplit reads "### Task N: Title" blocks, or when there are none,
// top-level list items, into child tasks in document order.
func ParseTaskSplit(content string) []SplitTask {
	if tasks := parseTaskHeaders(content); len(tasks) > 0 {
		return tasks
	}
	return parseListItems(content)
}

func parseTaskHeaders(content string) []SplitTask {
	locs := taskHeaderPattern.FindAllStringSubmatchIndex(content, -1)
	tasks := make([]SplitTask, 0, len(locs))
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := content[loc[1]:end]
		if next := nextHeaderPattern.FindStringIndex(body); next != nil {
			body = body[:next[0]]
		}
		tasks = append(tasks, SplitTask{
			Title:       cleanTitle(content[loc[2]:loc[3]]),
			Description: strings.TrimSpace(body),
		})
	}
	return tasks
}

func parseListItems(content string) []SplitTask {
	var tasks []SplitTask
	for _, line := range strings.Split(content, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		m := listItemPattern.FindStringSubmatch(strings.TrimRight(line, " \t\r"))
		if m == nil {
			continue
		}
		title, desc, _ := strings.Cut(m[1], " - ")
		if t, d, ok := strings.Cut(m[1], ": "); ok && strings.HasPrefix(m[1], "**") {
			title, desc = t, d
		}
		tasks = append(tasks, SplitTask{Title: cleanTitle(title), Description: strings.TrimSpace(desc)})
	}
	return tasks
}

func cleanTitle(s string) string {
	s = boldPattern.ReplaceAllString(s, "$1")
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*_`"))
}
