// Package detect classifies a repository's dominant language and framework
// and checks for the presence of file patterns. All operations are read-only
// and report "no signal" for a missing repository.
package detect

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Context is the detected repository signal cached on an item.
// Empty fields mean nothing was detected.
type Context struct {
	Language  string
	Framework string
}

// Detector implements repository context detection.
type Detector struct {
	frameworks []FrameworkRule
	logger     *zap.Logger
}

// New returns a detector using DefaultFrameworks.
func New(logger *zap.Logger) *Detector {
	return NewWithFrameworks(DefaultFrameworks, logger)
}

// NewWithFrameworks returns a detector using a custom ordered framework list.
func NewWithFrameworks(frameworks []FrameworkRule, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{frameworks: frameworks, logger: logger.Named("detect")}
}

// Detect fills in the pieces of cached that are empty.
func (d *Detector) Detect(repoPath string, cached Context) Context {
	if cached.Language == "" {
		cached.Language = d.DetectLanguage(repoPath)
	}
	if cached.Framework == "" {
		cached.Framework = d.DetectFramework(repoPath)
	}
	return cached
}

// DetectLanguage returns the dominant language, or "" when no language
// reaches MinLanguageFiles in the first source root that has any source files.
func (d *Detector) DetectLanguage(repoPath string) string {
	if !dirExists(repoPath) {
		return ""
	}

	for _, root := range sourceRoots {
		dir := filepath.Join(repoPath, root)
		if !dirExists(dir) {
			continue
		}
		counts := countSourceFiles(dir)
		if len(counts) == 0 {
			continue
		}
		for _, lang := range languages {
			if counts[lang.Name] >= MinLanguageFiles {
				d.logger.Debug("language detected",
					zap.String("language", lang.Name),
					zap.String("root", root),
					zap.Int("files", counts[lang.Name]))
				return lang.Name
			}
		}
		return ""
	}
	return ""
}

// countSourceFiles counts recognized source files per language under dir.
func countSourceFiles(dir string) map[string]int {
	counts := make(map[string]int)
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != dir && skipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if lang, ok := extensionLanguage[strings.ToLower(filepath.Ext(path))]; ok {
			counts[lang]++
		}
		return nil
	})
	return counts
}

// DetectFramework returns the first framework with a satisfied indicator, or "".
func (d *Detector) DetectFramework(repoPath string) string {
	if !dirExists(repoPath) {
		return ""
	}

	for _, fw := range d.frameworks {
		for _, indicator := range fw.Indicators {
			if d.indicatorSatisfied(repoPath, indicator) {
				d.logger.Debug("framework detected",
					zap.String("framework", fw.Name),
					zap.String("indicator", indicator))
				return fw.Name
			}
		}
	}
	return ""
}

func (d *Detector) indicatorSatisfied(repoPath, indicator string) bool {
	path, substr, hasSubstr := strings.Cut(indicator, ":")
	if !hasSubstr {
		return len(matchFiles(repoPath, indicator, 1)) > 0
	}

	needle := strings.ToLower(substr)
	for _, rel := range matchFiles(repoPath, path, 0) {
		data, err := os.ReadFile(filepath.Join(repoPath, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(data)), needle) {
			return true
		}
	}
	return false
}

// FilesPresent reports whether any pattern resolves to at least one existing file.
func (d *Detector) FilesPresent(repoPath string, patterns []string) bool {
	if !dirExists(repoPath) {
		return false
	}
	for _, pattern := range patterns {
		if len(matchFiles(repoPath, pattern, 1)) > 0 {
			return true
		}
	}
	return false
}

// matchFiles returns slash-separated repo-relative files matching pattern.
// limit > 0 stops after that many matches.
func matchFiles(repoPath, pattern string, limit int) []string {
	pattern = normalizePattern(pattern)
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return nil
	}

	// Exact paths skip the walk.
	if !hasMeta(pattern) {
		if fileExists(filepath.Join(repoPath, filepath.FromSlash(pattern))) {
			return []string{pattern}
		}
		return nil
	}

	var matches []string
	stop := errors.New("limit reached")
	err := filepath.WalkDir(repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if path != repoPath && skipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := doublestar.Match(pattern, rel); ok {
			matches = append(matches, rel)
			if limit > 0 && len(matches) >= limit {
				return stop
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil
	}
	return matches
}

func normalizePattern(pattern string) string {
	pattern = filepath.ToSlash(strings.TrimSpace(pattern))
	pattern = strings.TrimPrefix(pattern, "./")
	return strings.TrimPrefix(pattern, "/")
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{\\")
}

// fileExists checks if a regular file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
