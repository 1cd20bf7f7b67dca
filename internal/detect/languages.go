package detect

// MinLanguageFiles is how many source files a language needs before it is reported.
const MinLanguageFiles = 3

// languageRule maps a language to the extensions counted towards it.
type languageRule struct {
	Name       string
	Extensions []string
}

// languages is ordered by priority; the first to reach MinLanguageFiles wins.
var languages = []languageRule{
	{"typescript", []string{".ts", ".tsx", ".mts", ".cts"}},
	{"javascript", []string{".js", ".jsx", ".mjs", ".cjs"}},
	{"python", []string{".py"}},
	{"go", []string{".go"}},
	{"rust", []string{".rs"}},
	{"java", []string{".java"}},
	{"kotlin", []string{".kt", ".kts"}},
	{"csharp", []string{".cs"}},
	{"ruby", []string{".rb"}},
	{"php", []string{".php"}},
	{"swift", []string{".swift"}},
	{"cpp", []string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx"}},
	{"c", []string{".c", ".h"}},
}

// sourceRoots are searched in order; the first with any recognized file is used.
var sourceRoots = []string{"src", "lib", "app", "."}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"out":          true,
	"bin":          true,
	"obj":          true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".next":        true,
	".idea":        true,
	".vscode":      true,
	"coverage":     true,
}

var extensionLanguage = func() map[string]string {
	m := make(map[string]string)
	for _, l := range languages {
		for _, ext := range l.Extensions {
			m[ext] = l.Name
		}
	}
	return m
}()
