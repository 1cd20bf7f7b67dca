package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "go at root",
			files: map[string]string{"main.go": "", "a.go": "", "b.go": ""},
			want:  "go",
		},
		{
			name:  "below threshold",
			files: map[string]string{"main.go": "", "a.go": ""},
			want:  "",
		},
		{
			name: "priority order beats count",
			files: map[string]string{
				"a.py": "", "b.py": "", "c.py": "", "d.py": "",
				"x.ts": "", "y.ts": "", "z.tsx": "",
			},
			want: "typescript",
		},
		{
			name: "src root stops the search",
			files: map[string]string{
				"src/a.rs": "", "src/b.rs": "", "src/c.rs": "",
				"tools/a.py": "", "tools/b.py": "", "tools/c.py": "",
			},
			want: "rust",
		},
		{
			name: "first root with hits decides even below threshold",
			files: map[string]string{
				"src/only.go": "",
				"a.py":        "",
				"b.py":        "",
				"c.py":        "",
			},
			want: "",
		},
		{
			name: "skipped directories are ignored",
			files: map[string]string{
				"node_modules/a.js": "", "node_modules/b.js": "", "node_modules/c.js": "",
				"vendor/x.go": "", "vendor/y.go": "", "vendor/z.go": "",
				"index.js": "",
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			touch(t, root, tt.files)
			assert.Equal(t, tt.want, New(nil).DetectLanguage(root))
		})
	}
}

func TestDetectFramework(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"react via package.json", map[string]string{"package.json": `{"dependencies":{"React":"18"}}`}, "react"},
		{"next beats react", map[string]string{"package.json": `{"dependencies":{"react":"18","next":"14"}}`}, "nextjs"},
		{"django manage.py", map[string]string{"manage.py": ""}, "django"},
		{"gin in go.mod", map[string]string{"go.mod": "require github.com/gin-gonic/gin v1.9.0"}, "gin"},
		{"dotnet glob", map[string]string{"App.csproj": "<Project/>"}, "dotnet"},
		{"substring missing", map[string]string{"requirements.txt": "requests==2.0"}, ""},
		{"nothing", map[string]string{"README.md": "hi"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			touch(t, root, tt.files)
			assert.Equal(t, tt.want, New(nil).DetectFramework(root))
		})
	}
}

func TestFilesPresent(t *testing.T) {
	root := t.TempDir()
	touch(t, root, map[string]string{
		"Dockerfile":                 "FROM scratch",
		"web/components/Button.tsx":  "",
		"node_modules/pkg/x.graphql": "",
	})
	d := New(nil)

	assert.True(t, d.FilesPresent(root, []string{"Dockerfile"}))
	assert.True(t, d.FilesPresent(root, []string{"./Dockerfile"}))
	assert.True(t, d.FilesPresent(root, []string{"missing.txt", "**/*.tsx"}))
	assert.False(t, d.FilesPresent(root, []string{"*.tsx"}), "single star does not cross directories")
	assert.False(t, d.FilesPresent(root, []string{"**/*.graphql"}), "skipped dirs are not searched")
	assert.False(t, d.FilesPresent(root, []string{"web/components"}), "directories are not files")
	assert.False(t, d.FilesPresent(root, nil))
}

func TestMissingRepoIsNoSignal(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	d := New(nil)

	assert.Empty(t, d.DetectLanguage(missing))
	assert.Empty(t, d.DetectFramework(missing))
	assert.False(t, d.FilesPresent(missing, []string{"**/*"}))
}

func TestDetect_OnlyFillsMissing(t *testing.T) {
	root := t.TempDir()
	touch(t, root, map[string]string{"a.go": "", "b.go": "", "c.go": "", "go.mod": "github.com/labstack/echo"})

	got := New(nil).Detect(root, Context{Language: "cached"})
	assert.Equal(t, "cached", got.Language)
	assert.Equal(t, "echo", got.Framework)
}
