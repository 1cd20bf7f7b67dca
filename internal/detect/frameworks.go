package detect

// FrameworkRule pairs a framework with the indicators that reveal it.
// An indicator is a glob or exact path that must exist, or "path:substring"
// where the file must also contain substring (case-insensitive).
type FrameworkRule struct {
	Name       string
	Indicators []string
}

// DefaultFrameworks is checked in order; earlier entries win ties.
var DefaultFrameworks = []FrameworkRule{
	{"nextjs", []string{"next.config.js", "next.config.mjs", "next.config.ts", `package.json:"next"`}},
	{"nuxt", []string{"nuxt.config.js", "nuxt.config.ts", `package.json:"nuxt"`}},
	{"angular", []string{"angular.json", `package.json:"@angular/core"`}},
	{"svelte", []string{"svelte.config.js", `package.json:"svelte"`}},
	{"vue", []string{"vue.config.js", `package.json:"vue"`}},
	{"react", []string{`package.json:"react"`}},
	{"express", []string{`package.json:"express"`}},
	{"django", []string{"manage.py", "requirements.txt:django", "pyproject.toml:django"}},
	{"fastapi", []string{"requirements.txt:fastapi", "pyproject.toml:fastapi"}},
	{"flask", []string{"requirements.txt:flask", "pyproject.toml:flask"}},
	{"rails", []string{"config/routes.rb", "Gemfile:rails"}},
	{"laravel", []string{"artisan", "composer.json:laravel/framework"}},
	{"spring", []string{"pom.xml:spring-boot", "build.gradle:spring-boot", "build.gradle.kts:spring-boot"}},
	{"gin", []string{"go.mod:github.com/gin-gonic/gin"}},
	{"echo", []string{"go.mod:github.com/labstack/echo"}},
	{"actix", []string{"Cargo.toml:actix-web"}},
	{"dotnet", []string{"*.csproj", "*.sln"}},
}
