package metadata

import (
	"os"
	"path/filepath"
)

// languageMarkers maps root-level marker files to a language, checked in order.
var languageMarkers = []struct {
	file     string
	language string
}{
	{"go.mod", "go"},
	{"composer.json", "php"},
	{"Cargo.toml", "rust"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"Gemfile", "ruby"},
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DetectLanguage attempts to detect the primary language of a working copy.
// Root-level PHP files take precedence over package.json, which plugins often
// carry only for build tooling.
func DetectLanguage(dir string) string {
	for _, m := range languageMarkers {
		if exists(filepath.Join(dir, m.file)) {
			return m.language
		}
	}
	if phpFiles, _ := filepath.Glob(filepath.Join(dir, "*.php")); len(phpFiles) > 0 {
		return "php"
	}
	if exists(filepath.Join(dir, "package.json")) {
		return "javascript"
	}
	return ""
}
