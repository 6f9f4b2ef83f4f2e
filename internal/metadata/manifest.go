package metadata

import (
	"encoding/json"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

var (
	readmeLicenseRe    = regexp.MustCompile(`(?mi)^License:\s*(.+)$`)
	readmePluginNameRe = regexp.MustCompile(`(?mi)^Plugin Name:\s*(.+)$`)
	markdownH1Re       = regexp.MustCompile(`^#\s+(.+)$`)
	markdownDescRe     = regexp.MustCompile(`(?s)##\s*Description\s*(.*?)\n##`)
	markdownDescTailRe = regexp.MustCompile(`(?s)##\s*Description\s*(.*)`)
	readmeDescRe       = regexp.MustCompile(`(?s)==\s*Description\s*==\s*(.*?)\s*==`)
	readmeDescTailRe   = regexp.MustCompile(`(?s)==\s*Description\s*==\s*(.*)`)
	readmeTitleLineRe  = regexp.MustCompile(`^==\s*.+\s*==$`)
	lineSplitRe        = regexp.MustCompile(`\r\n|\r|\n`)
)

// manifest is the subset of composer.json / package.json we read.
type manifest struct {
	Name     string         `json:"name"`
	Type     any            `json:"type"`
	License  any            `json:"license"`
	Keywords []any          `json:"keywords"`
	Require  map[string]any `json:"require"`
}

func parseManifest(files map[string]string, name string) (*manifest, bool) {
	content, ok := files[name]
	if !ok || strings.TrimSpace(content) == "" {
		return nil, false
	}
	var m manifest
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return nil, false
	}
	return &m, true
}

// licenseFrom checks composer.json, package.json and readme.txt, then falls
// back to the first line of a LICENSE file.
func licenseFrom(files map[string]string) string {
	for _, name := range []string{"composer.json", "package.json"} {
		m, ok := parseManifest(files, name)
		if !ok || m.License == nil {
			continue
		}
		switch v := m.License.(type) {
		case string:
			return strings.TrimSpace(v)
		case []any:
			return strings.Join(stringValues(v), ", ")
		}
	}
	if content := files["readme.txt"]; content != "" {
		if m := readmeLicenseRe.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	for _, name := range []string{"LICENSE", "LICENSE.md", "LICENSE.txt"} {
		content, ok := files[name]
		if !ok {
			continue
		}
		first, _, _ := strings.Cut(content, "\n")
		return strings.TrimSpace(first)
	}
	return ""
}

// titleFrom prefers a README.md H1 on the first non-empty line, then the
// readme.txt plugin header, the manifest name and finally the URL basename.
func titleFrom(files map[string]string, repoURL string) string {
	if content := files["README.md"]; content != "" {
		for _, line := range lineSplitRe.Split(content, -1) {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if m := markdownH1Re.FindStringSubmatch(line); m != nil {
				return trimTitle(m[1])
			}
			break
		}
	}
	if content := files["readme.txt"]; content != "" {
		if m := readmePluginNameRe.FindStringSubmatch(content); m != nil {
			return trimTitle(m[1])
		}
	}
	for _, name := range []string{"composer.json", "package.json"} {
		if m, ok := parseManifest(files, name); ok && strings.TrimSpace(m.Name) != "" {
			return trimTitle(m.Name)
		}
	}
	return trimTitle(RepoBasename(repoURL))
}

func trimTitle(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ". ")
}

// RepoBasename returns the last path segment of repoURL without ".git".
func RepoBasename(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil || u.Path == "" {
		return ""
	}
	base := path.Base(strings.Trim(u.Path, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, ".git")
}

// descriptionFrom extracts the Description section of README.md, or of
// readme.txt when there is no README.md.
func descriptionFrom(files map[string]string) string {
	if content := files["README.md"]; content != "" {
		if m := markdownDescRe.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := markdownDescTailRe.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
		lines := lineSplitRe.Split(content, -1)
		if len(lines) > 0 && markdownH1Re.MatchString(lines[0]) {
			lines = lines[1:]
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	if content := files["readme.txt"]; content != "" {
		if m := readmeDescRe.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := readmeDescTailRe.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
		lines := lineSplitRe.Split(content, -1)
		if len(lines) > 0 && readmeTitleLineRe.MatchString(lines[0]) {
			lines = lines[1:]
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return ""
}

// tagsFrom collects keywords, type and package names from the manifests.
func tagsFrom(files map[string]string) []string {
	var tags []string
	add := func(values ...string) {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				tags = append(tags, v)
			}
		}
	}
	addName := func(name string) {
		add(name)
		if vendor, pkg, ok := strings.Cut(name, "/"); ok {
			add(vendor, pkg)
		}
	}

	if m, ok := parseManifest(files, "composer.json"); ok {
		add(stringValues(m.Keywords)...)
		if t, ok := m.Type.(string); ok {
			add(t)
		}
		addName(m.Name)
		// Map iteration order is random; sort for stable output.
		reqs := make([]string, 0, len(m.Require))
		for name := range m.Require {
			reqs = append(reqs, name)
		}
		sort.Strings(reqs)
		for _, name := range reqs {
			if vendor, pkg, ok := strings.Cut(name, "/"); ok {
				add(vendor, pkg)
			} else {
				add(name)
			}
		}
	}
	if m, ok := parseManifest(files, "package.json"); ok {
		add(stringValues(m.Keywords)...)
		addName(m.Name)
	}
	return DedupeTags(tags)
}

// DedupeTags removes case-insensitive duplicates, keeping the first spelling.
func DedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := fold.String(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func stringValues(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
