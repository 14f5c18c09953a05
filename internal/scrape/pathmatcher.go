package scrape

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExcludePaths skips pages that rarely list staff addresses.
var DefaultExcludePaths = []string{
	"/blog/*",
	"/actualites/*",
	"/news/*",
	"/*.pdf",
}

// PathMatcher filters URLs by glob-style path patterns. "/blog/*" also
// matches nested paths like "/blog/2024/post".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher. Patterns are matched case-insensitively;
// nil falls back to DefaultExcludePaths.
func NewPathMatcher(patterns []string) *PathMatcher {
	if patterns == nil {
		patterns = DefaultExcludePaths
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &PathMatcher{patterns: lowered}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL matches an exclude pattern. Unparseable
// URLs are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
