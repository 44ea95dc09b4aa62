// Package ignore matches relative file paths against ignore globs.
//
// Patterns use gobwas/glob syntax with '/' as the separator, so '*' stays
// within one path segment and '**' spans segments. A pattern without a '/'
// also matches against the file's base name, so "*.tmp" ignores temp files
// at any depth. A pattern ending in '/' ignores everything below that directory.
package ignore

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

type rule struct {
	pattern  string
	matcher  glob.Glob
	baseName bool
}

// Matcher holds a compiled ordered set of ignore patterns.
// A nil *Matcher matches nothing.
type Matcher struct {
	rules []rule
}

// Compile compiles patterns into a Matcher. Empty patterns are skipped.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "/")
		if strings.HasSuffix(p, "/") {
			p += "**"
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", raw, err)
		}
		m.rules = append(m.rules, rule{
			pattern:  raw,
			matcher:  g,
			baseName: !strings.Contains(p, "/"),
		})
	}
	return m, nil
}

// MustCompile is like Compile but panics on an invalid pattern. Intended for tests
// and constant pattern sets.
func MustCompile(patterns ...string) *Matcher {
	m, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate reports the first invalid pattern, if any.
func Validate(patterns []string) error {
	_, err := Compile(patterns)
	return err
}

// Match reports whether the slash-separated relative path is ignored.
func (m *Matcher) Match(rel string) bool {
	if m == nil {
		return false
	}
	base := path.Base(rel)
	for _, r := range m.rules {
		if r.matcher.Match(rel) {
			return true
		}
		if r.baseName && r.matcher.Match(base) {
			return true
		}
	}
	return false
}

// Patterns returns the original patterns in order.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.pattern
	}
	return out
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.rules)
}
