// Package policy decides which tasks a deployment may touch.
package policy

import (
	"regexp"
	"strings"

	"github.com/ryanuber/go-glob"
)

const (
	globPrefix      = "glob:"
	regexpPrefix    = "regexp:"
	regexpAltPrefix = "regex:"
)

// Pattern matches task ids.
type Pattern interface {
	// Matches returns true if the given task id matches the pattern.
	Matches(id string) bool
	// String returns the prefixed string representation.
	String() string
	// Valid returns true if the pattern is considered valid.
	Valid() bool
}

type GlobPattern string

// RegexpPattern matches by regular expression.
type RegexpPattern struct {
	pattern string // pattern without prefix
	regexp  *regexp.Regexp
}

// NewPattern instantiates a Pattern according to the prefix it finds.
// The prefix can be either `glob:` (default if omitted) or `regexp:`.
// A plain task id is a glob that matches only itself.
func NewPattern(pattern string) Pattern {
	switch {
	case strings.HasPrefix(pattern, regexpPrefix):
		return newRegexp(strings.TrimPrefix(pattern, regexpPrefix))
	case strings.HasPrefix(pattern, regexpAltPrefix):
		return newRegexp(strings.TrimPrefix(pattern, regexpAltPrefix))
	default:
		return GlobPattern(strings.TrimPrefix(pattern, globPrefix))
	}
}

func newRegexp(pattern string) RegexpPattern {
	// Task ids are matched whole
	r, _ := regexp.Compile("^(?:" + pattern + ")$")
	return RegexpPattern{pattern, r}
}

func (g GlobPattern) Matches(id string) bool {
	return glob.Glob(string(g), id)
}

func (g GlobPattern) String() string {
	return globPrefix + string(g)
}

func (g GlobPattern) Valid() bool {
	return g != ""
}

func (r RegexpPattern) Matches(id string) bool {
	if r.regexp == nil {
		// An invalid regexp matches nothing; better to register too
		// little than too much.
		return false
	}
	return r.regexp.MatchString(id)
}

func (r RegexpPattern) String() string {
	return regexpPrefix + r.pattern
}

func (r RegexpPattern) Valid() bool {
	return r.regexp != nil
}

// Selection is the set of tasks a deployment registers afresh. The
// zero value selects everything.
type Selection struct {
	patterns []Pattern
}

// UpdateOnly makes a Selection from the `updateOnly` list of a
// manifest. An empty list selects every task.
func UpdateOnly(patterns []string) Selection {
	var s Selection
	for _, p := range patterns {
		s.patterns = append(s.patterns, NewPattern(p))
	}
	return s
}

// All reports whether every task is selected.
func (s Selection) All() bool {
	return len(s.patterns) == 0
}

func (s Selection) Selected(id string) bool {
	if s.All() {
		return true
	}
	for _, p := range s.patterns {
		if p.Matches(id) {
			return true
		}
	}
	return false
}

// Invalid returns the patterns that cannot be used.
func (s Selection) Invalid() []string {
	var bad []string
	for _, p := range s.patterns {
		if !p.Valid() {
			bad = append(bad, p.String())
		}
	}
	return bad
}
