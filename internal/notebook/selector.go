package notebook

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Selector is a glob-based resource filter. Include must match for the
// selector to apply; a non-empty Exclude vetoes a match.
type Selector struct {
	Include string `json:"include"`
	Exclude string `json:"exclude,omitempty"`
}

// Matches reports whether the selector matches the resource's path.
func (s Selector) Matches(r Resource) bool {
	if s.Include == "" {
		return false
	}
	if !globMatches(s.Include, r) {
		return false
	}
	if s.Exclude != "" && globMatches(s.Exclude, r) {
		return false
	}
	return true
}

// globMatches matches a pattern against the resource. Patterns without a
// path separator match the basename only (a bare "*.ipynb" should match
// nested files), patterns with separators match the full path.
func globMatches(pattern string, r Resource) bool {
	var subject string
	if strings.ContainsRune(pattern, '/') {
		subject = strings.TrimPrefix(r.Path(), "/")
		pattern = strings.TrimPrefix(pattern, "/")
	} else {
		subject = r.Basename()
	}

	ok, err := doublestar.Match(pattern, subject)
	if err != nil {
		// Malformed pattern never matches.
		return false
	}
	return ok
}
