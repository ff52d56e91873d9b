package overlay

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Enabler decides per request path whether the overlay is injected at all.
// With no patterns every path is enabled.
type Enabler struct {
	patterns []string
}

// NewEnabler validates glob patterns such as "/pages/**".
func NewEnabler(patterns []string) (*Enabler, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid enabled path pattern %q", p)
		}
	}
	return &Enabler{patterns: patterns}, nil
}

// Enabled reports whether live editing is enabled for a URL path.
func (e *Enabler) Enabled(path string) bool {
	if e == nil || len(e.patterns) == 0 {
		return true
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	for _, p := range e.patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}
