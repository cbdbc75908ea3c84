package backends

import "strings"

// DefaultNoise lists stderr substrings the agent prints on every run that
// carry no diagnostic value.
var DefaultNoise = []string{
	"DeprecationWarning",
	"punycode",
	"YOLO mode",
	"Loaded cached credentials",
	"Hook registry",
}

type NoiseFilter struct {
	patterns []string
}

func NewNoiseFilter(extra []string) NoiseFilter {
	patterns := make([]string, 0, len(DefaultNoise)+len(extra))
	patterns = append(patterns, DefaultNoise...)
	for _, pattern := range extra {
		if strings.TrimSpace(pattern) != "" {
			patterns = append(patterns, pattern)
		}
	}
	return NoiseFilter{patterns: patterns}
}

// Filter drops every line containing a noise pattern and returns the rest,
// trimmed.
func (f NoiseFilter) Filter(stderr string) string {
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if f.isNoise(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, "\r"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (f NoiseFilter) isNoise(line string) bool {
	for _, pattern := range f.patterns {
		if strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}
