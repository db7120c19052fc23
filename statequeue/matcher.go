package statequeue

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// TargetMatcher decides whether writes to a target must be serialized.
type TargetMatcher func(target string) bool

// DefaultSerializedPattern selects HomeMatic RPC data points.
const DefaultSerializedPattern = "**hm-rpc.**"

// GlobMatcher matches targets against any of the glob patterns. '.' is the
// separator: "hm-rpc.*.STATE" stays on one level, "**" crosses levels.
func GlobMatcher(patterns ...string) (TargetMatcher, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("compile target pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return func(target string) bool {
		for _, g := range globs {
			if g.Match(target) {
				return true
			}
		}
		return false
	}, nil
}

// PrefixMatcher matches targets starting with any of the prefixes.
func PrefixMatcher(prefixes ...string) TargetMatcher {
	return func(target string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(target, p) {
				return true
			}
		}
		return false
	}
}
