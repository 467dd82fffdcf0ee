// Package safety restricts which GraphQL operations the MCP tools will run
// and gates mutations behind single-use confirmation tokens.
package safety

import (
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// AnonymousName is the name filters match for operations without one.
const AnonymousName = "anonymous"

// Filter admits operations by name using glob allow and deny lists. Patterns
// follow doublestar.Match, so alternation such as {Get,List}* works.
//
//   - With both lists empty every operation is allowed.
//   - The denylist is checked first and always wins.
//   - A non-empty allowlist must match for the operation to be allowed.
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter returns a Filter over the given patterns. Either list may be nil.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{allowlist: allowlist, denylist: denylist}
}

// Allows reports whether the operation called name may run. A nil Filter
// allows everything.
func (f *Filter) Allows(name string) bool {
	if f == nil {
		return true
	}
	if name == "" {
		name = AnonymousName
	}
	matches := func(pattern string) bool {
		ok, err := doublestar.Match(pattern, name)
		return err == nil && ok
	}
	if slices.ContainsFunc(f.denylist, matches) {
		return false
	}
	return len(f.allowlist) == 0 || slices.ContainsFunc(f.allowlist, matches)
}
