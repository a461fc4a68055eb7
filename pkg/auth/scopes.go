package auth

import (
	"sort"
	"strings"
)

// Scope strings required by tool operations.
const (
	// ScopeProfile grants the preprocessing suggestion and confirmation tools.
	ScopeProfile = "mcp:profile"

	// ScopeAnalyze grants analysis execution.
	ScopeAnalyze = "mcp:analyze"

	// ScopeAll grants everything.
	ScopeAll = "*"
)

// ScopeSet is a normalized set of permission scopes.
type ScopeSet map[string]struct{}

// NewScopeSet builds a set from scope strings. Empty strings are dropped.
func NewScopeSet(scopes ...string) ScopeSet {
	s := make(ScopeSet, len(scopes))
	for _, scope := range scopes {
		if scope != "" {
			s[scope] = struct{}{}
		}
	}
	return s
}

// ParseScopeClaim normalizes the scope claim from a token into a ScopeSet.
// Tokens carry scopes either as a space-delimited "scope" string or as a
// "scopes" list; a token providing neither yields an empty set.
func ParseScopeClaim(claims map[string]any) ScopeSet {
	if raw, ok := claims["scope"].(string); ok {
		return NewScopeSet(strings.Fields(raw)...)
	}

	switch list := claims["scopes"].(type) {
	case []any:
		s := make(ScopeSet, len(list))
		for _, v := range list {
			if scope, ok := v.(string); ok && scope != "" {
				s[scope] = struct{}{}
			}
		}
		return s
	case []string:
		return NewScopeSet(list...)
	}

	return ScopeSet{}
}

// Has reports whether the exact scope is present.
func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Allows reports whether the set grants the required scope, either exactly
// or via the wildcard.
func (s ScopeSet) Allows(required string) bool {
	if required == "" {
		return true
	}
	return s.Has(required) || s.Has(ScopeAll)
}

// Strings returns the scopes in sorted order, for audit records.
func (s ScopeSet) Strings() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
