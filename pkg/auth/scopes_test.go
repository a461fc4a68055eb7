package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScopeClaim_SpaceDelimitedString(t *testing.T) {
	s := ParseScopeClaim(map[string]any{"scope": "mcp:profile mcp:analyze"})
	assert.True(t, s.Has(ScopeProfile))
	assert.True(t, s.Has(ScopeAnalyze))
	assert.Len(t, s, 2)
}

func TestParseScopeClaim_List(t *testing.T) {
	s := ParseScopeClaim(map[string]any{"scopes": []any{"mcp:profile", "mcp:analyze"}})
	assert.True(t, s.Has(ScopeProfile))
	assert.True(t, s.Has(ScopeAnalyze))
}

func TestParseScopeClaim_StringSlice(t *testing.T) {
	s := ParseScopeClaim(map[string]any{"scopes": []string{"mcp:profile"}})
	assert.True(t, s.Has(ScopeProfile))
	assert.False(t, s.Has(ScopeAnalyze))
}

func TestParseScopeClaim_Neither(t *testing.T) {
	s := ParseScopeClaim(map[string]any{"sub": "u"})
	assert.Empty(t, s)
}

func TestParseScopeClaim_IgnoresNonStrings(t *testing.T) {
	s := ParseScopeClaim(map[string]any{"scopes": []any{"mcp:profile", 42, nil}})
	assert.Len(t, s, 1)
}

func TestScopeSet_AllowsWildcard(t *testing.T) {
	s := NewScopeSet(ScopeAll)
	assert.True(t, s.Allows(ScopeProfile))
	assert.True(t, s.Allows(ScopeAnalyze))
	assert.True(t, s.Allows("anything:else"))
}

func TestScopeSet_AllowsExact(t *testing.T) {
	s := NewScopeSet(ScopeProfile)
	assert.True(t, s.Allows(ScopeProfile))
	assert.False(t, s.Allows(ScopeAnalyze))
}

func TestScopeSet_AllowsEmptyRequirement(t *testing.T) {
	assert.True(t, NewScopeSet().Allows(""))
}

func TestScopeSet_StringsSorted(t *testing.T) {
	s := NewScopeSet("z:scope", "a:scope", "m:scope")
	assert.Equal(t, []string{"a:scope", "m:scope", "z:scope"}, s.Strings())
}
