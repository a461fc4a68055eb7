// Package auth provides bearer token verification for the server.
package auth

// AuthContext is the resolved identity for one call.
type AuthContext struct {
	// User is the subject identifier from the token.
	User string `json:"user"`

	// Tenant is the tenant identifier from the token.
	Tenant string `json:"tenant"`

	// Scopes is the normalized permission set.
	Scopes ScopeSet `json:"scopes"`

	// Token is the raw credential. It is retained only for the duration of
	// the call and is never serialized or persisted.
	Token string `json:"-"`
}
