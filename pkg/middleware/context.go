// Package middleware provides the MCP protocol-level dispatch chain:
// per-call context, authentication and scope authorization, audit recording,
// and the structured error responses returned for workflow and authorization
// failures.
package middleware

import (
	"context"
	"time"

	"github.com/toorpia/toorpia-mcp-server/pkg/auth"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	callContextKey contextKey = iota
	tokenContextKey
)

// CallContext carries per-call state through the dispatch chain. The audit
// middleware creates it before authorization is attempted; inner layers and
// tool handlers fill in the rest.
type CallContext struct {
	// AuditID correlates the audit record with any error response.
	AuditID   string
	StartTime time.Time

	// ToolName is the requested tool.
	ToolName string

	// Auth is the resolved identity, nil until authentication runs and for
	// anonymous calls to scope-free tools.
	Auth *auth.AuthContext

	// Handler-populated fields for the audit record.
	SessionID string
	PresetID  string
	OutputURI string
}

// NewCallContext creates a call context stamped with the current time.
func NewCallContext(auditID, toolName string) *CallContext {
	return &CallContext{
		AuditID:   auditID,
		StartTime: time.Now(),
		ToolName:  toolName,
	}
}

// Owner returns the caller's identity pair, or zero values when anonymous.
func (cc *CallContext) Owner() (user, tenant string) {
	if cc.Auth == nil {
		return "", ""
	}
	return cc.Auth.User, cc.Auth.Tenant
}

// WithCallContext attaches the call context.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey, cc)
}

// GetCallContext retrieves the call context, or nil.
func GetCallContext(ctx context.Context) *CallContext {
	if cc, ok := ctx.Value(callContextKey).(*CallContext); ok {
		return cc
	}
	return nil
}

// WithToken attaches the raw bearer credential supplied by the transport.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw bearer credential, or "".
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}
