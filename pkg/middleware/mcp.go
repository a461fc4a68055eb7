package middleware

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toorpia/toorpia-mcp-server/pkg/auth"
)

// methodToolsCall is the MCP method name for tool invocations.
const methodToolsCall = "tools/call"

// TokenVerifier resolves a raw bearer credential into an identity.
// Implemented by auth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.AuthContext, error)
}

// ScopeRequirements maps tool names to the scope each requires. Tools absent
// from the map require no scope.
type ScopeRequirements map[string]string

// DefaultScopeRequirements is the scope policy for the built-in tools.
// Status and help read paths require no scope.
func DefaultScopeRequirements() ScopeRequirements {
	return ScopeRequirements{
		ToolUploadData:        auth.ScopeProfile,
		ToolSuggestPreprocess: auth.ScopeProfile,
		ToolConfirmPreprocess: auth.ScopeProfile,
		ToolRunAnalysis:       auth.ScopeAnalyze,
	}
}

// Required returns the scope a tool needs, or "".
func (s ScopeRequirements) Required(tool string) string {
	return s[tool]
}

// MCPAuthMiddleware intercepts tools/call requests and enforces
// authentication and scope authorization. It must sit inner to
// MCPAuditMiddleware, which creates the CallContext it annotates.
//
// Policy: a presented credential must always verify, whatever the tool. A
// missing credential fails only tools that require a scope, so the status
// and help read paths stay reachable without a token. There is no silent
// fallback to anonymous access on verification failure.
func MCPAuthMiddleware(verifier TokenVerifier, scopes ScopeRequirements, metrics *Metrics) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}
			cc := GetCallContext(ctx)
			if cc == nil {
				return next(ctx, method, req)
			}

			required := scopes.Required(cc.ToolName)
			token := GetToken(ctx)

			if token == "" && required == "" {
				// Anonymous call to a scope-free tool.
				return next(ctx, method, req)
			}

			ac, err := verifier.Verify(ctx, token)
			if err != nil {
				resp := AuthErrorResponse(err, cc.AuditID)
				metrics.observeAuthFailure(resp.Error)
				return resp.Result(), nil
			}
			cc.Auth = ac

			if !ac.Scopes.Allows(required) {
				resp := ScopeDeniedResponse(required, cc.AuditID)
				metrics.observeAuthFailure(resp.Error)
				return resp.Result(), nil
			}

			return next(ctx, method, req)
		}
	}
}

// extractCallParams pulls the tool name and raw arguments from a tools/call
// request.
func extractCallParams(req mcp.Request) (*mcp.CallToolParamsRaw, error) {
	params := req.GetParams()
	if params == nil {
		return nil, fmt.Errorf("missing params")
	}
	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok || callParams == nil {
		return nil, fmt.Errorf("unexpected params type: %T", params)
	}
	if callParams.Name == "" {
		return nil, fmt.Errorf("missing tool name")
	}
	return callParams, nil
}
