package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toorpia/toorpia-mcp-server/pkg/audit"
)

// auditWriteTimeout bounds the synchronous audit write so a slow sink
// cannot stall tool responses indefinitely.
const auditWriteTimeout = 2 * time.Second

// MCPAuditMiddleware records every tools/call, whether it succeeds, fails
// authorization, or errors. It is the outermost middleware: it mints the
// audit ID and the CallContext that the auth middleware and tool handlers
// annotate, so a call rejected before its handler runs still leaves a
// record carrying the same audit ID the caller saw.
//
// An audit write failure is logged and counted but never fails the call.
func MCPAuditMiddleware(logger audit.Logger, metrics *Metrics) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			callParams, perr := extractCallParams(req)
			if perr != nil {
				// Malformed request; let the protocol layer reject it.
				return next(ctx, method, req)
			}

			cc := NewCallContext(uuid.NewString(), callParams.Name)
			ctx = WithCallContext(ctx, cc)

			result, err := next(ctx, method, req)

			rec := buildRecord(cc, callParams.Arguments, result, err)
			writeRecord(ctx, logger, metrics, rec)
			metrics.observeOutcome(cc.ToolName, rec.Success)

			return result, err
		}
	}
}

// buildRecord assembles the audit record for a finished call from the
// CallContext annotations and the outcome.
func buildRecord(cc *CallContext, args []byte, result mcp.Result, err error) audit.Record {
	rec := audit.NewRecord(cc.AuditID, cc.ToolName).
		WithInput(args).
		WithSession(cc.SessionID).
		WithPreset(cc.PresetID).
		WithOutput(cc.OutputURI)

	if cc.Auth != nil {
		rec.WithIdentity(cc.Auth.User, cc.Auth.Tenant, cc.Auth.Scopes.Strings())
	}

	durationMS := time.Since(cc.StartTime).Milliseconds()
	success, errMsg := callOutcome(result, err)
	rec.WithResult(success, errMsg, durationMS)
	return *rec
}

// callOutcome classifies a call's result. A transport error or an IsError
// tool result both count as failure; the first text content of a failed
// result becomes the audit error message.
func callOutcome(result mcp.Result, err error) (bool, string) {
	if err != nil {
		return false, err.Error()
	}
	toolResult, ok := result.(*mcp.CallToolResult)
	if !ok || toolResult == nil || !toolResult.IsError {
		return true, ""
	}
	for _, content := range toolResult.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			return false, text.Text
		}
	}
	return false, "tool error"
}

func writeRecord(ctx context.Context, logger audit.Logger, metrics *Metrics, rec audit.Record) {
	// Detach from the request context deadline but keep its values.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := logger.Log(writeCtx, rec); err != nil {
		metrics.observeAuditError()
		slog.Warn("audit write failed",
			"audit_id", rec.AuditID,
			"tool", rec.Tool,
			"error", err)
	}
}
