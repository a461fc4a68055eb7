package middleware

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toorpia/toorpia-mcp-server/pkg/auth"
	"github.com/toorpia/toorpia-mcp-server/pkg/session"
)

// Error codes returned in structured error responses.
const (
	CodeAuthMissing     = "AUTHENTICATION_MISSING"
	CodeAuthInvalid     = "AUTHENTICATION_INVALID"
	CodeAuthUnavailable = "AUTHENTICATION_UNAVAILABLE"
	CodeAccessDenied    = "ACCESS_DENIED"

	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodePreprocessRequired = "PREPROCESS_REQUIRED"
	CodeInvalidManifest    = "INVALID_MANIFEST"

	CodeBackendUnreachable = "BACKEND_UNREACHABLE"
)

// Tool names referenced in remediation steps.
const (
	ToolUploadData        = "upload_data"
	ToolSuggestPreprocess = "suggest_preprocess"
	ToolConfirmPreprocess = "confirm_preprocessed"
	ToolRunAnalysis       = "run_analysis"
	ToolListAnalysisTypes = "list_analysis_types"
	ToolServerStatus      = "server_status"
)

// NextStep is a suggested remediation call with pre-filled arguments.
type NextStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ErrorResponse is the structured failure returned to the caller in lieu of
// a thrown error for all workflow and authorization failures.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Next    []NextStep `json:"next,omitempty"`
	AuditID string     `json:"audit_id"`
}

// NewErrorResponse builds a structured error.
func NewErrorResponse(code, message, auditID string, next ...NextStep) *ErrorResponse {
	return &ErrorResponse{
		Error:   code,
		Message: message,
		Next:    next,
		AuditID: auditID,
	}
}

// Result serializes the error as an MCP tool error result.
func (e *ErrorResponse) Result() *mcp.CallToolResult {
	data, err := json.Marshal(e)
	if err != nil {
		data = fmt.Appendf(nil, `{"error":%q,"audit_id":%q}`, e.Error, e.AuditID)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// AuthErrorResponse maps a verification failure onto its error code.
func AuthErrorResponse(err error, auditID string) *ErrorResponse {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return NewErrorResponse(CodeAuthMissing,
			"no bearer credential supplied", auditID)
	case errors.Is(err, auth.ErrKeysUnavailable):
		return NewErrorResponse(CodeAuthUnavailable,
			"verification keys could not be retrieved, try again later", auditID)
	default:
		return NewErrorResponse(CodeAuthInvalid,
			"credential rejected: "+err.Error(), auditID)
	}
}

// ScopeDeniedResponse is returned when a valid identity lacks the scope an
// operation requires. It deliberately carries no remediation.
func ScopeDeniedResponse(required, auditID string) *ErrorResponse {
	return NewErrorResponse(CodeAccessDenied,
		fmt.Sprintf("operation requires the %q scope", required), auditID)
}

// manifestTemplate is the argument shape suggested when the caller still has
// to confirm preprocessing.
func manifestTemplate(sessionID string, presetIDs []string) map[string]any {
	preset := "<preset-id>"
	if len(presetIDs) > 0 {
		preset = presetIDs[0]
	}
	return map[string]any{
		"session_id": sessionID,
		"preset_id":  preset,
		"manifest": map[string]any{
			"uri":       "<processed-data-uri>",
			"checksum":  "<sha256-of-processed-data>",
			"row_count": 0,
			"columns":   []map[string]string{{"name": "<column>", "type": "<type>"}},
		},
	}
}

// GateErrorResponse maps a gate rejection onto a structured error with the
// remediation appropriate for the session's current position in the
// workflow. ACCESS_DENIED offers none: an unauthorized caller must not learn
// whether or how far a session has progressed.
func GateErrorResponse(gerr *session.GateError, auditID string) *ErrorResponse {
	switch gerr.Reason {
	case session.GateAccessDenied:
		return NewErrorResponse(CodeAccessDenied,
			"you do not own this session", auditID)

	case session.GateNotReady:
		switch gerr.State {
		case session.StateRegistered:
			return NewErrorResponse(CodePreprocessRequired,
				"preprocessing has not been suggested for this dataset yet", auditID,
				NextStep{Tool: ToolSuggestPreprocess, Args: map[string]any{"dataset_id": gerr.DatasetID}},
			)
		case session.StateAnalyzed:
			// A finished session never goes backward; the only way forward
			// is a fresh session for the dataset.
			return NewErrorResponse(CodePreprocessRequired,
				"this session's analysis is complete; start a new session to run again", auditID,
				NextStep{Tool: ToolSuggestPreprocess, Args: map[string]any{"dataset_id": gerr.DatasetID}},
			)
		default:
			return NewErrorResponse(CodePreprocessRequired,
				"processed data has not been confirmed for this session", auditID,
				NextStep{Tool: ToolConfirmPreprocess, Args: manifestTemplate(gerr.SessionID, nil)},
			)
		}

	default:
		return SessionNotFoundResponse(auditID)
	}
}

// SessionNotFoundResponse points the caller back to the start of the workflow.
func SessionNotFoundResponse(auditID string) *ErrorResponse {
	return NewErrorResponse(CodeSessionNotFound,
		"no such session; start over from upload", auditID,
		NextStep{Tool: ToolUploadData, Args: map[string]any{}},
		NextStep{Tool: ToolSuggestPreprocess, Args: map[string]any{"dataset_id": "<dataset-id>"}},
	)
}

// InvalidManifestResponse rejects a confirmation whose preset is not in the
// session's fixed candidate list.
func InvalidManifestResponse(sessionID, presetID string, offered []string, auditID string) *ErrorResponse {
	return NewErrorResponse(CodeInvalidManifest,
		fmt.Sprintf("preset %q is not among the suggested presets", presetID), auditID,
		NextStep{Tool: ToolConfirmPreprocess, Args: manifestTemplate(sessionID, offered)},
	)
}

// BackendErrorResponse surfaces a collaborator failure without retrying.
func BackendErrorResponse(err error, auditID string) *ErrorResponse {
	return NewErrorResponse(CodeBackendUnreachable,
		"analysis backend error: "+err.Error(), auditID)
}
