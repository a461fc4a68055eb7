// Package toolkit defines the MCP tools for the toorPIA analysis workflow.
package toolkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toorpia/toorpia-mcp-server/pkg/backend"
	"github.com/toorpia/toorpia-mcp-server/pkg/middleware"
	"github.com/toorpia/toorpia-mcp-server/pkg/session"
)

// Toolkit owns the workflow tools and their collaborators.
type Toolkit struct {
	store   session.Store
	gate    *session.Gate
	backend backend.Client
	metrics *middleware.Metrics

	status StatusInfo
}

// StatusInfo is static server information reported by server_status.
type StatusInfo struct {
	Name         string
	Version      string
	AuditBackend string
	DevBypass    bool
}

// New creates the toolkit. Metrics may be nil.
func New(store session.Store, client backend.Client, metrics *middleware.Metrics, status StatusInfo) (*Toolkit, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("backend client is required")
	}
	return &Toolkit{
		store:   store,
		gate:    session.NewGate(store),
		backend: client,
		metrics: metrics,
		status:  status,
	}, nil
}

// RegisterTools registers all workflow tools with the MCP server.
func (t *Toolkit) RegisterTools(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: middleware.ToolUploadData,
		Description: "Uploads CSV data to the analysis engine and returns the dataset id " +
			"and a profile of its columns. Call suggest_preprocess next.",
	}, t.handleUploadData)

	mcp.AddTool(s, &mcp.Tool{
		Name: middleware.ToolSuggestPreprocess,
		Description: "Suggests preprocessing presets for an uploaded dataset and opens a " +
			"workflow session. Any earlier session for the same dataset is superseded.",
	}, t.handleSuggestPreprocess)

	mcp.AddTool(s, &mcp.Tool{
		Name: middleware.ToolConfirmPreprocess,
		Description: "Confirms that preprocessing was performed with one of the suggested " +
			"presets, registering the processed artifact's manifest. Required before run_analysis.",
	}, t.handleConfirmPreprocessed)

	mcp.AddTool(s, &mcp.Tool{
		Name: middleware.ToolRunAnalysis,
		Description: "Runs an analysis over confirmed processed data. The session must be " +
			"READY; otherwise the error response names the step still outstanding.",
	}, t.handleRunAnalysis)

	mcp.AddTool(s, &mcp.Tool{
		Name:        middleware.ToolListAnalysisTypes,
		Description: "Lists the analysis types the engine offers.",
	}, t.handleListAnalysisTypes)

	mcp.AddTool(s, &mcp.Tool{
		Name:        middleware.ToolServerStatus,
		Description: "Reports server version, live session count, and audit configuration.",
	}, t.handleServerStatus)
}

// Tools returns the registered tool names.
func (*Toolkit) Tools() []string {
	return []string{
		middleware.ToolUploadData,
		middleware.ToolSuggestPreprocess,
		middleware.ToolConfirmPreprocess,
		middleware.ToolRunAnalysis,
		middleware.ToolListAnalysisTypes,
		middleware.ToolServerStatus,
	}
}

// Close releases toolkit resources.
func (*Toolkit) Close() error {
	return nil
}

type uploadDataInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type uploadDataOutput struct {
	DatasetID string           `json:"dataset_id"`
	RowCount  int64            `json:"row_count"`
	Columns   []backend.Column `json:"columns,omitempty"`
	NextTool  string           `json:"next_tool"`
}

func (t *Toolkit) handleUploadData(ctx context.Context, _ *mcp.CallToolRequest, input uploadDataInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" || input.Content == "" {
		return errorResult("name and content are required"), nil, nil
	}

	profile, err := t.backend.UploadCSV(ctx, input.Name, []byte(input.Content))
	if err != nil {
		return t.backendFailure(ctx, err), nil, nil
	}

	return successResult(uploadDataOutput{
		DatasetID: profile.DatasetID,
		RowCount:  profile.RowCount,
		Columns:   profile.Columns,
		NextTool:  middleware.ToolSuggestPreprocess,
	})
}

type suggestPreprocessInput struct {
	DatasetID string `json:"dataset_id"`
}

type suggestPreprocessOutput struct {
	SessionID string           `json:"session_id"`
	State     session.State    `json:"state"`
	Presets   []backend.Preset `json:"presets"`
	NextTool  string           `json:"next_tool"`
}

func (t *Toolkit) handleSuggestPreprocess(ctx context.Context, _ *mcp.CallToolRequest, input suggestPreprocessInput) (*mcp.CallToolResult, any, error) {
	if input.DatasetID == "" {
		return errorResult("dataset_id is required"), nil, nil
	}
	cc := callCtx(ctx)

	presets, err := t.backend.SuggestPresets(ctx, input.DatasetID)
	if err != nil {
		return t.backendFailure(ctx, err), nil, nil
	}
	if len(presets) == 0 {
		return errorResult("no preprocessing presets are available for dataset " + input.DatasetID), nil, nil
	}

	presetIDs := make([]string, 0, len(presets))
	for _, p := range presets {
		presetIDs = append(presetIDs, p.ID)
	}

	user, tenant := cc.Owner()
	sess, err := t.store.Create(ctx, input.DatasetID, presetIDs, session.Owner{User: user, Tenant: tenant})
	if err != nil {
		return errorResult("creating session: " + err.Error()), nil, nil
	}
	cc.SessionID = sess.ID

	return successResult(suggestPreprocessOutput{
		SessionID: sess.ID,
		State:     sess.State,
		Presets:   presets,
		NextTool:  middleware.ToolConfirmPreprocess,
	})
}

type manifestInput struct {
	URI           string                 `json:"uri"`
	Checksum      string                 `json:"checksum"`
	RowCount      int64                  `json:"row_count"`
	Columns       []session.ColumnSchema `json:"columns,omitempty"`
	ProfileID     string                 `json:"profile_id,omitempty"`
	RecipeVersion string                 `json:"recipe_version,omitempty"`
}

type confirmPreprocessedInput struct {
	SessionID string        `json:"session_id"`
	PresetID  string        `json:"preset_id"`
	Manifest  manifestInput `json:"manifest"`
}

type confirmPreprocessedOutput struct {
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
	NextTool  string        `json:"next_tool"`
}

func (t *Toolkit) handleConfirmPreprocessed(ctx context.Context, _ *mcp.CallToolRequest, input confirmPreprocessedInput) (*mcp.CallToolResult, any, error) {
	cc := callCtx(ctx)
	if input.SessionID == "" || input.PresetID == "" {
		return errorResult("session_id and preset_id are required"), nil, nil
	}
	cc.SessionID = input.SessionID
	cc.PresetID = input.PresetID

	user, tenant := cc.Owner()
	sess, gerr := t.gate.CheckOwned(ctx, input.SessionID, session.Owner{User: user, Tenant: tenant})
	if gerr != nil {
		resp := middleware.GateErrorResponse(gerr, cc.AuditID)
		t.metrics.ObserveGateRejection(resp.Error)
		return resp.Result(), nil, nil
	}

	if !sess.HasPreset(input.PresetID) {
		resp := middleware.InvalidManifestResponse(sess.ID, input.PresetID, sess.SuggestedPresetIDs, cc.AuditID)
		t.metrics.ObserveGateRejection(resp.Error)
		return resp.Result(), nil, nil
	}
	if input.Manifest.URI == "" || input.Manifest.Checksum == "" || input.Manifest.RowCount <= 0 {
		resp := middleware.InvalidManifestResponse(sess.ID, input.PresetID, sess.SuggestedPresetIDs, cc.AuditID)
		t.metrics.ObserveGateRejection(resp.Error)
		return resp.Result(), nil, nil
	}

	columns := make([]backend.Column, 0, len(input.Manifest.Columns))
	for _, c := range input.Manifest.Columns {
		columns = append(columns, backend.Column{Name: c.Name, Type: c.Type})
	}
	err := t.backend.ValidateManifest(ctx, input.PresetID, backend.Manifest{
		URI:      input.Manifest.URI,
		Checksum: input.Manifest.Checksum,
		RowCount: input.Manifest.RowCount,
		Columns:  columns,
	})
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		resp := middleware.InvalidManifestResponse(sess.ID, input.PresetID, sess.SuggestedPresetIDs, cc.AuditID)
		t.metrics.ObserveGateRejection(resp.Error)
		return resp.Result(), nil, nil
	case err != nil:
		return t.backendFailure(ctx, err), nil, nil
	}

	processed := &session.ProcessedRecord{
		URI:           input.Manifest.URI,
		Checksum:      input.Manifest.Checksum,
		PresetID:      input.PresetID,
		ProfileID:     input.Manifest.ProfileID,
		RecipeVersion: input.Manifest.RecipeVersion,
		RowCount:      int(input.Manifest.RowCount),
		Columns:       input.Manifest.Columns,
	}
	if !t.store.Update(ctx, sess.ID, session.StateReady, processed) {
		// Lost a race or the session already advanced past SUGGESTED.
		return errorResult("session is not awaiting confirmation"), nil, nil
	}

	return successResult(confirmPreprocessedOutput{
		SessionID: sess.ID,
		State:     session.StateReady,
		NextTool:  middleware.ToolRunAnalysis,
	})
}

type runAnalysisInput struct {
	SessionID    string         `json:"session_id"`
	AnalysisType string         `json:"analysis_type"`
	Params       map[string]any `json:"params,omitempty"`
}

type runAnalysisOutput struct {
	SessionID string          `json:"session_id"`
	State     session.State   `json:"state"`
	OutputURI string          `json:"output_uri"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

func (t *Toolkit) handleRunAnalysis(ctx context.Context, _ *mcp.CallToolRequest, input runAnalysisInput) (*mcp.CallToolResult, any, error) {
	cc := callCtx(ctx)
	if input.SessionID == "" || input.AnalysisType == "" {
		return errorResult("session_id and analysis_type are required"), nil, nil
	}
	cc.SessionID = input.SessionID

	user, tenant := cc.Owner()
	sess, gerr := t.gate.CheckReady(ctx, input.SessionID, session.Owner{User: user, Tenant: tenant})
	if gerr != nil {
		resp := middleware.GateErrorResponse(gerr, cc.AuditID)
		t.metrics.ObserveGateRejection(resp.Error)
		return resp.Result(), nil, nil
	}
	cc.PresetID = sess.Processed.PresetID

	result, err := t.backend.RunAnalysis(ctx, input.AnalysisType, sess.Processed.URI, input.Params)
	if err != nil {
		return t.backendFailure(ctx, err), nil, nil
	}
	cc.OutputURI = result.OutputURI

	if !t.store.Update(ctx, sess.ID, session.StateAnalyzed, nil) {
		// The analysis itself succeeded; stale state only affects replays.
		slog.Warn("session already advanced past READY", "session_id", sess.ID)
	}

	return successResult(runAnalysisOutput{
		SessionID: sess.ID,
		State:     session.StateAnalyzed,
		OutputURI: result.OutputURI,
		Summary:   result.Summary,
	})
}

type listAnalysisTypesInput struct{}

type listAnalysisTypesOutput struct {
	Types []backend.AnalysisType `json:"types"`
}

func (t *Toolkit) handleListAnalysisTypes(ctx context.Context, _ *mcp.CallToolRequest, _ listAnalysisTypesInput) (*mcp.CallToolResult, any, error) {
	types, err := t.backend.ListAnalysisTypes(ctx)
	if err != nil {
		return t.backendFailure(ctx, err), nil, nil
	}
	return successResult(listAnalysisTypesOutput{Types: types})
}

type serverStatusInput struct{}

type serverStatusOutput struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Sessions     int    `json:"sessions"`
	AuditBackend string `json:"audit_backend"`
	DevBypass    bool   `json:"dev_bypass"`
	Backend      string `json:"backend"`
}

func (t *Toolkit) handleServerStatus(ctx context.Context, _ *mcp.CallToolRequest, _ serverStatusInput) (*mcp.CallToolResult, any, error) {
	backendState := "ok"
	if err := t.backend.Ping(ctx); err != nil {
		backendState = "unreachable"
	}
	return successResult(serverStatusOutput{
		Name:         t.status.Name,
		Version:      t.status.Version,
		Sessions:     t.store.Count(ctx),
		AuditBackend: t.status.AuditBackend,
		DevBypass:    t.status.DevBypass,
		Backend:      backendState,
	})
}

// backendFailure maps a collaborator error onto the structured error result.
func (t *Toolkit) backendFailure(ctx context.Context, err error) *mcp.CallToolResult {
	return middleware.BackendErrorResponse(err, callCtx(ctx).AuditID).Result()
}

// callCtx returns the per-call context, or an inert one when the call did
// not pass through the audit middleware.
func callCtx(ctx context.Context) *middleware.CallContext {
	if cc := middleware.GetCallContext(ctx); cc != nil {
		return cc
	}
	return &middleware.CallContext{}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(`{"error": %q}`, msg)},
		},
		IsError: true,
	}
}

func successResult(output any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(output)
	if err != nil {
		return errorResult("internal error marshaling response"), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, output, nil
}
