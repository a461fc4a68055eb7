package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/toorpia/toorpia-mcp-server/pkg/middleware"
	"github.com/toorpia/toorpia-mcp-server/pkg/session"
)

// sessionTemplateURI addresses one workflow session.
const sessionTemplateURI = "toorpia://session/{id}"

// Resources exposes read-only MCP resources over the session store. Reads
// are scoped to the session owner; everyone else gets not-found, so the
// resource never reveals whether or how far a foreign session has
// progressed.
type Resources struct {
	store    session.Store
	verifier middleware.TokenVerifier
}

// NewResources creates the resource provider.
func NewResources(store session.Store, verifier middleware.TokenVerifier) *Resources {
	return &Resources{store: store, verifier: verifier}
}

// Register registers the resource templates with the MCP server.
func (r *Resources) Register(s *mcp.Server) {
	s.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: sessionTemplateURI,
		Name:        "Workflow Session",
		Description: "A dataset's progress through the preprocessing workflow: state, dataset, and suggested presets.",
		MIMEType:    "application/json",
	}, r.handleSessionResource)
}

// sessionResourceResult is the public projection of a session. Owner identity
// and the processed artifact location stay internal.
type sessionResourceResult struct {
	SessionID string        `json:"session_id"`
	DatasetID string        `json:"dataset_id"`
	State     session.State `json:"state"`
	Presets   []string      `json:"suggested_preset_ids,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (r *Resources) handleSessionResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(sessionTemplateURI, uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	id := vars["id"]
	if id == "" {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	caller, err := r.verifier.Verify(ctx, middleware.GetToken(ctx))
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	sess, err := r.store.Get(ctx, id)
	if err != nil || sess == nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}
	if sess.Owner.User != caller.User || sess.Owner.Tenant != caller.Tenant {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	return marshalResourceResult(uri, sessionResourceResult{
		SessionID: sess.ID,
		DatasetID: sess.DatasetID,
		State:     sess.State,
		Presets:   sess.SuggestedPresetIDs,
		CreatedAt: sess.CreatedAt,
	})
}

// parseTemplateVars extracts named variables from a URI using a URI template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("uri %q does not match template %q", uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		result[name] = match.Get(name).String()
	}
	return result, nil
}

func marshalResourceResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
