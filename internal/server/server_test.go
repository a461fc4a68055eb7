package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toorpia/toorpia-mcp-server/pkg/audit"
	"github.com/toorpia/toorpia-mcp-server/pkg/platform"
)

// fakeEngine serves the REST endpoints the backend client expects.
func fakeEngine(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /datasets", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"dataset_id": "ds-1", "row_count": 10})
	})
	mux.HandleFunc("GET /datasets/ds-1/presets", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"presets": []map[string]any{{"id": "preset-std", "name": "standard"}},
		})
	})
	mux.HandleFunc("POST /manifests/validate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /analyses", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"output_uri": "toorpia://analysis/out-1"})
	})
	mux.HandleFunc("GET /analysis-types", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"types": []map[string]any{{"id": "basemap", "name": "Base Map"}},
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	engine := fakeEngine(t)
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")

	cfg := &platform.Config{}
	cfg.Auth.DevBypass = true
	cfg.Audit.Backend = "file"
	cfg.Audit.Path = auditPath
	cfg.Backend.BaseURL = engine.URL
	cfg.Metrics.Enabled = true
	cfg.Server.Name = "toorpia-mcp-server"
	cfg.Server.Transport = "stdio"
	cfg.Server.Address = ":0"
	cfg.Sessions.Retention = time.Hour
	cfg.Sessions.SweepInterval = time.Hour

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, auditPath
}

func connectSession(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	t1, t2 := mcp.NewInMemoryTransports()
	_, err := s.MCP().Connect(ctx, t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	require.False(t, result.IsError, "tool error: %s", text.Text)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func readAuditRecords(t *testing.T, path string) []audit.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec audit.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestServer_ListsAllTools(t *testing.T) {
	s, _ := newTestServer(t)
	session := connectSession(t, s)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"upload_data", "suggest_preprocess", "confirm_preprocessed",
		"run_analysis", "list_analysis_types", "server_status",
	}, names)
}

func TestServer_FullWorkflow(t *testing.T) {
	s, auditPath := newTestServer(t)
	session := connectSession(t, s)

	upload := callTool(t, session, "upload_data", map[string]any{
		"name":    "sensors.csv",
		"content": "a,b\n1,2\n",
	})
	assert.Equal(t, "ds-1", upload["dataset_id"])

	suggest := callTool(t, session, "suggest_preprocess", map[string]any{
		"dataset_id": "ds-1",
	})
	sessionID, ok := suggest["session_id"].(string)
	require.True(t, ok)
	assert.Equal(t, "SUGGESTED", suggest["state"])

	confirm := callTool(t, session, "confirm_preprocessed", map[string]any{
		"session_id": sessionID,
		"preset_id":  "preset-std",
		"manifest": map[string]any{
			"uri":       "s3://bucket/out.parquet",
			"checksum":  "abc123",
			"row_count": 9,
		},
	})
	assert.Equal(t, "READY", confirm["state"])

	run := callTool(t, session, "run_analysis", map[string]any{
		"session_id":    sessionID,
		"analysis_type": "basemap",
	})
	assert.Equal(t, "ANALYZED", run["state"])
	assert.Equal(t, "toorpia://analysis/out-1", run["output_uri"])

	// One audit record per call, in order, all attributed to the bypass
	// identity with input hashes instead of payloads.
	records := readAuditRecords(t, auditPath)
	require.Len(t, records, 4)
	tools := []string{}
	for _, rec := range records {
		tools = append(tools, rec.Tool)
		assert.True(t, rec.Success)
		assert.Equal(t, "dev", rec.User)
		assert.Len(t, rec.InputHash, 64)
	}
	assert.Equal(t, []string{"upload_data", "suggest_preprocess", "confirm_preprocessed", "run_analysis"}, tools)
	assert.Equal(t, sessionID, records[3].SessionID)
	assert.Equal(t, "toorpia://analysis/out-1", records[3].OutputURI)
}

func TestServer_GateRejectionAudited(t *testing.T) {
	s, auditPath := newTestServer(t)
	session := connectSession(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "run_analysis",
		Arguments: map[string]any{
			"session_id":    "missing",
			"analysis_type": "basemap",
		},
	})
	require.NoError(t, err)
	require.True(t, result.IsError)

	text := result.Content[0].(*mcp.TextContent).Text
	var resp struct {
		Error   string `json:"error"`
		AuditID string `json:"audit_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "SESSION_NOT_FOUND", resp.Error)

	records := readAuditRecords(t, auditPath)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, resp.AuditID, records[0].AuditID)
}

func TestServer_ServerStatus(t *testing.T) {
	s, _ := newTestServer(t)
	session := connectSession(t, s)

	status := callTool(t, session, "server_status", nil)

	assert.Equal(t, "toorpia-mcp-server", status["name"])
	assert.Equal(t, true, status["dev_bypass"])
	assert.Equal(t, "file", status["audit_backend"])
	assert.Equal(t, "ok", status["backend"])
}

func TestServer_SessionResource(t *testing.T) {
	s, _ := newTestServer(t)
	session := connectSession(t, s)

	suggest := callTool(t, session, "suggest_preprocess", map[string]any{"dataset_id": "ds-1"})
	sessionID := suggest["session_id"].(string)

	result, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{
		URI: "toorpia://session/" + sessionID,
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Contains(t, result.Contents[0].Text, "SUGGESTED")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := &platform.Config{}
	cfg.Server.Transport = "stdio"
	// No auth source, no backend URL.
	_, err := New(cfg)
	assert.Error(t, err)
}
