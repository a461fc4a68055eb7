package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDatasetID = "ds-123"
	testPresetID  = "preset-std"
	testAPIKey    = "backend-key"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, APIKey: testAPIKey})
	require.NoError(t, err)
	return client
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHTTPClient_UploadCSV(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/datasets", r.URL.Path)
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sensors.csv", body["name"])

		json.NewEncoder(w).Encode(DatasetProfile{
			DatasetID: testDatasetID,
			RowCount:  42,
			Columns:   []Column{{Name: "temp", Type: "float"}},
		})
	})

	profile, err := client.UploadCSV(context.Background(), "sensors.csv", []byte("a,b\n1,2\n"))

	require.NoError(t, err)
	assert.Equal(t, testDatasetID, profile.DatasetID)
	assert.Equal(t, int64(42), profile.RowCount)
	require.Len(t, profile.Columns, 1)
	assert.Equal(t, "temp", profile.Columns[0].Name)
}

func TestHTTPClient_SuggestPresets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/"+testDatasetID+"/presets", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"presets": []Preset{
				{ID: testPresetID, Name: "standard", Confidence: 0.9},
				{ID: "preset-alt", Name: "aggressive", Confidence: 0.4},
			},
		})
	})

	presets, err := client.SuggestPresets(context.Background(), testDatasetID)

	require.NoError(t, err)
	require.Len(t, presets, 2)
	assert.Equal(t, testPresetID, presets[0].ID)
}

func TestHTTPClient_ValidateManifest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/manifests/validate", r.URL.Path)
		var body struct {
			PresetID string   `json:"preset_id"`
			Manifest Manifest `json:"manifest"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testPresetID, body.PresetID)
		assert.Equal(t, "s3://bucket/out.parquet", body.Manifest.URI)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.ValidateManifest(context.Background(), testPresetID, Manifest{
		URI:      "s3://bucket/out.parquet",
		Checksum: "abc",
		RowCount: 10,
	})

	assert.NoError(t, err)
}

func TestHTTPClient_ValidateManifestRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "checksum mismatch", http.StatusUnprocessableEntity)
	})

	err := client.ValidateManifest(context.Background(), testPresetID, Manifest{URI: "s3://x"})

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestHTTPClient_RunAnalysis(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyses", r.URL.Path)
		json.NewEncoder(w).Encode(AnalysisResult{OutputURI: "toorpia://analysis/run-1"})
	})

	result, err := client.RunAnalysis(context.Background(), "basemap", "s3://bucket/out.parquet", nil)

	require.NoError(t, err)
	assert.Equal(t, "toorpia://analysis/run-1", result.OutputURI)
}

func TestHTTPClient_RunAnalysisMissingOutputURI(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AnalysisResult{})
	})

	_, err := client.RunAnalysis(context.Background(), "basemap", "s3://x", nil)

	assert.Error(t, err)
}

func TestHTTPClient_ListAnalysisTypes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analysis-types", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"types": []AnalysisType{{ID: "basemap", Name: "Base Map"}},
		})
	})

	types, err := client.ListAnalysisTypes(context.Background())

	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "basemap", types[0].ID)
}

func TestHTTPClient_ServerErrorIsUnreachable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.ListAnalysisTypes(context.Background())

	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestHTTPClient_ConnectionRefusedIsUnreachable(t *testing.T) {
	client, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	assert.ErrorIs(t, client.Ping(context.Background()), ErrUnreachable)
}

func TestHTTPClient_Ping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	assert.NoError(t, client.Ping(context.Background()))
}
