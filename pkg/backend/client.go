// Package backend talks to the toorPIA analysis engine over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnreachable wraps transport-level failures so callers can map them to a
// single error code without inspecting net internals.
var ErrUnreachable = errors.New("analysis backend unreachable")

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20 // 10 MiB
)

// Preset is a preprocessing recipe candidate offered by the engine.
type Preset struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// DatasetProfile summarizes an uploaded dataset.
type DatasetProfile struct {
	DatasetID string   `json:"dataset_id"`
	RowCount  int64    `json:"row_count"`
	Columns   []Column `json:"columns"`
}

// Column describes one column of a dataset or processed artifact.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Manifest describes a processed artifact the caller claims to have produced.
type Manifest struct {
	URI      string   `json:"uri"`
	Checksum string   `json:"checksum"`
	RowCount int64    `json:"row_count"`
	Columns  []Column `json:"columns"`
}

// AnalysisType is an analysis the engine can run.
type AnalysisType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AnalysisResult is the outcome of a completed analysis run.
type AnalysisResult struct {
	OutputURI string          `json:"output_uri"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

// Client is the surface of the analysis engine the tools depend on.
type Client interface {
	// UploadCSV registers raw CSV content and returns its profile.
	UploadCSV(ctx context.Context, name string, data []byte) (*DatasetProfile, error)
	// SuggestPresets returns preprocessing candidates for a dataset.
	SuggestPresets(ctx context.Context, datasetID string) ([]Preset, error)
	// ValidateManifest checks a processed artifact against a preset.
	ValidateManifest(ctx context.Context, presetID string, m Manifest) error
	// ListAnalysisTypes returns the analyses the engine offers.
	ListAnalysisTypes(ctx context.Context) ([]AnalysisType, error)
	// RunAnalysis runs an analysis over a processed artifact.
	RunAnalysis(ctx context.Context, analysisType, processedURI string, params map[string]any) (*AnalysisResult, error)
	// Ping reports whether the engine is reachable.
	Ping(ctx context.Context) error
}

// Config holds HTTP client configuration.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient implements Client against the engine's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// New creates an HTTP client for the analysis engine.
func New(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base_url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *HTTPClient) UploadCSV(ctx context.Context, name string, data []byte) (*DatasetProfile, error) {
	body := map[string]any{"name": name, "content": data}
	var profile DatasetProfile
	if err := c.postJSON(ctx, "/datasets", body, &profile); err != nil {
		return nil, err
	}
	if profile.DatasetID == "" {
		return nil, fmt.Errorf("backend returned no dataset id")
	}
	return &profile, nil
}

func (c *HTTPClient) SuggestPresets(ctx context.Context, datasetID string) ([]Preset, error) {
	var out struct {
		Presets []Preset `json:"presets"`
	}
	path := "/datasets/" + datasetID + "/presets"
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Presets, nil
}

func (c *HTTPClient) ValidateManifest(ctx context.Context, presetID string, m Manifest) error {
	body := map[string]any{"preset_id": presetID, "manifest": m}
	return c.postJSON(ctx, "/manifests/validate", body, nil)
}

func (c *HTTPClient) ListAnalysisTypes(ctx context.Context) ([]AnalysisType, error) {
	var out struct {
		Types []AnalysisType `json:"types"`
	}
	if err := c.getJSON(ctx, "/analysis-types", &out); err != nil {
		return nil, err
	}
	return out.Types, nil
}

func (c *HTTPClient) RunAnalysis(ctx context.Context, analysisType, processedURI string, params map[string]any) (*AnalysisResult, error) {
	body := map[string]any{
		"type":          analysisType,
		"processed_uri": processedURI,
		"params":        params,
	}
	var result AnalysisResult
	if err := c.postJSON(ctx, "/analyses", body, &result); err != nil {
		return nil, err
	}
	if result.OutputURI == "" {
		return nil, fmt.Errorf("backend returned no output uri")
	}
	return &result, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, data, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// APIError is a non-5xx rejection from the engine, such as a manifest that
// fails validation.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend rejected request (status %d): %s", e.Status, e.Body)
}
