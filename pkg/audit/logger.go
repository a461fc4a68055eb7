// Package audit provides the append-only invocation log. Every tool call,
// successful or failed, produces exactly one record, correlated with any
// error response through the per-call audit id. Input payloads are one-way
// hashed before storage; raw argument values never reach a record.
package audit

import (
	"context"
	"time"
)

// Logger appends audit records to a backing store.
type Logger interface {
	// Log appends one record. Implementations must never mutate or delete
	// previously written records.
	Log(ctx context.Context, rec Record) error

	// Close releases resources.
	Close() error
}

// Record is one entry per tool invocation attempt.
type Record struct {
	AuditID   string    `json:"audit_id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Tenant    string    `json:"tenant"`
	Scopes    []string  `json:"scopes,omitempty"`
	Tool      string    `json:"tool"`

	// InputHash is the one-way hash of the call's input payload.
	InputHash string `json:"input_hash"`

	PresetID  string `json:"preset_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	OutputURI string `json:"output_uri,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// QueryFilter defines criteria for querying stored records.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	User      string
	Tenant    string
	Tool      string
	SessionID string
	Success   *bool
	Limit     int
	Offset    int
}

// NopLogger discards all records. Used when auditing is disabled.
type NopLogger struct{}

// Log does nothing.
func (NopLogger) Log(_ context.Context, _ Record) error { return nil }

// Close does nothing.
func (NopLogger) Close() error { return nil }
