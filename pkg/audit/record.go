package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// NewRecord starts a record for the given call. The audit id is generated by
// the dispatcher before authorization is attempted, so a failing call can
// still hand the caller an id that matches its log line.
func NewRecord(auditID, tool string) *Record {
	return &Record{
		AuditID:   auditID,
		Timestamp: time.Now(),
		Tool:      tool,
	}
}

// WithIdentity attaches the resolved identity.
func (r *Record) WithIdentity(user, tenant string, scopes []string) *Record {
	r.User = user
	r.Tenant = tenant
	r.Scopes = scopes
	return r
}

// WithInput attaches the one-way hash of the raw input payload.
func (r *Record) WithInput(raw []byte) *Record {
	r.InputHash = HashInput(raw)
	return r
}

// WithSession attaches the session id the call operated on.
func (r *Record) WithSession(sessionID string) *Record {
	r.SessionID = sessionID
	return r
}

// WithPreset attaches the preset id the call chose.
func (r *Record) WithPreset(presetID string) *Record {
	r.PresetID = presetID
	return r
}

// WithOutput attaches the produced output location.
func (r *Record) WithOutput(uri string) *Record {
	r.OutputURI = uri
	return r
}

// WithResult attaches the outcome.
func (r *Record) WithResult(success bool, errMsg string, durationMS int64) *Record {
	r.Success = success
	r.ErrorMessage = errMsg
	r.DurationMS = durationMS
	return r
}

// HashInput produces the hex-encoded one-way hash stored in place of raw
// input payloads, which may contain sensitive data.
func HashInput(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
