// Package session tracks each dataset's progress through the mandatory
// preprocessing workflow. It provides the Store interface for session
// registration and lookup, the state machine governing transitions, and the
// READY gate consulted before analysis execution.
package session

import "time"

// State is a session's position in the preparation workflow.
type State string

const (
	// StateRegistered is the conceptual starting point. Registration and
	// suggestion are fused into a single creation call, so no live session
	// observes this state.
	StateRegistered State = "REGISTERED"

	// StateProfiled is reserved for a future profiling step. No transition
	// produces it.
	StateProfiled State = "PROFILED"

	// StateSuggested means preprocessing presets have been offered.
	StateSuggested State = "SUGGESTED"

	// StateReady means processed data has been confirmed; analysis may run.
	StateReady State = "READY"

	// StateAnalyzed means analysis has completed for this session.
	StateAnalyzed State = "ANALYZED"
)

// stateOrder defines the strict forward progression.
var stateOrder = map[State]int{
	StateRegistered: 0,
	StateProfiled:   1,
	StateSuggested:  2,
	StateReady:      3,
	StateAnalyzed:   4,
}

// Valid reports whether s is a declared state.
func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// CanTransition reports whether the workflow permits moving from one state
// directly to the next. Only single forward steps are legal; PROFILED may be
// skipped since nothing produces it.
func CanTransition(from, to State) bool {
	fo, ok := stateOrder[from]
	if !ok {
		return false
	}
	to2, ok := stateOrder[to]
	if !ok {
		return false
	}
	step := to2 - fo
	if step == 1 {
		return true
	}
	// REGISTERED → SUGGESTED skips the reserved PROFILED state.
	return from == StateRegistered && to == StateSuggested
}

// Owner identifies the identity that created a session.
type Owner struct {
	User   string `json:"user"`
	Tenant string `json:"tenant"`
}

// ColumnSchema describes one column of the processed dataset.
type ColumnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ProcessedRecord describes the confirmed processed artifact. It is present
// if and only if the session has reached READY or ANALYZED.
type ProcessedRecord struct {
	URI           string         `json:"uri"`
	Checksum      string         `json:"checksum"`
	PresetID      string         `json:"preset_id"`
	ProfileID     string         `json:"profile_id,omitempty"`
	RecipeVersion string         `json:"recipe_version,omitempty"`
	RowCount      int            `json:"row_count"`
	Columns       []ColumnSchema `json:"columns,omitempty"`
}

// Session is the stateful record of one dataset's preparation.
type Session struct {
	ID                 string           `json:"session_id"`
	DatasetID          string           `json:"dataset_id"`
	State              State            `json:"state"`
	SuggestedPresetIDs []string         `json:"suggested_preset_ids"`
	Processed          *ProcessedRecord `json:"processed,omitempty"`
	Owner              Owner            `json:"owner"`
	CreatedAt          time.Time        `json:"created_at"`
}

// OwnedBy reports whether the session belongs to the given identity.
// Both user and tenant must match.
func (s *Session) OwnedBy(o Owner) bool {
	return s.Owner.User == o.User && s.Owner.Tenant == o.Tenant
}

// HasPreset reports whether the preset is in the fixed candidate list.
func (s *Session) HasPreset(presetID string) bool {
	for _, id := range s.SuggestedPresetIDs {
		if id == presetID {
			return true
		}
	}
	return false
}

// clone returns a deep copy so store callers never share mutable state.
func (s *Session) clone() *Session {
	out := *s
	out.SuggestedPresetIDs = append([]string(nil), s.SuggestedPresetIDs...)
	if s.Processed != nil {
		p := *s.Processed
		p.Columns = append([]ColumnSchema(nil), s.Processed.Columns...)
		out.Processed = &p
	}
	return &out
}
