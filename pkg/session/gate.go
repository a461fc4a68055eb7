package session

import (
	"context"
	"log/slog"
)

// GateReason classifies a gate rejection.
type GateReason int

const (
	// GateNotFound means no session exists with the given id.
	GateNotFound GateReason = iota

	// GateAccessDenied means the session exists but belongs to someone else.
	// The rejection carries no session details so an unauthorized caller
	// learns nothing, not even the current state.
	GateAccessDenied

	// GateNotReady means the caller owns the session but preprocessing has
	// not been completed.
	GateNotReady
)

// GateError describes why the gate rejected a call. State, SessionID, and
// DatasetID are populated only for GateNotReady so the dispatcher can build
// a remediation pointing at the correct next step.
type GateError struct {
	Reason    GateReason
	State     State
	SessionID string
	DatasetID string
}

// Gate is the authorization and state check that must pass before analysis
// can execute.
type Gate struct {
	store Store
}

// NewGate creates a gate over the given store.
func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// CheckReady returns the session if analysis may proceed. Checks run in
// strict order: existence, then ownership, then state. Ownership is decided
// before state is ever inspected.
func (g *Gate) CheckReady(ctx context.Context, sessionID string, caller Owner) (*Session, *GateError) {
	sess, gerr := g.CheckOwned(ctx, sessionID, caller)
	if gerr != nil {
		return nil, gerr
	}

	if sess.State != StateReady {
		slog.Warn("gate: session not ready for analysis",
			"session_id", sessionID,
			"state", sess.State,
		)
		return nil, &GateError{
			Reason:    GateNotReady,
			State:     sess.State,
			SessionID: sess.ID,
			DatasetID: sess.DatasetID,
		}
	}

	return sess, nil
}

// CheckOwned returns the session if it exists and belongs to the caller.
// Used by the confirmation step, which has its own state requirements.
func (g *Gate) CheckOwned(ctx context.Context, sessionID string, caller Owner) (*Session, *GateError) {
	sess, err := g.store.Get(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, &GateError{Reason: GateNotFound}
	}

	if !sess.OwnedBy(caller) {
		slog.Warn("gate: ownership mismatch",
			"session_id", sessionID,
			"caller_user", caller.User,
			"caller_tenant", caller.Tenant,
		)
		return nil, &GateError{Reason: GateAccessDenied}
	}

	return sess, nil
}
