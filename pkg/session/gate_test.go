package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var strangerOwner = Owner{User: "intruder", Tenant: "tenant-b"}

func newGateFixture(t *testing.T) (*Gate, *MemoryStore, *Session) {
	t.Helper()
	store := NewMemoryStore(0)
	sess, err := store.Create(context.Background(), testDataset, testPresets, testOwner)
	require.NoError(t, err)
	return NewGate(store), store, sess
}

func TestGate_SessionNotFound(t *testing.T) {
	gate, _, _ := newGateFixture(t)

	_, gerr := gate.CheckReady(context.Background(), "unknown", testOwner)
	require.NotNil(t, gerr)
	assert.Equal(t, GateNotFound, gerr.Reason)
}

func TestGate_OwnershipCheckedBeforeState(t *testing.T) {
	gate, store, sess := newGateFixture(t)
	ctx := context.Background()

	// Regardless of the session's actual state, a foreign caller sees only
	// ACCESS_DENIED and learns nothing about the state.
	for _, advance := range []struct {
		state     State
		processed *ProcessedRecord
	}{
		{StateReady, testProcessed("a")},
		{StateAnalyzed, nil},
	} {
		_, gerr := gate.CheckReady(ctx, sess.ID, strangerOwner)
		require.NotNil(t, gerr)
		assert.Equal(t, GateAccessDenied, gerr.Reason)
		assert.Empty(t, gerr.State, "denial must not leak session state")
		assert.Empty(t, gerr.SessionID)

		require.True(t, store.Update(ctx, sess.ID, advance.state, advance.processed))
	}

	_, gerr := gate.CheckReady(ctx, sess.ID, strangerOwner)
	require.NotNil(t, gerr)
	assert.Equal(t, GateAccessDenied, gerr.Reason)
}

func TestGate_PreprocessRequiredFromSuggested(t *testing.T) {
	gate, _, sess := newGateFixture(t)

	_, gerr := gate.CheckReady(context.Background(), sess.ID, testOwner)
	require.NotNil(t, gerr)
	assert.Equal(t, GateNotReady, gerr.Reason)
	assert.Equal(t, StateSuggested, gerr.State)
	assert.Equal(t, sess.ID, gerr.SessionID)
	assert.Equal(t, testDataset, gerr.DatasetID)
}

func TestGate_PassesWhenReady(t *testing.T) {
	gate, store, sess := newGateFixture(t)
	ctx := context.Background()

	require.True(t, store.Update(ctx, sess.ID, StateReady, testProcessed("a")))

	got, gerr := gate.CheckReady(ctx, sess.ID, testOwner)
	require.Nil(t, gerr)
	require.NotNil(t, got)
	assert.Equal(t, StateReady, got.State)
	require.NotNil(t, got.Processed)
}

func TestGate_CheckOwned(t *testing.T) {
	gate, _, sess := newGateFixture(t)
	ctx := context.Background()

	got, gerr := gate.CheckOwned(ctx, sess.ID, testOwner)
	require.Nil(t, gerr)
	assert.Equal(t, sess.ID, got.ID)

	_, gerr = gate.CheckOwned(ctx, sess.ID, strangerOwner)
	require.NotNil(t, gerr)
	assert.Equal(t, GateAccessDenied, gerr.Reason)

	_, gerr = gate.CheckOwned(ctx, "unknown", testOwner)
	require.NotNil(t, gerr)
	assert.Equal(t, GateNotFound, gerr.Reason)
}
