package platform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toorpia/toorpia-mcp-server/pkg/auth"
	"github.com/toorpia/toorpia-mcp-server/pkg/middleware"
	"github.com/toorpia/toorpia-mcp-server/pkg/session"
)

// stubVerifier resolves every non-empty credential to a fixed identity.
type stubVerifier struct {
	identity *auth.AuthContext
}

func (s *stubVerifier) Verify(_ context.Context, raw string) (*auth.AuthContext, error) {
	if raw == "" {
		return nil, auth.ErrTokenMissing
	}
	return s.identity, nil
}

func newSessionResources(t *testing.T, caller *auth.AuthContext) (*Resources, *session.Session) {
	t.Helper()
	store := session.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	sess, err := store.Create(context.Background(), "ds-1", []string{"preset-std"}, session.Owner{
		User:   "analyst@example.com",
		Tenant: "acme",
	})
	require.NoError(t, err)

	return NewResources(store, &stubVerifier{identity: caller}), sess
}

func ownerIdentity() *auth.AuthContext {
	return &auth.AuthContext{User: "analyst@example.com", Tenant: "acme"}
}

func readResource(t *testing.T, r *Resources, uri string) (*mcp.ReadResourceResult, error) {
	t.Helper()
	ctx := middleware.WithToken(context.Background(), "token-1")
	return r.handleSessionResource(ctx, &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: uri},
	})
}

func TestSessionResource(t *testing.T) {
	r, sess := newSessionResources(t, ownerIdentity())

	result, err := readResource(t, r, "toorpia://session/"+sess.ID)

	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var out sessionResourceResult
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &out))
	assert.Equal(t, sess.ID, out.SessionID)
	assert.Equal(t, "ds-1", out.DatasetID)
	assert.Equal(t, session.StateSuggested, out.State)
	assert.Equal(t, []string{"preset-std"}, out.Presets)

	// The projection must not leak owner identity or artifact location.
	assert.NotContains(t, result.Contents[0].Text, "analyst@example.com")
	assert.NotContains(t, result.Contents[0].Text, "owner")
}

func TestSessionResource_UnknownSession(t *testing.T) {
	r, _ := newSessionResources(t, ownerIdentity())

	_, err := readResource(t, r, "toorpia://session/unknown-id")

	assert.Error(t, err)
}

func TestSessionResource_ForeignOwnerSeesNotFound(t *testing.T) {
	r, sess := newSessionResources(t, &auth.AuthContext{User: "rival@example.com", Tenant: "acme"})

	_, err := readResource(t, r, "toorpia://session/"+sess.ID)

	// Indistinguishable from a session that does not exist.
	require.Error(t, err)
	assert.NotContains(t, err.Error(), string(session.StateSuggested))
}

func TestSessionResource_ForeignTenantSeesNotFound(t *testing.T) {
	r, sess := newSessionResources(t, &auth.AuthContext{User: "analyst@example.com", Tenant: "globex"})

	_, err := readResource(t, r, "toorpia://session/"+sess.ID)

	assert.Error(t, err)
}

func TestSessionResource_AnonymousSeesNotFound(t *testing.T) {
	r, sess := newSessionResources(t, ownerIdentity())

	// No bearer credential on the context.
	_, err := r.handleSessionResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "toorpia://session/" + sess.ID},
	})

	assert.Error(t, err)
}

func TestSessionResource_NonMatchingURI(t *testing.T) {
	r, _ := newSessionResources(t, ownerIdentity())

	_, err := readResource(t, r, "toorpia://dataset/ds-1")

	assert.Error(t, err)
}

func TestParseTemplateVars(t *testing.T) {
	vars, err := parseTemplateVars(sessionTemplateURI, "toorpia://session/abc-123")

	require.NoError(t, err)
	assert.Equal(t, "abc-123", vars["id"])
}
