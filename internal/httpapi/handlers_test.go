package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/checker-lobby/internal/config"
	"github.com/DoyleJ11/checker-lobby/internal/hub"
	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

func newTestServer(t *testing.T) (http.Handler, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx)
	cfg := config.Default()
	cfg.AssignmentTimeout = time.Second
	return SetupRoutes(h, cfg, zap.NewNop()), h
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func slotPath(id uuid.UUID, slot, op string) string {
	return "/api/sessions/" + id.String() + "/slots/" + slot + "/" + op
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code types.ErrorCode) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decodeBody[types.ErrorResponse](t, rec).Error)
}

func TestCreateSession(t *testing.T) {
	srv, h := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	created := decodeBody[types.SessionCreated](t, rec)
	assert.NotEqual(t, uuid.Nil, created.SessionID)
	assert.Equal(t, uuid.Version(7), created.SessionID.Version())

	lb, err := h.Get(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, lb)
}

func TestScenario_TwoPlayersOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uuid.New()

	rec := do(t, srv, http.MethodPost, slotPath(id, "0", "assign"), types.AssignRequest{Name: "Alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	alice := decodeBody[types.AssignmentResult](t, rec)
	assert.Equal(t, 0, alice.SlotIndex)
	require.NotEmpty(t, alice.Secret)

	rec = do(t, srv, http.MethodPost, slotPath(id, "0", "assign"), types.AssignRequest{Name: "Bob"})
	requireError(t, rec, http.StatusConflict, types.CodeAlreadyAssigned)

	rec = do(t, srv, http.MethodPost, slotPath(id, "1", "assign"), types.AssignRequest{Name: "Bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	bob := decodeBody[types.AssignmentResult](t, rec)
	assert.NotEqual(t, alice.Secret, bob.Secret)

	// Alice reloads.
	rec = do(t, srv, http.MethodPost, slotPath(id, "0", "reassign"), types.SecretRequest{Secret: alice.Secret})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, decodeBody[types.AssignmentResult](t, rec))

	// Bob tries to take over Alice's slot.
	rec = do(t, srv, http.MethodPost, slotPath(id, "0", "reassign"), types.SecretRequest{Secret: bob.Secret})
	requireError(t, rec, http.StatusForbidden, types.CodeInvalidSecret)

	rec = do(t, srv, http.MethodPost, slotPath(id, "0", "unassign"), types.SecretRequest{Secret: alice.Secret})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[types.SessionView](t, rec)
	assert.Equal(t, id, view.SessionID)
	require.Len(t, view.Slots, 2)
	assert.False(t, view.Slots[0].IsAssigned)
	assert.True(t, view.Slots[1].IsAssigned)
	assert.Equal(t, "Bob", *view.Slots[1].Name)
	assert.NotContains(t, rec.Body.String(), bob.Secret)
}

func TestAssignSlot_DefaultName(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uuid.New()

	rec := do(t, srv, http.MethodPost, slotPath(id, "1", "assign"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+id.String(), nil)
	view := decodeBody[types.SessionView](t, rec)
	require.NotNil(t, view.Slots[1].Name)
	assert.Equal(t, "Player", *view.Slots[1].Name)
}

func TestSlotErrors(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   types.ErrorCode
	}{
		{"assign out of range", http.MethodPost, slotPath(id, "2", "assign"), types.AssignRequest{Name: "x"}, http.StatusBadRequest, types.CodeInvalidSlot},
		{"assign negative", http.MethodPost, slotPath(id, "-1", "assign"), types.AssignRequest{Name: "x"}, http.StatusBadRequest, types.CodeInvalidSlot},
		{"non numeric slot", http.MethodPost, slotPath(id, "first", "assign"), types.AssignRequest{Name: "x"}, http.StatusBadRequest, types.CodeInvalidSlot},
		{"reassign empty slot", http.MethodPost, slotPath(id, "0", "reassign"), types.SecretRequest{Secret: "s"}, http.StatusBadRequest, types.CodeInvalidSlot},
		{"unassign empty slot", http.MethodPost, slotPath(id, "1", "unassign"), types.SecretRequest{Secret: "s"}, http.StatusBadRequest, types.CodeInvalidSlot},
		{"bad session id", http.MethodPost, "/api/sessions/not-a-uuid/slots/0/assign", types.AssignRequest{Name: "x"}, http.StatusBadRequest, types.CodeInvalidSession},
		{"bad session on get", http.MethodGet, "/api/sessions/nope", nil, http.StatusBadRequest, types.CodeInvalidSession},
		{"bad body", http.MethodPost, slotPath(id, "0", "assign"), "not an object", http.StatusBadRequest, types.CodeBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			rec := do(t, srv, tc.method, tc.path, tc.body)
			requireError(t, rec, tc.status, tc.code)
		})
	}
}

func TestUnassign_WrongSecretKeepsSlot(t *testing.T) {
	srv, _ := newTestServer(t)
	id := uuid.New()

	rec := do(t, srv, http.MethodPost, slotPath(id, "0", "assign"), types.AssignRequest{Name: "Alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, slotPath(id, "0", "unassign"), types.SecretRequest{Secret: "guess"})
	requireError(t, rec, http.StatusForbidden, types.CodeInvalidSecret)

	rec = do(t, srv, http.MethodPost, slotPath(id, "0", "unassign"), nil)
	requireError(t, rec, http.StatusForbidden, types.CodeInvalidSecret)

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+id.String(), nil)
	assert.True(t, decodeBody[types.SessionView](t, rec).Slots[0].IsAssigned)
}

func TestSessionQR(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/sessions/"+uuid.NewString()+"/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(t, srv, http.MethodGet, "/sessions/bogus/qr", nil)
	requireError(t, rec, http.StatusBadRequest, types.CodeInvalidSession)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHubClosed_ReturnsServerError(t *testing.T) {
	srv, h := newTestServer(t)
	h.Shutdown()

	rec := do(t, srv, http.MethodPost, "/api/sessions", nil)
	requireError(t, rec, http.StatusInternalServerError, types.CodeInternal)
}
