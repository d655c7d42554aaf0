package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcastell/convo/internal/config"
	"github.com/mcastell/convo/internal/engine"
	"github.com/mcastell/convo/internal/flow"
	"github.com/mcastell/convo/internal/store"
)

type fakeHandler struct {
	inbound []engine.Inbound
	err     error
}

func (f *fakeHandler) HandleInbound(_ context.Context, msg engine.Inbound) error {
	if f.err != nil {
		return f.err
	}
	f.inbound = append(f.inbound, msg)
	return nil
}

func (f *fakeHandler) PendingTurns() int { return len(f.inbound) }

type fakeAdmin struct {
	global     bool
	userActive map[string]bool
	flows      []flow.Definition
	history    map[string][]store.HistoryEntry
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		userActive: map[string]bool{},
		history:    map[string][]store.HistoryEntry{},
	}
}

func (f *fakeAdmin) GlobalActive(context.Context) (bool, error) { return f.global, nil }

func (f *fakeAdmin) SetGlobalActive(_ context.Context, active bool) error {
	f.global = active
	return nil
}

func (f *fakeAdmin) UserActive(_ context.Context, phone string) (bool, error) {
	return f.userActive[phone], nil
}

func (f *fakeAdmin) SetUserActive(_ context.Context, phone string, active bool) error {
	f.userActive[phone] = active
	return nil
}

func (f *fakeAdmin) Messages(_ context.Context, phone string) ([]store.HistoryEntry, error) {
	return f.history[phone], nil
}

func (f *fakeAdmin) SaveFlow(_ context.Context, def flow.Definition) error {
	f.flows = append(f.flows, def)
	return nil
}

func (f *fakeAdmin) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeHandler, *fakeAdmin) {
	t.Helper()
	config.Set(config.DefaultConfig())
	handler := &fakeHandler{}
	admin := newFakeAdmin()
	return NewServer(handler, admin, nil, time.UTC), handler, admin
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(w, req)
	return w
}

func TestMessagesEndpointFeedsPipeline(t *testing.T) {
	s, handler, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/messages",
		`{"messageId":"m1","from":"5218112345678","name":"Ana","text":"hola"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, handler.inbound, 1)
	assert.Equal(t, "hola", handler.inbound[0].Text)
}

func TestMessagesEndpointRejectsEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/messages", `{"from":"","text":""}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSimulateGeneratesMessageID(t *testing.T) {
	s, handler, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/simulate", `{"from":"111","text":"hola","fromSelf":true}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, handler.inbound, 1)
	assert.True(t, strings.HasPrefix(handler.inbound[0].MessageID, "sim_"))
	assert.False(t, handler.inbound[0].FromSelf, "simulated traffic always plays the customer")
}

func TestActivationTogglesState(t *testing.T) {
	s, _, admin := newTestServer(t)

	w := do(s, http.MethodPost, "/v1/activation", `{"scope":"global","active":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, admin.global)

	w = do(s, http.MethodPost, "/v1/activation", `{"scope":"user","phone":"111","active":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, admin.userActive["111"])

	w = do(s, http.MethodPost, "/v1/activation", `{"scope":"everything","active":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStateReportsBothToggles(t *testing.T) {
	s, _, admin := newTestServer(t)
	admin.global = true
	admin.userActive["111"] = false

	w := do(s, http.MethodGet, "/v1/state?phone=111", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"globalActive":true`)
	assert.Contains(t, w.Body.String(), `"userActive":false`)
	assert.Contains(t, w.Body.String(), `"active":false`)
}

func TestExportReturnsCSV(t *testing.T) {
	s, _, admin := newTestServer(t)
	admin.history["111"] = []store.HistoryEntry{
		{Sender: store.SenderCustomer, Message: "hola", At: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)},
	}

	w := do(s, http.MethodGet, "/v1/export/111", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "fecha,remitente,mensaje")
	assert.Contains(t, w.Body.String(), "Cliente,hola")
}

func TestSaveFlowRejectsReservedName(t *testing.T) {
	s, _, admin := newTestServer(t)

	w := do(s, http.MethodPut, "/v1/flows", `{"name":"agendar_cita","enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodPut, "/v1/flows", `{"name":"precios","enabled":true,"prompt":"precios de servicios"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, admin.flows, 1)
	assert.Equal(t, "precios", admin.flows[0].Name)
}

func TestAuthMiddlewareEnforcesToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	cfg := config.Get()
	cfg.Gateway.Auth.Token = "secreto"
	config.Set(cfg)

	w := do(s, http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer secreto")
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	wHealth := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, wHealth.Code, "health stays open")
}
