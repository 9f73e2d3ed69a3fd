package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/KilianBerger/OpenLabHost/internal/api/websocket"
	"github.com/KilianBerger/OpenLabHost/internal/auth"
	"github.com/KilianBerger/OpenLabHost/internal/interfaces"
	"github.com/KilianBerger/OpenLabHost/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	mu        sync.Mutex
	stops     int
	shutdowns []bool
}

func (f *fakeController) Status() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "operational", Devices: 2}
}

func (f *fakeController) Devices() []interfaces.DeviceStatus {
	return []interfaces.DeviceStatus{
		{Name: "pump 1", Type: "pump", Port: 50051},
		{Name: "valve 1", Type: "valve", Port: 50052},
	}
}

func (f *fakeController) RequestStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeController) RequestShutdown(force bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, force)
}

func newTestServer(t *testing.T, tokenHash string) (*Server, *fakeController) {
	t.Helper()
	ctrl := &fakeController{}
	hub := websocket.NewHub(zap.NewNop())
	return NewServer(ctrl, hub, tokenHash, 0, zap.NewNop()), ctrl
}

func (s *Server) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := s.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := s.serve(httptest.NewRequest(http.MethodGet, "/api/v1/system/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var status interfaces.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "operational", status.State)
	assert.Equal(t, 2, status.Devices)
}

func TestDevicesEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := s.serve(httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Devices []interfaces.DeviceStatus `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Devices, 2)
	assert.Equal(t, "pump 1", body.Devices[0].Name)
}

func TestShutdownRequiresToken(t *testing.T) {
	token, hash, err := auth.GenerateToken()
	require.NoError(t, err)
	s, ctrl := newTestServer(t, hash)

	w := s.serve(httptest.NewRequest(http.MethodPost, "/api/v1/system/shutdown", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, ctrl.shutdowns)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "missing_token", resp.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/system/shutdown",
		strings.NewReader(`{"force": true}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w = s.serve(req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ctrl.shutdowns, 1)
	assert.True(t, ctrl.shutdowns[0])
}

func TestShutdownRejectsBadBody(t *testing.T) {
	token, hash, err := auth.GenerateToken()
	require.NoError(t, err)
	s, ctrl := newTestServer(t, hash)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/system/shutdown",
		strings.NewReader(`{"force": "definitely"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := s.serve(req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ctrl.shutdowns)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Message)
}

func TestStopRequiresToken(t *testing.T) {
	token, hash, err := auth.GenerateToken()
	require.NoError(t, err)
	s, ctrl := newTestServer(t, hash)

	w := s.serve(httptest.NewRequest(http.MethodPost, "/api/v1/system/stop", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/system/stop", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = s.serve(req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, ctrl.stops)
}
