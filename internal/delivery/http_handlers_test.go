package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/internal/networks"
	"affsync/internal/usecase"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAdapter struct{}

func (echoAdapter) Name() string { return "echo" }
func (a echoAdapter) Config() domain.AdapterConfig {
	return domain.AdapterConfig{Kind: domain.AuthTokenBearer, Fields: a.RequiredFields(), PrimaryFields: []string{"api_key"}}
}
func (echoAdapter) RequiredFields() []domain.FieldSpec {
	return []domain.FieldSpec{{Name: "api_key", Label: "API key", Type: "password", Required: true}}
}
func (echoAdapter) DefaultConfig() domain.SyncConfig {
	return domain.SyncConfig{DateFrom: "2024-01-01", DateTo: "2024-01-31", MaxPages: 1, PageSize: 10}
}
func (a echoAdapter) ValidateCredentials(creds domain.Credentials) domain.ValidationResult {
	return networks.Validate(a.RequiredFields(), creds)
}
func (echoAdapter) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if creds.Get("api_key") != "good" {
		return domain.ConnectionResult{Message: "Authentication failed: api key rejected", ErrorKind: "authentication_failed"}
	}
	return domain.ConnectionResult{Success: true, Message: "Connection successful", Data: map[string]any{domain.SessionAccessToken: "tok"}}
}
func (echoAdapter) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	data := domain.SplitByType([]domain.NormalizedPurchase{{
		CampaignID:     "1",
		CampaignName:   "Noon",
		Code:           "SAVE10",
		PurchaseType:   domain.PurchaseTypeCoupon,
		NetworkOrderID: "o1",
		Quantity:       2,
		OrderDate:      cfg.DateFrom,
	}})
	return domain.SyncResult{Success: true, Message: "Synced 1 records", Data: data}
}

type echoRegistry struct{}

func (echoRegistry) Create(id string) (domain.Adapter, error) {
	if strings.EqualFold(id, "echo") {
		return echoAdapter{}, nil
	}
	return nil, domain.ErrUnknownNetwork
}

func (echoRegistry) Networks() []networks.NetworkInfo {
	return []networks.NetworkInfo{{ID: "echo", Config: echoAdapter{}.Config()}}
}

func newTestRouter(t *testing.T) (*gin.Engine, *infrastructure.ConnectionRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewWithOutput("error", io.Discard)
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	connections := infrastructure.NewConnectionRepository(log)
	logs := infrastructure.NewSyncLogRepository(log)

	syncService := usecase.NewSyncService(
		echoRegistry{}, connections, infrastructure.NewMemoryDataProcessor(log), logs,
		nil, nil, log, m, 2, 3,
	)
	handlers := NewHTTPHandlers(syncService, usecase.NewReportService(logs, log), log)
	return NewHTTPRouter(handlers, log, m, reg, 0).SetupRoutes(), connections
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealthEchoesRequestID(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"request_id":"req-42"`)
}

func TestListNetworks(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := do(t, router, http.MethodGet, "/api/v1/networks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.Contains(t, w.Body.String(), `"api_key"`)
}

func TestTestCredentialsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := do(t, router, http.MethodPost, "/api/v1/networks/echo/test", `{"credentials":{"api_key":"good"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, w.Body.String(), "tok")

	w, body = do(t, router, http.MethodPost, "/api/v1/networks/echo/test", `{"credentials":{"api_key":"bad"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = do(t, router, http.MethodPost, "/api/v1/networks/nowhere/test", `{"credentials":{}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/v1/networks/echo/test", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSaveConnectionValidation(t *testing.T) {
	router, connections := newTestRouter(t)

	w, body := do(t, router, http.MethodPut, "/api/v1/connections/c1", `{"network":"echo","credentials":{}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"api_key": "API key is required"}, body["errors"])

	w, _ = do(t, router, http.MethodPut, "/api/v1/connections/c1", `{"credentials":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, router, http.MethodPut, "/api/v1/connections/c1", `{"user_id":"u1","network":"ECHO","credentials":{"api_key":{"value":"good"}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", body["id"])
	assert.Equal(t, "echo", body["network"])
	assert.Equal(t, "pending", body["status"])

	conn, err := connections.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "good", conn.Credentials["api_key"].Value)
}

func TestConnectionTestAndSyncFlow(t *testing.T) {
	router, connections := newTestRouter(t)
	w, _ := do(t, router, http.MethodPut, "/api/v1/connections/c1", `{"user_id":"u1","network":"echo","credentials":{"api_key":"good"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := do(t, router, http.MethodPost, "/api/v1/connections/c1/test", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	conn, _ := connections.Get(context.Background(), "c1")
	assert.Equal(t, domain.ConnectionConnected, conn.Status)
	assert.Equal(t, "tok", conn.Session[domain.SessionAccessToken])

	w, body = do(t, router, http.MethodPost, "/api/v1/connections/c1/sync", `{"date_from":"2024-01-05"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "2024-01-05", body["date_from"])
	assert.Equal(t, "2024-01-31", body["date_to"])

	w, body = do(t, router, http.MethodPost, "/api/v1/sync/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, body = do(t, router, http.MethodGet, "/api/v1/sync/logs?connection_id=c1&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.Equal(t, true, body["has_more"])
	assert.Len(t, body["data"], 1)

	w, body = do(t, router, http.MethodGet, "/api/v1/sync/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	summary := body["data"].([]any)
	require.Len(t, summary, 1)
	first := summary[0].(map[string]any)
	assert.Equal(t, "echo", first["network"])
	assert.EqualValues(t, 2, first["runs"])
	assert.EqualValues(t, 4, first["purchases"])
}

func TestSyncRequestErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	w, _ := do(t, router, http.MethodPost, "/api/v1/connections/missing/sync", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/v1/connections/missing/sync", `{"date_from":"01/02/2024"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/v1/sync/run", `{"date_from":"2024-02-01","date_to":"2024-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/v1/sync/logs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	do(t, router, http.MethodGet, "/health", "")

	w, _ := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
}
