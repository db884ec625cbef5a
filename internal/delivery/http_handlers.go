package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"affsync/internal/domain"
	"affsync/internal/usecase"
	"affsync/pkg/logger"

	"github.com/gin-gonic/gin"
)

// handles HTTP requests
type HTTPHandlers struct {
	syncService   *usecase.SyncService
	reportService *usecase.ReportService
	logger        *logger.Logger
}

// creates new HTTP handlers
func NewHTTPHandlers(
	syncService *usecase.SyncService,
	reportService *usecase.ReportService,
	logger *logger.Logger,
) *HTTPHandlers {
	return &HTTPHandlers{
		syncService:   syncService,
		reportService: reportService,
		logger:        logger,
	}
}

type testCredentialsRequest struct {
	Credentials domain.Credentials `json:"credentials"`
}

type saveConnectionRequest struct {
	UserID      string                       `json:"user_id"`
	Network     string                       `json:"network" binding:"required"`
	Credentials map[string]domain.Credential `json:"credentials"`
}

// GetAPIInfo returns API v1 information and available endpoints
func (h *HTTPHandlers) GetAPIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api_version": "v1",
		"service":     "affsync",
		"description": "Affiliate network connections and purchase data sync",
		"endpoints": gin.H{
			"networks":    "GET /api/v1/networks, POST /api/v1/networks/:network/test",
			"connections": "PUT /api/v1/connections/:id, POST /api/v1/connections/:id/test, POST /api/v1/connections/:id/sync",
			"sync":        "POST /api/v1/sync/run, GET /api/v1/sync/logs, GET /api/v1/sync/summary",
		},
		"request_id": c.GetString("request_id"),
	})
}

// ListNetworks lists the supported networks and the fields each one needs
func (h *HTTPHandlers) ListNetworks(c *gin.Context) {
	nets := h.syncService.Networks()
	c.JSON(http.StatusOK, gin.H{
		"data":       nets,
		"total":      len(nets),
		"request_id": c.GetString("request_id"),
	})
}

// TestCredentials tests credentials against a network without storing them
func (h *HTTPHandlers) TestCredentials(c *gin.Context) {
	var req testCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.syncService.TestCredentials(c.Request.Context(), c.Param("network"), req.Credentials)
	if err != nil {
		h.writeError(c, "Connection test failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SaveConnection creates or replaces a stored connection
func (h *HTTPHandlers) SaveConnection(c *gin.Context) {
	var req saveConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	conn, err := h.syncService.SaveConnection(c.Request.Context(), domain.NetworkConnection{
		ID:          c.Param("id"),
		UserID:      req.UserID,
		Network:     req.Network,
		Credentials: req.Credentials,
	})
	if err != nil {
		h.writeError(c, "Failed to save connection", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         conn.ID,
		"user_id":    conn.UserID,
		"network":    conn.Network,
		"status":     conn.Status,
		"request_id": c.GetString("request_id"),
	})
}

// TestConnection tests a stored connection and records its status
func (h *HTTPHandlers) TestConnection(c *gin.Context) {
	result, err := h.syncService.TestConnection(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Connection test failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SyncConnection runs one connection's sync and returns its log entry
func (h *HTTPHandlers) SyncConnection(c *gin.Context) {
	cfg, ok := h.bindSyncConfig(c)
	if !ok {
		return
	}

	entry, err := h.syncService.Sync(c.Request.Context(), c.Param("id"), cfg)
	if err != nil {
		h.writeError(c, "Sync failed", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// SyncRun syncs every stored connection
func (h *HTTPHandlers) SyncRun(c *gin.Context) {
	cfg, ok := h.bindSyncConfig(c)
	if !ok {
		return
	}

	logs, err := h.syncService.SyncAll(c.Request.Context(), cfg)
	status := http.StatusOK
	response := gin.H{
		"data":       logs,
		"total":      len(logs),
		"request_id": c.GetString("request_id"),
	}
	if err != nil {
		h.logger.WithContext(c.Request.Context()).WithError(err).Warn("Sync run interrupted")
		status = statusFor(err)
		response["error"] = "Sync run interrupted"
		response["message"] = err.Error()
	}
	c.JSON(status, response)
}

// GetSyncLogs lists sync logs with optional filters
func (h *HTTPHandlers) GetSyncLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		h.badRequest(c, "Invalid parameters", err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		h.badRequest(c, "Invalid parameters", err)
		return
	}

	page, err := h.reportService.Logs(c.Request.Context(), usecase.LogFilter{
		ConnectionID: c.Query("connection_id"),
		Network:      c.Query("network"),
		Status:       domain.SyncLogStatus(c.Query("status")),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		h.writeError(c, "Failed to retrieve sync logs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       page.Data,
		"total":      page.Total,
		"limit":      page.Limit,
		"offset":     page.Offset,
		"has_more":   page.Offset+len(page.Data) < page.Total,
		"request_id": c.GetString("request_id"),
	})
}

// GetSyncSummary returns per-network sync totals
func (h *HTTPHandlers) GetSyncSummary(c *gin.Context) {
	summary, err := h.reportService.Summary(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to retrieve summary", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       summary,
		"request_id": c.GetString("request_id"),
	})
}

// HealthCheck returns the health status of the service
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"service":    "affsync",
		"version":    "1.0.0",
		"request_id": c.GetString("request_id"),
	})
}

// bindSyncConfig reads an optional sync config body. An empty body means
// adapter defaults.
func (h *HTTPHandlers) bindSyncConfig(c *gin.Context) (domain.SyncConfig, bool) {
	var cfg domain.SyncConfig
	if err := c.ShouldBindJSON(&cfg); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, "Invalid request body", err)
		return cfg, false
	}
	for _, date := range []string{cfg.DateFrom, cfg.DateTo} {
		if date == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			h.badRequest(c, "Invalid date format", errors.New("dates must be in YYYY-MM-DD format"))
			return cfg, false
		}
	}
	if cfg.DateFrom != "" && cfg.DateTo != "" {
		if _, _, err := cfg.Range(); err != nil {
			h.badRequest(c, "Invalid date range", err)
			return cfg, false
		}
	}
	// set by the service from the stored connection
	cfg.NetworkID, cfg.UserID = "", ""
	return cfg, true
}

func (h *HTTPHandlers) badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      message,
		"message":    err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

func (h *HTTPHandlers) writeError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error(message)
	}

	response := gin.H{
		"error":      message,
		"message":    err.Error(),
		"request_id": c.GetString("request_id"),
	}
	var credsErr *usecase.CredentialsError
	if errors.As(err, &credsErr) {
		response["errors"] = credsErr.Errors
	}
	_ = c.Error(err)
	c.JSON(status, response)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConnectionNotFound), errors.Is(err, domain.ErrUnknownNetwork):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	value := c.Query(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
