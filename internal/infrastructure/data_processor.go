package infrastructure

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// implements domain.DataProcessor by posting to an external processor
type HTTPDataProcessor struct {
	client     *HTTPClient
	sinkURL    string
	sinkSecret string
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewHTTPDataProcessor(sinkURL, sinkSecret string, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) (*HTTPDataProcessor, error) {
	client, err := NewHTTPClient(ClientOptions{Network: "sink", Timeout: timeout}, logger, metrics)
	if err != nil {
		return nil, err
	}
	return &HTTPDataProcessor{
		client:     client,
		sinkURL:    sinkURL,
		sinkSecret: sinkSecret,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

type processResponse struct {
	Processed domain.ProcessResult `json:"processed"`
}

func (p *HTTPDataProcessor) Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	if p.sinkURL == "" {
		return nil, fmt.Errorf("sink URL not configured")
	}

	start := time.Now()

	payload, err := json.Marshal(req)
	if err != nil {
		p.metrics.RecordExternalAPIFailure("sink", "json_marshal")
		return nil, fmt.Errorf("failed to marshal purchases: %w", err)
	}

	header := map[string]string{}
	// Add HMAC signature if secret is provided
	if p.sinkSecret != "" {
		header["X-Signature"] = p.generateHMACSignature(payload)
	}

	// the raw message is sent as is, so the signature covers the exact body
	resp, err := p.client.Do(ctx, Request{
		Method:   http.MethodPost,
		URL:      p.sinkURL,
		JSON:     json.RawMessage(payload),
		Header:   header,
		Endpoint: "sink",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send purchases: %w", err)
	}

	duration := time.Since(start)

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("sink API returned status %d", resp.StatusCode)
	}

	var parsed processResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		p.metrics.RecordExternalAPIFailure("sink", "json_parse")
		return nil, fmt.Errorf("failed to parse sink response: %w", err)
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"url":       p.sinkURL,
		"duration":  duration,
		"records":   len(req.Purchases),
		"network":   req.NetworkID,
		"date_from": req.DateFrom,
		"date_to":   req.DateTo,
	}).Info("Successfully sent purchases to data processor")

	return &parsed.Processed, nil
}

// generates HMAC-SHA256 signature for the payload
func (p *HTTPDataProcessor) generateHMACSignature(payload []byte) string {
	h := hmac.New(sha256.New, []byte(p.sinkSecret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
