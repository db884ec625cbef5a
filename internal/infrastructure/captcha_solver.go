package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

const captchaNotReady = "CAPCHA_NOT_READY"

// TwoCaptchaSolver talks to a 2Captcha compatible API: submit the task,
// then poll for the answer a bounded number of times.
type TwoCaptchaSolver struct {
	client       *HTTPClient
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewTwoCaptchaSolver(baseURL, apiKey string, pollInterval time.Duration, maxPolls int, logger *logger.Logger, metrics *metrics.Metrics) (*TwoCaptchaSolver, error) {
	if maxPolls <= 0 {
		maxPolls = 24
	}
	client, err := NewHTTPClient(ClientOptions{Network: "captcha", Timeout: 30 * time.Second}, logger, metrics)
	if err != nil {
		return nil, err
	}
	return &TwoCaptchaSolver{
		client:       client,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		sleep:        sleepContext,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

type captchaAnswer struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (s *TwoCaptchaSolver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("%w: captcha api key not configured", domain.ErrCaptchaSolveFailed)
	}
	start := time.Now()

	submitted, err := s.call(ctx, Request{
		Method: http.MethodPost,
		URL:    s.baseURL + "/in.php",
		Form: domain.Params{}.
			Add("key", s.apiKey).
			Add("method", "userrecaptcha").
			Add("googlekey", siteKey).
			Add("pageurl", pageURL).
			Add("json", "1"),
		Endpoint: "captcha submit",
	})
	if err != nil {
		return "", err
	}
	if submitted.Status != 1 {
		s.metrics.RecordExternalAPIFailure("captcha", "submit_rejected")
		return "", fmt.Errorf("%w: submit rejected: %s", domain.ErrCaptchaSolveFailed, submitted.Request)
	}
	taskID := submitted.Request

	poll := Request{
		URL:      s.baseURL + "/res.php",
		Query:    domain.Params{}.Add("key", s.apiKey).Add("action", "get").Add("id", taskID).Add("json", "1"),
		Endpoint: "captcha result",
	}

	for attempt := 1; attempt <= s.maxPolls; attempt++ {
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrCaptchaSolveFailed, err)
		}

		answer, err := s.call(ctx, poll)
		if err != nil {
			return "", err
		}
		switch {
		case answer.Status == 1 && answer.Request != "":
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"task_id":  taskID,
				"polls":    attempt,
				"duration": time.Since(start),
			}).Info("Captcha solved")
			return answer.Request, nil
		case answer.Request == captchaNotReady:
			continue
		default:
			s.metrics.RecordExternalAPIFailure("captcha", "solve_error")
			return "", fmt.Errorf("%w: %s", domain.ErrCaptchaSolveFailed, answer.Request)
		}
	}

	s.metrics.RecordExternalAPIFailure("captcha", "timeout")
	return "", fmt.Errorf("%w: not solved after %d polls", domain.ErrCaptchaSolveFailed, s.maxPolls)
}

// call goes through the shared client, which rate limits the API and
// records its call metrics.
func (s *TwoCaptchaSolver) call(ctx context.Context, r Request) (*captchaAnswer, error) {
	resp, err := s.client.Do(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptchaSolveFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		s.metrics.RecordExternalAPIFailure("captcha", fmt.Sprintf("error_%d", resp.StatusCode))
		return nil, fmt.Errorf("%w: captcha api returned status %d", domain.ErrCaptchaSolveFailed, resp.StatusCode)
	}

	var answer captchaAnswer
	if err := json.Unmarshal(resp.Body, &answer); err != nil {
		s.metrics.RecordExternalAPIFailure("captcha", "json_parse")
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptchaSolveFailed, err)
	}
	return &answer, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
