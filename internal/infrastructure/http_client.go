package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 32 << 20

type ClientOptions struct {
	Network   string
	Timeout   time.Duration
	ProxyURL  string
	UserAgent string
	// RateLimit defaults to 10 requests per second with a burst of 5.
	RateLimit rate.Limit
	Burst     int
	Cookies   *domain.CookieJar
}

// HTTPClient issues requests for one network session. It never follows
// redirects on its own and carries its cookies in an explicit jar.
type HTTPClient struct {
	client      *http.Client
	network     string
	userAgent   string
	jar         *domain.CookieJar
	rateLimiter *rate.Limiter
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

type Request struct {
	Method string
	URL    string
	Query  domain.Params
	Form   domain.Params
	JSON   any
	Header map[string]string
	// Endpoint labels the call in logs and errors.
	Endpoint string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        *url.URL
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Header.Get("Location") != ""
}

// Location resolves the redirect target against the request URL.
func (r *Response) Location() string {
	loc := r.Header.Get("Location")
	if loc == "" {
		return ""
	}
	target, err := url.Parse(loc)
	if err != nil || r.URL == nil {
		return loc
	}
	return r.URL.ResolveReference(target).String()
}

// DecodeJSON unmarshals the body, reporting shape drift as ErrUnexpectedResponse.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnexpectedResponse, err)
	}
	return nil
}

// creates a new HTTP client
func NewHTTPClient(opts ClientOptions, logger *logger.Logger, metrics *metrics.Metrics) (*HTTPClient, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		Proxy:               http.ProxyFromEnvironment,
	}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := opts.RateLimit
	if limit == 0 {
		limit = rate.Limit(10)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}
	jar := opts.Cookies
	if jar == nil {
		jar = domain.NewCookieJar()
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		network:     opts.Network,
		userAgent:   opts.UserAgent,
		jar:         jar,
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      logger,
		metrics:     metrics,
	}, nil
}

func (c *HTTPClient) Cookies() *domain.CookieJar {
	return c.jar
}

// StdClient exposes the underlying client for libraries that take one.
func (c *HTTPClient) StdClient() *http.Client {
	return c.client
}

func (c *HTTPClient) Do(ctx context.Context, r Request) (*Response, error) {
	start := time.Now()
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = r.Method + " " + r.URL
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure(c.network, "rate_limit")
		return nil, fmt.Errorf("%w: rate limit wait for %s: %w", domain.ErrTransport, endpoint, err)
	}

	req, err := c.build(ctx, r)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.network, "request_creation")
		return nil, fmt.Errorf("%w: build %s: %w", domain.ErrTransport, endpoint, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		kind := "network_error"
		wrapped := domain.ErrTransport
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = "timeout"
			wrapped = domain.ErrNetworkTimeout
		}
		c.metrics.RecordExternalAPIFailure(c.network, kind)
		return nil, fmt.Errorf("%w: %s: %w", wrapped, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.RecordExternalAPIFailure(c.network, "read_body")
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrTransport, endpoint, err)
	}

	c.jar.MergeResponse(resp.Cookies())

	duration := time.Since(start)
	status := "success"
	if resp.StatusCode >= 400 {
		status = fmt.Sprintf("error_%d", resp.StatusCode)
	}
	c.metrics.RecordExternalAPICall(c.network, status, duration)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"network":  c.network,
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"duration": duration,
	}).Debug("Network request completed")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        req.URL,
	}, nil
}

// FollowRedirects walks Location headers with GETs for at most maxHops hops
// and returns the first non-redirect response with every URL visited.
func (c *HTTPClient) FollowRedirects(ctx context.Context, resp *Response, maxHops int, header map[string]string) (*Response, []string, error) {
	var visited []string
	for hops := 0; resp.IsRedirect(); hops++ {
		if hops >= maxHops {
			return resp, visited, fmt.Errorf("%w: more than %d redirects", domain.ErrAuthenticationFailed, maxHops)
		}
		next := resp.Location()
		visited = append(visited, next)

		var err error
		resp, err = c.Do(ctx, Request{Method: http.MethodGet, URL: next, Header: header, Endpoint: "redirect"})
		if err != nil {
			return nil, visited, err
		}
	}
	return resp, visited, nil
}

func (c *HTTPClient) build(ctx context.Context, r Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.JSON != nil:
		payload, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie := c.jar.HeaderString(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	return req, nil
}
