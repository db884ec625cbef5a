package networks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var testNow = time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

func testDeps(endpoints config.NetworksConfig) Deps {
	return Deps{
		Logger:    logger.NewWithOutput("error", io.Discard),
		Metrics:   metrics.NewWithRegistry(prometheus.NewRegistry()),
		Clock:     domain.FixedClock{At: testNow},
		Endpoints: endpoints,
		Sync: config.SyncConfig{
			RequestTimeout:    5 * time.Second,
			AuthFlowTimeout:   10 * time.Second,
			AuthRetries:       2,
			AuthBackoff:       3 * time.Second,
			PageSize:          500,
			MaxPages:          50,
			ReportingCurrency: "USD",
		},
		RateLimit: rate.Inf,
		Sleep:     func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

// countingServer counts every request it receives.
type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	s := &countingServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// orderedPool is a ProxyPool that hands out proxies in a fixed order.
type orderedPool struct {
	mu        sync.Mutex
	proxies   []domain.Proxy
	failed    map[string]int
	succeeded map[string]int
}

func newOrderedPool(urls ...string) *orderedPool {
	p := &orderedPool{failed: map[string]int{}, succeeded: map[string]int{}}
	for _, u := range urls {
		p.proxies = append(p.proxies, domain.Proxy{ID: u, URL: u})
	}
	return p
}

func (p *orderedPool) Candidates(ctx context.Context, n int) ([]domain.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.proxies) {
		n = len(p.proxies)
	}
	out := make([]domain.Proxy, n)
	copy(out, p.proxies[:n])
	return out, nil
}

func (p *orderedPool) MarkFailed(ctx context.Context, proxyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[proxyID]++
	return nil
}

func (p *orderedPool) MarkSucceeded(ctx context.Context, proxyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.succeeded[proxyID]++
	return nil
}

// fakeCaptcha returns a fixed token or error.
type fakeCaptcha struct {
	token   string
	err     error
	calls   atomic.Int32
	siteKey string
}

func (c *fakeCaptcha) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	c.calls.Add(1)
	c.siteKey = siteKey
	return c.token, c.err
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// deadProxy is an address nothing listens on.
func deadProxy(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.NotFoundHandler())
	addr := s.URL
	s.Close()
	return addr
}
