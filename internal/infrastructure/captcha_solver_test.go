package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSolver(t *testing.T, baseURL string, maxPolls int, m *metrics.Metrics) *TwoCaptchaSolver {
	t.Helper()
	s, err := NewTwoCaptchaSolver(baseURL, "k3y", time.Second, maxPolls, testLogger(), m)
	require.NoError(t, err)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func TestTwoCaptchaSolverPollsUntilReady(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "userrecaptcha", r.PostForm.Get("method"))
			assert.Equal(t, "site-key", r.PostForm.Get("googlekey"))
			assert.Equal(t, "https://auth.example/authorize", r.PostForm.Get("pageurl"))
			_, _ = w.Write([]byte(`{"status":1,"request":"task-9"}`))
		case "/res.php":
			assert.Equal(t, "task-9", r.URL.Query().Get("id"))
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":1,"request":"solved-token"}`))
		}
	}))
	defer server.Close()

	m := testMetrics()
	token, err := newTestSolver(t, server.URL, 5, m).SolveRecaptcha(context.Background(), "site-key", "https://auth.example/authorize")
	require.NoError(t, err)
	assert.Equal(t, "solved-token", token)
	assert.Equal(t, int32(3), polls.Load())
	// one submit and three polls, all through the rate limited client
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ExternalAPICalls.WithLabelValues("captcha", "success")))
}

func TestTwoCaptchaSolverFailures(t *testing.T) {
	tests := []struct {
		name   string
		submit string
		result string
	}{
		{"submit rejected", `{"status":0,"request":"ERROR_ZERO_BALANCE"}`, ""},
		{"unsolvable", `{"status":1,"request":"t"}`, `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`},
		{"never ready", `{"status":1,"request":"t"}`, `{"status":0,"request":"CAPCHA_NOT_READY"}`},
		{"garbage", `not json`, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/in.php" {
					_, _ = w.Write([]byte(tc.submit))
					return
				}
				_, _ = w.Write([]byte(tc.result))
			}))
			defer server.Close()

			_, err := newTestSolver(t, server.URL, 2, testMetrics()).SolveRecaptcha(context.Background(), "k", "u")
			assert.ErrorIs(t, err, domain.ErrCaptchaSolveFailed)
		})
	}
}

func TestTwoCaptchaSolverRequiresKey(t *testing.T) {
	s := newTestSolver(t, "http://unused", 1, testMetrics())
	s.apiKey = ""
	_, err := s.SolveRecaptcha(context.Background(), "k", "u")
	assert.ErrorIs(t, err, domain.ErrCaptchaSolveFailed)
}
