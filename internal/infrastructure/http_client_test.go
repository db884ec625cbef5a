package infrastructure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testLogger() *logger.Logger {
	return logger.NewWithOutput("error", io.Discard)
}

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func newTestClient(t *testing.T, opts ClientOptions) *HTTPClient {
	t.Helper()
	if opts.Network == "" {
		opts.Network = "test"
	}
	opts.RateLimit = rate.Inf
	client, err := NewHTTPClient(opts, testLogger(), testMetrics())
	require.NoError(t, err)
	return client
}

func TestHTTPClientMergesAndSendsCookies(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Cookie"))
		switch r.URL.Path {
		case "/first":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "one"})
			http.SetCookie(w, &http.Cookie{Name: "lang", Value: "en"})
		case "/second":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "two"})
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, ClientOptions{Cookies: domain.ParseCookieHeader("seed=1")})
	ctx := context.Background()

	_, err := client.Do(ctx, Request{URL: server.URL + "/first"})
	require.NoError(t, err)
	_, err = client.Do(ctx, Request{URL: server.URL + "/second"})
	require.NoError(t, err)
	_, err = client.Do(ctx, Request{URL: server.URL + "/third"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"seed=1",
		"seed=1; session=one; lang=en",
		"seed=1; session=two; lang=en",
	}, seen)
}

func TestHTTPClientDoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, ClientOptions{})
	resp, err := client.Do(context.Background(), Request{Method: http.MethodPost, URL: server.URL + "/login"})
	require.NoError(t, err)

	assert.True(t, resp.IsRedirect())
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, server.URL+"/dashboard", resp.Location())
}

func TestFollowRedirectsBounded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			http.Redirect(w, r, "/b", http.StatusFound)
		case "/b":
			http.Redirect(w, r, "/c", http.StatusSeeOther)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		default:
			_, _ = w.Write([]byte("done"))
		}
	}))
	defer server.Close()

	client := newTestClient(t, ClientOptions{})
	ctx := context.Background()

	start, err := client.Do(ctx, Request{URL: server.URL + "/a"})
	require.NoError(t, err)
	final, visited, err := client.FollowRedirects(ctx, start, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", string(final.Body))
	assert.Equal(t, []string{server.URL + "/b", server.URL + "/c"}, visited)

	loop, err := client.Do(ctx, Request{URL: server.URL + "/loop"})
	require.NoError(t, err)
	_, visited, err = client.FollowRedirects(ctx, loop, 3, nil)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.Len(t, visited, 3)
}

func TestHTTPClientSendsOrderedForm(t *testing.T) {
	var body, contentType, query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		contentType = r.Header.Get("Content-Type")
		query = r.URL.RawQuery
	}))
	defer server.Close()

	client := newTestClient(t, ClientOptions{UserAgent: "test-agent"})
	_, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL + "/submit?session_code=s1",
		Query:  domain.Params{}.Add("tab_id", "t1").Add("client_id", "c1"),
		Form:   domain.Params{}.Add("username", "u").Add("password", "p").Add("credentialId", ""),
	})
	require.NoError(t, err)

	assert.Equal(t, "username=u&password=p&credentialId=", body)
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, "session_code=s1&tab_id=t1&client_id=c1", query)
}

func TestHTTPClientJSONAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer x", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	client := newTestClient(t, ClientOptions{})
	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL,
		JSON:   map[string]string{"a": "b"},
		Header: map[string]string{"Authorization": "Bearer x"},
	})
	require.NoError(t, err)

	var ok struct{ OK bool }
	require.NoError(t, resp.DecodeJSON(&ok))
	assert.True(t, ok.OK)

	var wrong []string
	assert.ErrorIs(t, resp.DecodeJSON(&wrong), domain.ErrUnexpectedResponse)

	server.Close()
	_, err = client.Do(context.Background(), Request{URL: server.URL})
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestHTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(t, ClientOptions{Timeout: 50 * time.Millisecond})
	_, err := client.Do(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetworkTimeout))
}

func TestHTTPClientRejectsBadProxy(t *testing.T) {
	_, err := NewHTTPClient(ClientOptions{ProxyURL: "://bad"}, testLogger(), testMetrics())
	assert.Error(t, err)
}
