package networks

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"affsync/internal/domain"
	"affsync/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	marketeersHost    = "marketeers.test"
	marketeersAPIHost = "api.marketeers.test"
)

// marketeersFake is reached only as an HTTP proxy: requests arrive with an
// absolute URI and are answered as if by the real hosts.
type marketeersFake struct {
	t      *testing.T
	logins atomic.Int32
	orders atomic.Int32
}

func (f *marketeersFake) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Host == marketeersHost && r.URL.Path == "/api/auth/csrf":
		http.SetCookie(w, &http.Cookie{Name: "next-auth.csrf-token", Value: "csrf-cookie"})
		writeJSON(w, http.StatusOK, `{"csrfToken":"csrf-m"}`)
	case r.Host == marketeersHost && r.URL.Path == "/api/auth/callback/credentials":
		f.logins.Add(1)
		require.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "csrf-m", r.PostForm.Get("csrfToken"))
		assert.Equal(f.t, "false", r.PostForm.Get("redirect"))
		if r.PostForm.Get("password") != "good-pass" {
			writeJSON(w, http.StatusOK, `{"url":"http://marketeers.test/api/auth/error?error=CredentialsSignin"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "next-auth.session-token", Value: "sess-1"})
		writeJSON(w, http.StatusOK, `{"url":"http://marketeers.test/"}`)
	case r.Host == marketeersHost && r.URL.Path == "/api/auth/session":
		if c, err := r.Cookie("next-auth.session-token"); err != nil || c.Value != "sess-1" {
			writeJSON(w, http.StatusOK, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"accessToken":"m-tok","user":{"id":"u1","email":"pub@example.com","publisherId":42}}`)
	case r.Host == marketeersAPIHost && r.URL.Path == "/publishers/42/orders":
		f.orders.Add(1)
		if r.Header.Get("Authorization") != "Bearer m-tok" {
			http.Redirect(w, r, "http://marketeers.test/login", http.StatusFound)
			return
		}
		assert.Equal(f.t, "100", r.URL.Query().Get("per_page"))
		if r.URL.Query().Get("page") == "1" {
			writeJSON(w, http.StatusOK, `{"data":[
				{"id":1,"campaign_id":9,"campaign_name":"Ounass","coupon_code":"OU1","order_value":"367","commission":"36.7","currency":"AED","status":"confirmed","created_at":"2024-01-02 09:00:00"},
				{"id":2,"campaign_id":9,"campaign_name":"Ounass","coupon_code":"OU2","order_value":40,"currency":"USD","status":"cancelled"}
			],"pagination":{"page":1,"total_pages":2,"total":3}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":[
			{"id":3,"campaign_id":9,"campaign_name":"Ounass","coupon_code":"OU1","order_value":5,"currency":"USD","status":"paid","quantity":2}
		],"pagination":{"page":2,"total_pages":2,"total":3}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newMarketeersFake(t *testing.T, pool func(proxyURL string) domain.ProxyPool) (domain.Adapter, *marketeersFake, *countingServer) {
	fake := &marketeersFake{t: t}
	proxy := newCountingServer(t, fake.handler)

	deps := testDeps(config.NetworksConfig{"marketeers": {
		BaseURL: "http://" + marketeersHost,
		APIURL:  "http://" + marketeersAPIHost,
	}})
	if pool != nil {
		deps.Proxies = pool(proxy.URL)
	}
	return NewMarketeers(deps), fake, proxy
}

var marketeersCreds = domain.Credentials{"email": "pub@example.com", "password": "good-pass"}

func TestMarketeersConnectsThroughFirstWorkingProxy(t *testing.T) {
	var pool *orderedPool
	dead := deadProxy(t)
	adapter, fake, _ := newMarketeersFake(t, func(live string) domain.ProxyPool {
		pool = newOrderedPool(dead, live)
		return pool
	})

	res := adapter.TestConnection(context.Background(), marketeersCreds)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "42", res.Data[marketeersPublisherID])
	assert.Equal(t, "m-tok", res.Data[domain.SessionAccessToken])
	assert.Contains(t, res.Data[domain.SessionCookies], "next-auth.session-token=sess-1")
	assert.Equal(t, int32(1), fake.logins.Load())

	assert.Equal(t, 1, pool.failed[dead])
	assert.Equal(t, 1, pool.succeeded[pool.proxies[1].ID])
}

func TestMarketeersNeverConnectsDirectly(t *testing.T) {
	adapter, _, proxy := newMarketeersFake(t, nil)

	res := adapter.TestConnection(context.Background(), marketeersCreds)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no working proxies")
	assert.Equal(t, int32(0), proxy.hits.Load())

	sync := adapter.SyncData(context.Background(), marketeersCreds, jan1to3)
	assert.False(t, sync.Success)
	assert.Contains(t, sync.Message, "no working proxies")
}

func TestMarketeersAllProxiesDead(t *testing.T) {
	first, second := deadProxy(t), deadProxy(t)
	pool := newOrderedPool(first, second)
	adapter, _, proxy := newMarketeersFake(t, func(string) domain.ProxyPool { return pool })

	res := adapter.TestConnection(context.Background(), marketeersCreds)

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no working proxies")
	assert.Equal(t, 1, pool.failed[first])
	assert.Equal(t, 1, pool.failed[second])
	assert.Empty(t, pool.succeeded)
	assert.Equal(t, int32(0), proxy.hits.Load())
}

func TestMarketeersRejectedPassword(t *testing.T) {
	adapter, _, _ := newMarketeersFake(t, func(live string) domain.ProxyPool { return newOrderedPool(live) })

	res := adapter.TestConnection(context.Background(), domain.Credentials{"email": "pub@example.com", "password": "nope-pass"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "CredentialsSignin")
	assert.NotContains(t, res.Message, "nope-pass")
}

func TestMarketeersSyncRecoversFromLoginRedirect(t *testing.T) {
	adapter, fake, _ := newMarketeersFake(t, func(live string) domain.ProxyPool { return newOrderedPool(live) })
	creds := marketeersCreds.With(map[string]string{
		domain.SessionAccessToken: "stale",
		domain.SessionCookies:     "next-auth.session-token=old",
		marketeersPublisherID:     "42",
	})

	res := adapter.SyncData(context.Background(), creds, jan1to3)

	require.True(t, res.Success, res.Message)
	assert.Equal(t, int32(1), fake.logins.Load())
	assert.Equal(t, int32(3), fake.orders.Load())
	assert.Equal(t, "m-tok", res.NewAccessToken)
	assert.Equal(t, "42", res.RefreshedCredentials[marketeersPublisherID])

	coupons := res.Data.Coupons
	assert.Equal(t, 3, coupons.Total)
	assert.Equal(t, 4, coupons.Purchases)
	assert.Equal(t, 2, coupons.Coupons)
	assert.InDelta(t, 100.0, coupons.Data[0].OrderValue, 0.01)
	assert.Equal(t, domain.StatusApproved, coupons.Data[0].Status)
	assert.Equal(t, domain.StatusRejected, coupons.Data[1].Status)
	assert.Equal(t, domain.StatusPaid, coupons.Data[2].Status)
	assert.True(t, res.Completeness.IsComplete)
}
