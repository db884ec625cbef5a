package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieJarMergeLastWins(t *testing.T) {
	jar := ParseCookieHeader("PHPSESSID=abc; lang=en")
	jar.Merge(ParseCookieHeader("lang=ar; token=t1"))

	assert.Equal(t, "PHPSESSID=abc; lang=ar; token=t1", jar.HeaderString())
	assert.Equal(t, 3, jar.Len())

	jar.MergeResponse([]*http.Cookie{
		{Name: "token", Value: "t2"},
		{Name: "PHPSESSID", Value: "", MaxAge: -1},
		{Name: "", Value: "skip"},
	})
	assert.Equal(t, "lang=ar; token=t2", jar.HeaderString())

	v, ok := jar.Get("token")
	assert.True(t, ok)
	assert.Equal(t, "t2", v)
}

func TestParseCookieHeaderSkipsGarbage(t *testing.T) {
	jar := ParseCookieHeader(" ; novalue; =x; a=1=2 ")
	assert.Equal(t, "a=1=2", jar.HeaderString())
	assert.Equal(t, "", (*CookieJar)(nil).HeaderString())
}

func TestCredentialUnmarshal(t *testing.T) {
	var creds map[string]Credential
	err := json.Unmarshal([]byte(`{"email":"a@b.c","password":{"value":"c2VjcmV0","encrypted":true},"empty":null}`), &creds)
	require.NoError(t, err)

	assert.Equal(t, Credential{Value: "a@b.c"}, creds["email"])
	assert.Equal(t, Credential{Value: "c2VjcmV0", Encrypted: true}, creds["password"])
	assert.Equal(t, Credential{}, creds["empty"])

	var bad Credential
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestCredentialsHelpers(t *testing.T) {
	base := Credentials{"email": "a", "access_token": "old"}
	merged := base.With(map[string]string{"access_token": "new", "blank": ""})

	assert.Equal(t, "new", merged.Get("access_token"))
	assert.Equal(t, "old", base.Get("access_token"))
	assert.NotContains(t, merged, "blank")
	assert.NotContains(t, merged.Without("access_token"), "access_token")
	assert.True(t, merged.Presence("email", "access_token"))
	assert.False(t, merged.Presence("email", "password"))
}

func TestBuildRecordSetCounts(t *testing.T) {
	set := BuildRecordSet([]NormalizedPurchase{
		{CampaignID: "1", Code: "SAVE10", Quantity: 2},
		{CampaignID: "1", Code: "SAVE10", Quantity: 1},
		{CampaignID: "1", Code: "SAVE20", Quantity: 1},
		{CampaignName: "Other", Code: "X", Quantity: 1},
	})

	assert.Equal(t, 2, set.Campaigns)
	assert.Equal(t, 3, set.Coupons)
	assert.Equal(t, 5, set.Purchases)
	assert.Equal(t, 4, set.Total)

	empty := BuildRecordSet(nil)
	assert.NotNil(t, empty.Data)
}

func TestSplitByType(t *testing.T) {
	data := SplitByType([]NormalizedPurchase{
		{CampaignID: "1", Code: "A", PurchaseType: PurchaseTypeCoupon, Quantity: 1},
		{CampaignID: "1", Code: "subid-x", PurchaseType: PurchaseTypeLink, Quantity: 1},
	})
	require.NotNil(t, data.Links)
	assert.Equal(t, 1, data.Coupons.Total)
	assert.Equal(t, 1, data.Links.Total)

	result := SyncResult{Data: data}
	assert.Len(t, result.Records(), 2)

	assert.Nil(t, SplitByType([]NormalizedPurchase{{PurchaseType: PurchaseTypeCoupon}}).Links)
}

func TestCompleteness(t *testing.T) {
	total := 100
	partial := NewCompleteness(80, &total)
	assert.False(t, partial.IsComplete)
	assert.InDelta(t, 80.0, partial.Percentage, 0.001)
	assert.Contains(t, partial.Caveat(), "80 of 100")

	full := NewCompleteness(100, &total)
	assert.True(t, full.IsComplete)
	assert.Empty(t, full.Caveat())

	unknown := NewCompleteness(7, nil)
	assert.True(t, unknown.IsComplete)
	assert.Equal(t, 100.0, unknown.Percentage)
}

func TestSyncConfigRange(t *testing.T) {
	from, to, err := SyncConfig{DateFrom: "2024-01-01", DateTo: "2024-01-03"}.Range()
	require.NoError(t, err)
	assert.Equal(t, 2, int(to.Sub(from).Hours()/24))

	_, _, err = SyncConfig{DateFrom: "2024-01-05", DateTo: "2024-01-03"}.Range()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, _, err = SyncConfig{DateFrom: "01/01/2024", DateTo: "2024-01-03"}.Range()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	filled := SyncConfig{DateFrom: "2024-02-01"}.WithDefaults(SyncConfig{DateFrom: "x", DateTo: "2024-02-02", PageSize: 100, Currency: "USD"})
	assert.Equal(t, "2024-02-01", filled.DateFrom)
	assert.Equal(t, "2024-02-02", filled.DateTo)
	assert.Equal(t, 100, filled.PageSize)
	assert.Equal(t, "USD", filled.Currency)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "session_expired", ErrorKind(fmt.Errorf("fetch: %w", ErrSessionExpired)))
	assert.Equal(t, "session_expired_no_credentials", ErrorKind(ErrSessionExpiredNoCredentials))
	assert.Equal(t, "token_not_found", ErrorKind(&TokenNotFoundError{Field: "execution"}))
	assert.Equal(t, "http_502", ErrorKind(&HTTPStatusError{Endpoint: "x", StatusCode: 502}))
	assert.Equal(t, "unknown", ErrorKind(errors.New("boom")))
	assert.Equal(t, "none", ErrorKind(nil))

	assert.True(t, errors.Is(&TokenNotFoundError{Field: "csrf"}, ErrUnexpectedResponse))
	assert.True(t, IsAuthError(fmt.Errorf("x: %w", ErrSessionExpired)))
	assert.False(t, IsAuthError(ErrAuthenticationFailed))
}

func TestParamsKeepOrder(t *testing.T) {
	p := Params{}.Add("username", "a@b.c").Add("password", "p w").Add("credentialId", "")
	assert.Equal(t, "username=a%40b.c&password=p+w&credentialId=", p.Encode())
	assert.Equal(t, "p w", p.Get("password"))
}

func TestConnectionCloneAndMergeSession(t *testing.T) {
	conn := NetworkConnection{
		ID:          "c1",
		Credentials: map[string]Credential{"email": {Value: "a"}},
	}
	clone := conn.Clone()
	clone.Credentials["email"] = Credential{Value: "b"}
	assert.Equal(t, "a", conn.Credentials["email"].Value)

	conn.MergeSession(map[string]string{SessionAccessToken: "tok"})
	conn.MergeSession(nil)
	assert.Equal(t, "tok", conn.Session[SessionAccessToken])
}
