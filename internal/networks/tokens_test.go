package networks

import (
	"net/url"
	"testing"

	"affsync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keycloakPage = `<html><body>
<form id="kc-form-login" method="post"
  action="/realms/publishers/login-actions/authenticate?session_code=SC1&amp;execution=EX-9&amp;client_id=app&amp;tab_id=TAB7">
  <input name="username"><input name="password" type="password">
</form></body></html>`

func TestParseLoginActionTokens(t *testing.T) {
	page, _ := url.Parse("https://auth.example/realms/publishers/protocol/openid-connect/auth?client_id=app")

	tokens, err := ParseLoginActionTokens([]byte(keycloakPage), page)
	require.NoError(t, err)
	assert.Equal(t, "SC1", tokens.SessionCode)
	assert.Equal(t, "EX-9", tokens.Execution)
	assert.Equal(t, "TAB7", tokens.TabID)
	assert.Equal(t, "app", tokens.ClientID)
	assert.Equal(t, "https://auth.example/realms/publishers/login-actions/authenticate", tokens.Endpoint())
	assert.Equal(t, "session_code=SC1&execution=EX-9&client_id=app&tab_id=TAB7", tokens.Query().Encode())
}

func TestParseLoginActionTokensMissing(t *testing.T) {
	_, err := ParseLoginActionTokens([]byte(`<form id="kc-form-login" action="/auth?session_code=a&tab_id=b"></form>`), nil)
	var missing *domain.TokenNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "execution", missing.Field)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = ParseLoginActionTokens([]byte(`<p>maintenance</p>`), nil)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "form_action", missing.Field)
}

func TestInputValueAndSiteKey(t *testing.T) {
	page := []byte(`<form><input type="hidden" name="_token" value=" csrf-abc "></form>
<div class="g-recaptcha" data-sitekey="6LcSiteKeyFromAttribute0001"></div>`)

	token, err := InputValue(page, "_token")
	require.NoError(t, err)
	assert.Equal(t, "csrf-abc", token)

	key, err := SiteKey(page)
	require.NoError(t, err)
	assert.Equal(t, "6LcSiteKeyFromAttribute0001", key)

	script := []byte(`<script>grecaptcha.render('box', {'sitekey': '6LcSiteKeyFromScript000002'});</script>`)
	key, err = SiteKey(script)
	require.NoError(t, err)
	assert.Equal(t, "6LcSiteKeyFromScript000002", key)

	_, err = InputValue([]byte(`<form></form>`), "_token")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = SiteKey([]byte(`<form></form>`))
	assert.ErrorIs(t, err, domain.ErrUnexpectedResponse)
}

func TestQueryValue(t *testing.T) {
	code, err := QueryValue("https://app.example/callback?code=abc&state=x", "code")
	require.NoError(t, err)
	assert.Equal(t, "abc", code)

	_, err = QueryValue("https://app.example/callback?error=denied", "code")
	var missing *domain.TokenNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "code", missing.Field)
}
