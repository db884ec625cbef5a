package networks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/internal/normalize"
	"affsync/internal/pagination"

	"github.com/sirupsen/logrus"
)

const (
	optimiseMaxRedirects = 10
	optimisePageSize     = 100
)

// steps of the login chain, used in errors and logs
const (
	stateLoginPageLoaded          = "login_page_loaded"
	stateCredentialsSubmitted     = "credentials_submitted"
	stateRedirectsFollowed        = "redirects_followed"
	stateClientCredentialsFetched = "client_credentials_retrieved"
	stateAuthorizationPageLoaded  = "authorization_page_loaded"
	stateCaptchaSolved            = "captcha_solved"
	stateAuthorizationSubmitted   = "authorization_submitted"
	stateCodeExchanged            = "code_exchanged"
)

var optimiseStatuses = normalize.StatusTable{
	"approved":  domain.StatusApproved,
	"validated": domain.StatusApproved,
	"pending":   domain.StatusPending,
	"rejected":  domain.StatusRejected,
	"declined":  domain.StatusRejected,
	"paid":      domain.StatusPaid,
	"invoiced":  domain.StatusPaid,
}

// Optimise logs in through a Keycloak redirect chain guarded by reCAPTCHA and
// ends with an OAuth authorization-code exchange on the app.
type Optimise struct {
	base
}

func NewOptimise(deps Deps) domain.Adapter {
	return &Optimise{base: newBase("optimise", domain.AdapterConfig{
		Kind: domain.AuthOAuthChain,
		Fields: []domain.FieldSpec{
			{Name: "email", Label: "Email", Type: "email", Required: true},
			{Name: "password", Label: "Password", Type: "password", Required: true},
		},
		PrimaryFields:       []string{"email", "password"},
		AllowDirectFallback: true,
	}, deps)}
}

type stepError struct {
	state string
	err   error
}

func (e *stepError) Error() string { return e.state + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func step(state string, err error) error {
	return &stepError{state: state, err: err}
}

// login runs the whole chain up to AuthRetries times with a fixed backoff.
func (o *Optimise) login(ctx context.Context, creds domain.Credentials) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.deps.Sync.AuthFlowTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= o.deps.Sync.AuthRetries; attempt++ {
		if attempt > 1 {
			if err := o.deps.Sleep(ctx, o.deps.Sync.AuthBackoff); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
			}
		}

		session, err := o.loginOnce(ctx, creds)
		if err == nil {
			o.log(ctx).WithField("attempt", attempt).Info("Authentication chain completed")
			return session, nil
		}
		lastErr = err

		entry := o.log(ctx).WithFields(logrus.Fields{"attempt": attempt, "error_kind": domain.ErrorKind(err)})
		var se *stepError
		if errors.As(err, &se) {
			entry = entry.WithField("state", se.state)
		}
		entry.Warn("Authentication chain failed")

		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (o *Optimise) loginOnce(ctx context.Context, creds domain.Credentials) (map[string]string, error) {
	jar := domain.NewCookieJar()
	client, err := o.connect(ctx, jar, o.endpoints.BaseURL)
	if err != nil {
		return nil, step(stateLoginPageLoaded, err)
	}

	// login page, reached through the app's redirect to the identity provider
	resp, err := client.Do(ctx, infrastructure.Request{URL: o.endpoints.BaseURL + "/login", Endpoint: "login"})
	if err == nil {
		resp, _, err = client.FollowRedirects(ctx, resp, optimiseMaxRedirects, nil)
	}
	if err != nil {
		return nil, step(stateLoginPageLoaded, err)
	}
	if !resp.IsSuccess() {
		return nil, step(stateLoginPageLoaded, statusError("login", resp))
	}
	tokens, err := ParseLoginActionTokens(resp.Body, resp.URL)
	if err != nil {
		return nil, step(stateLoginPageLoaded, err)
	}

	resp, err = client.Do(ctx, infrastructure.Request{
		Method: http.MethodPost,
		URL:    tokens.Endpoint(),
		Query:  tokens.Query(),
		Form: domain.Params{}.
			Add("username", creds.Get("email")).
			Add("password", creds.Get("password")).
			Add("credentialId", ""),
		Endpoint: "login-actions/authenticate",
	})
	if err != nil {
		return nil, step(stateCredentialsSubmitted, err)
	}
	if !resp.IsRedirect() {
		// the identity provider re-renders the form when it rejects the login
		if resp.IsSuccess() {
			return nil, step(stateCredentialsSubmitted, fmt.Errorf("%w: login rejected", domain.ErrAuthenticationFailed))
		}
		return nil, step(stateCredentialsSubmitted, statusError("login-actions/authenticate", resp))
	}

	resp, _, err = client.FollowRedirects(ctx, resp, optimiseMaxRedirects, nil)
	if err != nil {
		return nil, step(stateRedirectsFollowed, err)
	}
	if !resp.IsSuccess() {
		return nil, step(stateRedirectsFollowed, statusError("post-login redirect", resp))
	}

	resp, err = client.Do(ctx, infrastructure.Request{
		URL:      o.endpoints.BaseURL + "/api/oauth/client",
		Header:   map[string]string{"X-Requested-With": "XMLHttpRequest"},
		Endpoint: "api/oauth/client",
	})
	if err != nil {
		return nil, step(stateClientCredentialsFetched, err)
	}
	if !resp.IsSuccess() {
		return nil, step(stateClientCredentialsFetched, statusError("api/oauth/client", resp))
	}
	var oauthClient struct {
		ClientID    string `json:"client_id"`
		RedirectURI string `json:"redirect_uri"`
	}
	if err := resp.DecodeJSON(&oauthClient); err != nil {
		return nil, step(stateClientCredentialsFetched, err)
	}
	if oauthClient.ClientID == "" {
		return nil, step(stateClientCredentialsFetched, &domain.TokenNotFoundError{Field: "client_id"})
	}

	authorize := domain.Params{}.
		Add("client_id", oauthClient.ClientID).
		Add("redirect_uri", oauthClient.RedirectURI).
		Add("response_type", "code").
		Add("scope", "")
	resp, err = client.Do(ctx, infrastructure.Request{
		URL:      o.endpoints.BaseURL + "/oauth/authorize",
		Query:    authorize,
		Endpoint: "oauth/authorize",
	})
	if err != nil {
		return nil, step(stateAuthorizationPageLoaded, err)
	}
	if !resp.IsSuccess() {
		return nil, step(stateAuthorizationPageLoaded, statusError("oauth/authorize", resp))
	}
	csrf, err := InputValue(resp.Body, "_token")
	if err != nil {
		return nil, step(stateAuthorizationPageLoaded, err)
	}
	siteKey, err := SiteKey(resp.Body)
	if err != nil {
		return nil, step(stateAuthorizationPageLoaded, err)
	}
	pageURL := resp.URL.String()

	if o.deps.Captcha == nil {
		return nil, step(stateCaptchaSolved, fmt.Errorf("%w: no captcha solver configured", domain.ErrCaptchaSolveFailed))
	}
	captcha, err := o.deps.Captcha.SolveRecaptcha(ctx, siteKey, pageURL)
	if err != nil {
		return nil, step(stateCaptchaSolved, err)
	}
	if captcha == "" {
		return nil, step(stateCaptchaSolved, fmt.Errorf("%w: empty token", domain.ErrCaptchaSolveFailed))
	}

	resp, err = client.Do(ctx, infrastructure.Request{
		Method: http.MethodPost,
		URL:    o.endpoints.BaseURL + "/oauth/authorize",
		Form: domain.Params{}.
			Add("_token", csrf).
			Add("client_id", oauthClient.ClientID).
			Add("redirect_uri", oauthClient.RedirectURI).
			Add("response_type", "code").
			Add("g-recaptcha-response", captcha),
		Header:   map[string]string{"Referer": pageURL},
		Endpoint: "oauth/authorize",
	})
	if err != nil {
		return nil, step(stateAuthorizationSubmitted, err)
	}
	if !resp.IsRedirect() {
		return nil, step(stateAuthorizationSubmitted, fmt.Errorf("%w: authorization not granted (status %d)", domain.ErrAuthenticationFailed, resp.StatusCode))
	}
	code, err := QueryValue(resp.Location(), "code")
	if err != nil {
		return nil, step(stateAuthorizationSubmitted, err)
	}

	resp, err = client.Do(ctx, infrastructure.Request{
		Method: http.MethodPost,
		URL:    o.endpoints.BaseURL + "/oauth/token",
		Form: domain.Params{}.
			Add("grant_type", "authorization_code").
			Add("client_id", oauthClient.ClientID).
			Add("redirect_uri", oauthClient.RedirectURI).
			Add("code", code),
		Endpoint: "oauth/token",
	})
	if err != nil {
		return nil, step(stateCodeExchanged, err)
	}
	if !resp.IsSuccess() {
		return nil, step(stateCodeExchanged, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, &domain.HTTPStatusError{Endpoint: "oauth/token", StatusCode: resp.StatusCode}))
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.DecodeJSON(&token); err != nil {
		return nil, step(stateCodeExchanged, err)
	}
	if token.AccessToken == "" {
		return nil, step(stateCodeExchanged, &domain.TokenNotFoundError{Field: "access_token"})
	}

	return map[string]string{
		domain.SessionAccessToken: token.AccessToken,
		domain.SessionCookies:     jar.HeaderString(),
	}, nil
}

func (o *Optimise) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if v := o.ValidateCredentials(creds); !v.Valid {
		return o.invalidCredentials(v)
	}

	session, err := o.login(ctx, creds)
	if err != nil {
		o.deps.Metrics.RecordAuthAttempt(o.name, "failed")
		return o.connectionFailure(ctx, creds, "Authentication", err)
	}
	o.deps.Metrics.RecordAuthAttempt(o.name, "success")

	return domain.ConnectionResult{
		Success: true,
		Message: "Connection successful",
		Data: map[string]any{
			domain.SessionAccessToken: session[domain.SessionAccessToken],
			domain.SessionCookies:     session[domain.SessionCookies],
		},
	}
}

type optimiseConversion struct {
	ConversionID   any    `json:"conversion_id"`
	OrderReference any    `json:"order_reference"`
	CampaignID     any    `json:"campaign_id"`
	CampaignName   string `json:"campaign_name"`
	VoucherCode    any    `json:"voucher_code"`
	Ref            any    `json:"ref"`
	OrderValue     any    `json:"order_value"`
	Commission     any    `json:"commission"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	ConversionDate string `json:"conversion_date"`
	Country        string `json:"country"`
	CustomerType   string `json:"customer_type"`
}

type optimisePage struct {
	Data []optimiseConversion `json:"data"`
	Meta *struct {
		Total       int `json:"total"`
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
	} `json:"meta"`
}

func (o *Optimise) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	cfg, from, to, err := o.prepare(creds, cfg, domain.SessionAccessToken)
	if err != nil {
		return o.syncFailure(ctx, creds, err)
	}

	api, err := o.directClient(nil)
	if err != nil {
		return o.syncFailure(ctx, creds, err)
	}

	recovery := sessionRecovery[pagination.Result[optimiseConversion]]{
		creds:   creds,
		primary: o.cfg.PrimaryFields,
		cached:  cachedSession(creds, domain.SessionAccessToken),
		login: func(ctx context.Context) (map[string]string, error) {
			return o.login(ctx, creds)
		},
		fetch: func(ctx context.Context, session map[string]string) (pagination.Result[optimiseConversion], error) {
			return o.fetchConversions(ctx, api, session[domain.SessionAccessToken], from, to, cfg.MaxPages)
		},
	}
	res, session, err := recovery.run(ctx, &o.base)
	if err != nil && res.Calls == 0 {
		return o.syncFailure(ctx, creds, err)
	}

	purchases := make([]domain.NormalizedPurchase, 0, len(res.Items))
	for _, c := range res.Items {
		purchases = append(purchases, normalizeOptimise(c, from, cfg.Currency))
	}

	result := o.syncOutcome(ctx, creds, purchases, res.Completeness(), res.Calls, err)
	if session != nil {
		result.NewAccessToken = session[domain.SessionAccessToken]
		result.NewCookies = session[domain.SessionCookies]
		result.RefreshedCredentials = session
	}
	return result
}

func (o *Optimise) fetchConversions(ctx context.Context, client *infrastructure.HTTPClient, token string, from, to time.Time, maxPages int) (pagination.Result[optimiseConversion], error) {
	fetch := func(ctx context.Context, page int) (pagination.Page[optimiseConversion], error) {
		resp, err := client.Do(ctx, infrastructure.Request{
			URL: o.endpoints.APIURL + "/v1/publisher/conversions",
			Query: domain.Params{}.
				Add("dateFrom", from.Format(domain.DateLayout)).
				Add("dateTo", to.Format(domain.DateLayout)).
				Add("page", strconv.Itoa(page)).
				Add("pageSize", strconv.Itoa(optimisePageSize)),
			Header:   map[string]string{"Authorization": "Bearer " + token},
			Endpoint: "publisher/conversions",
		})
		if err != nil {
			return pagination.Page[optimiseConversion]{}, err
		}
		if !resp.IsSuccess() {
			return pagination.Page[optimiseConversion]{}, statusError("publisher/conversions", resp)
		}

		var body optimisePage
		if err := resp.DecodeJSON(&body); err != nil {
			return pagination.Page[optimiseConversion]{}, err
		}
		out := pagination.Page[optimiseConversion]{Items: body.Data}
		if body.Meta != nil {
			total := body.Meta.Total
			out.DeclaredTotal = &total
			if body.Meta.CurrentPage < body.Meta.LastPage {
				next := page + 1
				out.Next = &next
			}
		}
		return out, nil
	}

	return pagination.Fetch(ctx, 1, fetch, pagination.Options{MaxPages: maxPages, Delay: o.deps.Sync.PageDelay, Sleep: o.deps.Sleep})
}

// voucher wins over ref, like the promo/subid rule
func normalizeOptimise(c optimiseConversion, fallback time.Time, target string) domain.NormalizedPurchase {
	ptype, code := normalize.Classify(normalize.Text(c.VoucherCode), normalize.Text(c.Ref))
	sale := normalize.Convert(normalize.Amount(c.OrderValue), c.Currency, target)
	revenue := normalize.Convert(normalize.Amount(c.Commission), c.Currency, target)

	return normalize.Finalize(domain.NormalizedPurchase{
		CampaignID:     normalize.Text(c.CampaignID),
		CampaignName:   c.CampaignName,
		Code:           code,
		PurchaseType:   ptype,
		Country:        c.Country,
		OrderID:        normalize.Text(c.OrderReference),
		NetworkOrderID: normalize.Text(c.ConversionID),
		OrderValue:     sale.Amount,
		Revenue:        revenue.Amount,
		Quantity:       1,
		CustomerType:   normalize.CustomerType(c.CustomerType),
		Status:         optimiseStatuses.Map(c.Status),
		OrderDate:      normalize.OrderDate(c.ConversionDate, fallback),
		Currency:       sale.Currency,
		ConvertedTo:    sale.ConvertedTo,
	})
}
