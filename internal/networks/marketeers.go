package networks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/internal/normalize"
	"affsync/internal/pagination"
)

const (
	marketeersPublisherID = "publisher_id"
	marketeersPageSize    = 100
)

var marketeersStatuses = normalize.StatusTable{
	"approved":  domain.StatusApproved,
	"confirmed": domain.StatusApproved,
	"pending":   domain.StatusPending,
	"new":       domain.StatusPending,
	"rejected":  domain.StatusRejected,
	"cancelled": domain.StatusRejected,
	"paid":      domain.StatusPaid,
}

// Marketeers signs in through a Next-auth credentials provider. The site
// blocks datacenter addresses, so every session goes through a working proxy
// and there is no direct fallback.
type Marketeers struct {
	base
}

func NewMarketeers(deps Deps) domain.Adapter {
	return &Marketeers{base: newBase("marketeers", domain.AdapterConfig{
		Kind: domain.AuthCookieSession,
		Fields: []domain.FieldSpec{
			{Name: "email", Label: "Email", Type: "email", Required: true},
			{Name: "password", Label: "Password", Type: "password", Required: true},
		},
		PrimaryFields:       []string{"email", "password"},
		AllowDirectFallback: false,
	}, deps)}
}

type marketeersSession struct {
	AccessToken string `json:"accessToken"`
	User        *struct {
		ID          any    `json:"id"`
		Email       string `json:"email"`
		PublisherID any    `json:"publisherId"`
	} `json:"user"`
}

func (m *Marketeers) login(ctx context.Context, client *infrastructure.HTTPClient, creds domain.Credentials) (map[string]string, error) {
	resp, err := client.Do(ctx, infrastructure.Request{URL: m.endpoints.BaseURL + "/api/auth/csrf", Endpoint: "auth/csrf"})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError("auth/csrf", resp)
	}
	var csrf struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := resp.DecodeJSON(&csrf); err != nil {
		return nil, err
	}
	if csrf.CSRFToken == "" {
		return nil, &domain.TokenNotFoundError{Field: "csrfToken"}
	}

	resp, err = client.Do(ctx, infrastructure.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.BaseURL + "/api/auth/callback/credentials",
		Form: domain.Params{}.
			Add("email", creds.Get("email")).
			Add("password", creds.Get("password")).
			Add("redirect", "false").
			Add("csrfToken", csrf.CSRFToken).
			Add("callbackUrl", m.endpoints.BaseURL+"/").
			Add("json", "true"),
		Endpoint: "auth/callback/credentials",
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: credentials rejected", domain.ErrAuthenticationFailed)
	}
	if !resp.IsSuccess() && !resp.IsRedirect() {
		return nil, statusError("auth/callback/credentials", resp)
	}
	// next-auth reports a rejected login through an error query on the
	// returned url instead of a status code
	callback := resp.Location()
	if callback == "" {
		var body struct {
			URL string `json:"url"`
		}
		_ = resp.DecodeJSON(&body)
		callback = body.URL
	}
	if u, err := url.Parse(callback); err == nil && u.Query().Get("error") != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthenticationFailed, u.Query().Get("error"))
	}

	resp, err = client.Do(ctx, infrastructure.Request{URL: m.endpoints.BaseURL + "/api/auth/session", Endpoint: "auth/session"})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError("auth/session", resp)
	}
	var session marketeersSession
	if err := resp.DecodeJSON(&session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" || session.User == nil {
		return nil, fmt.Errorf("%w: no session established", domain.ErrAuthenticationFailed)
	}
	publisherID := normalize.Text(session.User.PublisherID)
	if publisherID == "" {
		publisherID = normalize.Text(session.User.ID)
	}
	if publisherID == "" {
		return nil, &domain.TokenNotFoundError{Field: "publisherId"}
	}

	return map[string]string{
		domain.SessionAccessToken: session.AccessToken,
		domain.SessionCookies:     client.Cookies().HeaderString(),
		marketeersPublisherID:     publisherID,
	}, nil
}

func (m *Marketeers) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if v := m.ValidateCredentials(creds); !v.Valid {
		return m.invalidCredentials(v)
	}

	client, err := m.connect(ctx, domain.NewCookieJar(), m.endpoints.BaseURL+"/api/auth/csrf")
	if err != nil {
		return m.connectionFailure(ctx, creds, "Connection", err)
	}
	session, err := m.login(ctx, client, creds)
	if err != nil {
		m.deps.Metrics.RecordAuthAttempt(m.name, "failed")
		return m.connectionFailure(ctx, creds, "Authentication", err)
	}
	m.deps.Metrics.RecordAuthAttempt(m.name, "success")

	data := make(map[string]any, len(session))
	for k, v := range session {
		data[k] = v
	}
	return domain.ConnectionResult{Success: true, Message: "Connection successful", Data: data}
}

type marketeersOrder struct {
	ID           any    `json:"id"`
	OrderID      any    `json:"order_id"`
	CampaignID   any    `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	CouponCode   string `json:"coupon_code"`
	Country      string `json:"country"`
	OrderValue   any    `json:"order_value"`
	Commission   any    `json:"commission"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	CustomerType string `json:"customer_type"`
	Quantity     any    `json:"quantity"`
	CreatedAt    string `json:"created_at"`
}

type marketeersPage struct {
	Data       []marketeersOrder `json:"data"`
	Pagination *struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
		Total      int `json:"total"`
	} `json:"pagination"`
}

func (m *Marketeers) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	cfg, from, to, err := m.prepare(creds, cfg, domain.SessionAccessToken, marketeersPublisherID)
	if err != nil {
		return m.syncFailure(ctx, creds, err)
	}

	jar := domain.ParseCookieHeader(creds.Get(domain.SessionCookies))
	client, err := m.connect(ctx, jar, m.endpoints.BaseURL+"/api/auth/csrf")
	if err != nil {
		return m.syncFailure(ctx, creds, err)
	}

	recovery := sessionRecovery[pagination.Result[marketeersOrder]]{
		creds:   creds,
		primary: m.cfg.PrimaryFields,
		cached:  cachedSession(creds, domain.SessionAccessToken, marketeersPublisherID),
		login: func(ctx context.Context) (map[string]string, error) {
			return m.login(ctx, client, creds)
		},
		fetch: func(ctx context.Context, session map[string]string) (pagination.Result[marketeersOrder], error) {
			return m.fetchOrders(ctx, client, session, from, to, cfg.MaxPages)
		},
	}
	res, session, err := recovery.run(ctx, &m.base)
	if err != nil && res.Calls == 0 {
		return m.syncFailure(ctx, creds, err)
	}

	purchases := make([]domain.NormalizedPurchase, 0, len(res.Items))
	for _, o := range res.Items {
		purchases = append(purchases, normalizeMarketeers(o, from, cfg.Currency))
	}

	result := m.syncOutcome(ctx, creds, purchases, res.Completeness(), res.Calls, err)
	if session != nil {
		result.NewAccessToken = session[domain.SessionAccessToken]
		result.NewCookies = session[domain.SessionCookies]
		result.RefreshedCredentials = session
	}
	return result
}

func (m *Marketeers) fetchOrders(ctx context.Context, client *infrastructure.HTTPClient, session map[string]string, from, to time.Time, maxPages int) (pagination.Result[marketeersOrder], error) {
	endpoint := m.endpoints.APIURL + "/publishers/" + url.PathEscape(session[marketeersPublisherID]) + "/orders"

	fetch := func(ctx context.Context, page int) (pagination.Page[marketeersOrder], error) {
		resp, err := client.Do(ctx, infrastructure.Request{
			URL: endpoint,
			Query: domain.Params{}.
				Add("from", from.Format(domain.DateLayout)).
				Add("to", to.Format(domain.DateLayout)).
				Add("page", strconv.Itoa(page)).
				Add("per_page", strconv.Itoa(marketeersPageSize)),
			Header:   map[string]string{"Authorization": "Bearer " + session[domain.SessionAccessToken]},
			Endpoint: "publishers/orders",
		})
		if err != nil {
			return pagination.Page[marketeersOrder]{}, err
		}
		if resp.IsRedirect() && strings.Contains(resp.Location(), "/login") {
			return pagination.Page[marketeersOrder]{}, fmt.Errorf("%w: redirected to login", domain.ErrSessionExpired)
		}
		if !resp.IsSuccess() {
			return pagination.Page[marketeersOrder]{}, statusError("publishers/orders", resp)
		}

		var body marketeersPage
		if err := resp.DecodeJSON(&body); err != nil {
			return pagination.Page[marketeersOrder]{}, err
		}
		out := pagination.Page[marketeersOrder]{Items: body.Data}
		if body.Pagination != nil {
			total := body.Pagination.Total
			out.DeclaredTotal = &total
			if page < body.Pagination.TotalPages {
				next := page + 1
				out.Next = &next
			}
		}
		return out, nil
	}

	return pagination.Fetch(ctx, 1, fetch, pagination.Options{MaxPages: maxPages, Delay: m.deps.Sync.PageDelay, Sleep: m.deps.Sleep})
}

// every Marketeers order is a coupon
func normalizeMarketeers(o marketeersOrder, fallback time.Time, target string) domain.NormalizedPurchase {
	sale := normalize.Convert(normalize.Amount(o.OrderValue), o.Currency, target)
	revenue := normalize.Convert(normalize.Amount(o.Commission), o.Currency, target)

	return normalize.Finalize(domain.NormalizedPurchase{
		CampaignID:     normalize.Text(o.CampaignID),
		CampaignName:   o.CampaignName,
		Code:           o.CouponCode,
		PurchaseType:   domain.PurchaseTypeCoupon,
		Country:        o.Country,
		OrderID:        normalize.Text(o.OrderID),
		NetworkOrderID: normalize.Text(o.ID),
		OrderValue:     sale.Amount,
		Revenue:        revenue.Amount,
		Quantity:       normalize.Quantity(o.Quantity),
		CustomerType:   normalize.CustomerType(o.CustomerType),
		Status:         marketeersStatuses.Map(o.Status),
		OrderDate:      normalize.OrderDate(o.CreatedAt, fallback),
		Currency:       sale.Currency,
		ConvertedTo:    sale.ConvertedTo,
	})
}
