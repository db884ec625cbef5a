package networks

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/internal/normalize"
	"affsync/internal/pagination"

	"github.com/sirupsen/logrus"
)

const arabclicksSessionExpired = 419

var arabclicksStatuses = normalize.StatusTable{
	"approved": domain.StatusApproved,
	"accepted": domain.StatusApproved,
	"pending":  domain.StatusPending,
	"hold":     domain.StatusPending,
	"rejected": domain.StatusRejected,
	"declined": domain.StatusRejected,
	"paid":     domain.StatusPaid,
}

// Arabclicks is a PHP session site. The login form sends the password base64
// encoded and answers with a redirect that must not be followed.
type Arabclicks struct {
	base
}

func NewArabclicks(deps Deps) domain.Adapter {
	return &Arabclicks{base: newBase("arabclicks", domain.AdapterConfig{
		Kind: domain.AuthPasswordToken,
		Fields: []domain.FieldSpec{
			{Name: "email", Label: "Email", Type: "email", Required: true},
			{Name: "password", Label: "Password", Type: "password", Required: true},
		},
		PrimaryFields:       []string{"email", "password"},
		AllowDirectFallback: true,
	}, deps)}
}

func (a *Arabclicks) login(ctx context.Context, client *infrastructure.HTTPClient, creds domain.Credentials) (map[string]string, error) {
	resp, err := client.Do(ctx, infrastructure.Request{URL: a.endpoints.BaseURL + "/login", Endpoint: "login page"})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError("login page", resp)
	}
	token, err := InputValue(resp.Body, "_token")
	if err != nil {
		return nil, err
	}
	if _, ok := client.Cookies().Get("PHPSESSID"); !ok {
		return nil, &domain.TokenNotFoundError{Field: "PHPSESSID"}
	}

	resp, err = client.Do(ctx, infrastructure.Request{
		Method: http.MethodPost,
		URL:    a.endpoints.BaseURL + "/login",
		Form: domain.Params{}.
			Add("_token", token).
			Add("email", creds.Get("email")).
			Add("password", base64.StdEncoding.EncodeToString([]byte(creds.Get("password")))).
			Add("remember", "1"),
		Header:   map[string]string{"Referer": a.endpoints.BaseURL + "/login"},
		Endpoint: "login",
	})
	if err != nil {
		return nil, err
	}
	// success is judged by status alone, the body is not inspected
	if !resp.IsSuccess() && !(resp.StatusCode >= 300 && resp.StatusCode < 400) {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, &domain.HTTPStatusError{Endpoint: "login", StatusCode: resp.StatusCode})
	}

	return map[string]string{domain.SessionCookies: client.Cookies().HeaderString()}, nil
}

func (a *Arabclicks) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if v := a.ValidateCredentials(creds); !v.Valid {
		return a.invalidCredentials(v)
	}

	client, err := a.connect(ctx, domain.NewCookieJar(), a.endpoints.BaseURL+"/login")
	if err != nil {
		return a.connectionFailure(ctx, creds, "Connection", err)
	}
	session, err := a.login(ctx, client, creds)
	if err != nil {
		a.deps.Metrics.RecordAuthAttempt(a.name, "failed")
		return a.connectionFailure(ctx, creds, "Authentication", err)
	}
	a.deps.Metrics.RecordAuthAttempt(a.name, "success")

	return domain.ConnectionResult{
		Success: true,
		Message: "Connection successful",
		Data:    map[string]any{domain.SessionCookies: session[domain.SessionCookies]},
	}
}

type arabclicksConversion struct {
	ConversionID any    `json:"conversion_id"`
	OfferID      any    `json:"offer_id"`
	OfferName    string `json:"offer_name"`
	Coupon       any    `json:"coupon"`
	AffSub       any    `json:"aff_sub"`
	Country      string `json:"country"`
	SaleAmount   any    `json:"sale_amount"`
	Payout       any    `json:"payout"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Datetime     string `json:"datetime"`
}

type arabclicksPage struct {
	Total *int                   `json:"total"`
	Data  []arabclicksConversion `json:"data"`
}

func (a *Arabclicks) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	cfg, from, to, err := a.prepare(creds, cfg, domain.SessionCookies)
	if err != nil {
		return a.syncFailure(ctx, creds, err)
	}

	jar := domain.ParseCookieHeader(creds.Get(domain.SessionCookies))
	client, err := a.connect(ctx, jar, a.endpoints.BaseURL+"/login")
	if err != nil {
		return a.syncFailure(ctx, creds, err)
	}

	recovery := sessionRecovery[pagination.Result[arabclicksConversion]]{
		creds:   creds,
		primary: a.cfg.PrimaryFields,
		cached:  cachedSession(creds, domain.SessionCookies),
		login: func(ctx context.Context) (map[string]string, error) {
			return a.login(ctx, client, creds)
		},
		fetch: func(ctx context.Context, session map[string]string) (pagination.Result[arabclicksConversion], error) {
			return a.fetchConversions(ctx, client, from, to, cfg.PageSize, cfg.MaxPages)
		},
	}
	res, session, err := recovery.run(ctx, &a.base)
	if err != nil && res.Calls == 0 {
		return a.syncFailure(ctx, creds, err)
	}

	purchases := make([]domain.NormalizedPurchase, 0, len(res.Items))
	for _, c := range res.Items {
		p, ok := normalizeArabclicks(c, from, cfg.Currency)
		if !ok {
			a.dropped(ctx, "missing_offer_id", logrus.Fields{"conversion_id": normalize.Text(c.ConversionID)})
			continue
		}
		purchases = append(purchases, p)
	}

	result := a.syncOutcome(ctx, creds, purchases, res.Completeness(), res.Calls, err)
	if session != nil {
		// the jar kept merging cookies while the fetch ran
		result.NewCookies = client.Cookies().HeaderString()
		result.RefreshedCredentials = map[string]string{domain.SessionCookies: result.NewCookies}
	}
	return result
}

func (a *Arabclicks) fetchConversions(ctx context.Context, client *infrastructure.HTTPClient, from, to time.Time, pageSize, maxPages int) (pagination.Result[arabclicksConversion], error) {
	fetch := func(ctx context.Context, offset int) (pagination.Page[arabclicksConversion], error) {
		resp, err := client.Do(ctx, infrastructure.Request{
			URL: a.endpoints.BaseURL + "/publisher/reports/conversions",
			Query: domain.Params{}.
				Add("start_date", from.Format(domain.DateLayout)).
				Add("end_date", to.Format(domain.DateLayout)).
				Add("limit", strconv.Itoa(pageSize)).
				Add("offset", strconv.Itoa(offset)),
			Header: map[string]string{
				"X-Requested-With": "XMLHttpRequest",
				"Accept":           "application/json",
			},
			Endpoint: "reports/conversions",
		})
		if err != nil {
			return pagination.Page[arabclicksConversion]{}, err
		}
		if isLoginRedirect(resp) || resp.StatusCode == arabclicksSessionExpired {
			return pagination.Page[arabclicksConversion]{}, fmt.Errorf("%w: session no longer valid", domain.ErrSessionExpired)
		}
		if !resp.IsSuccess() {
			return pagination.Page[arabclicksConversion]{}, statusError("reports/conversions", resp)
		}

		var body arabclicksPage
		if err := resp.DecodeJSON(&body); err != nil {
			return pagination.Page[arabclicksConversion]{}, err
		}
		return pagination.Page[arabclicksConversion]{Items: body.Data, DeclaredTotal: body.Total}, nil
	}

	return pagination.Offsets(ctx, pagination.OffsetList(pageSize, maxPages), pageSize, fetch, pagination.Options{
		Delay: a.deps.Sync.PageDelay,
		Sleep: a.deps.Sleep,
	})
}

func isLoginRedirect(resp *infrastructure.Response) bool {
	return resp.IsRedirect() && strings.Contains(resp.Location(), "/login")
}

// normalizeArabclicks drops conversions without an offer id.
func normalizeArabclicks(c arabclicksConversion, fallback time.Time, target string) (domain.NormalizedPurchase, bool) {
	offerID := normalize.Text(c.OfferID)
	if offerID == "" {
		return domain.NormalizedPurchase{}, false
	}

	ptype, code := normalize.Classify(normalize.Text(c.Coupon), normalize.Text(c.AffSub))
	sale := normalize.Convert(normalize.Amount(c.SaleAmount), c.Currency, target)
	revenue := normalize.Convert(normalize.Amount(c.Payout), c.Currency, target)

	return normalize.Finalize(domain.NormalizedPurchase{
		CampaignID:     offerID,
		CampaignName:   c.OfferName,
		Code:           code,
		PurchaseType:   ptype,
		Country:        c.Country,
		NetworkOrderID: normalize.Text(c.ConversionID),
		OrderValue:     sale.Amount,
		Revenue:        revenue.Amount,
		Quantity:       1,
		CustomerType:   domain.CustomerUnknown,
		Status:         arabclicksStatuses.Map(c.Status),
		OrderDate:      normalize.OrderDate(c.Datetime, fallback),
		Currency:       sale.Currency,
		ConvertedTo:    sale.ConvertedTo,
	}), true
}
