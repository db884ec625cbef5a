package networks

import (
	"context"
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
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	admitadPageSize   = 500
	admitadPageCount  = 4
	admitadDateLayout = "02.01.2006"
)

var admitadStatuses = normalize.StatusTable{
	"approved":             domain.StatusApproved,
	"approved_but_stalled": domain.StatusApproved,
	"pending":              domain.StatusPending,
	"hold":                 domain.StatusPending,
	"declined":             domain.StatusRejected,
	"rejected":             domain.StatusRejected,
}

// Admitad is a token-bearer network whose token comes from an OAuth2
// client-credentials grant.
type Admitad struct {
	base
}

func NewAdmitad(deps Deps) domain.Adapter {
	return &Admitad{base: newBase("admitad", domain.AdapterConfig{
		Kind: domain.AuthTokenBearer,
		Fields: []domain.FieldSpec{
			{Name: "client_id", Label: "Client ID", Type: "text", Required: true},
			{Name: "client_secret", Label: "Client Secret", Type: "password", Required: true},
		},
		PrimaryFields:       []string{"client_id", "client_secret"},
		AllowDirectFallback: true,
	}, deps)}
}

type admitadAction struct {
	ActionID     any    `json:"action_id"`
	OrderID      any    `json:"order_id"`
	CampaignID   any    `json:"advcampaign_id"`
	CampaignName string `json:"advcampaign_name"`
	Promocode    any    `json:"promocode"`
	Subid        any    `json:"subid"`
	Cart         any    `json:"cart"`
	Payment      any    `json:"payment"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Paid         any    `json:"paid"`
	ActionDate   string `json:"action_date"`
	Country      string `json:"action_country"`
}

type admitadActions struct {
	Results []admitadAction `json:"results"`
	Meta    *struct {
		Count  int `json:"count"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"_meta"`
}

func (a *Admitad) token(ctx context.Context, client *infrastructure.HTTPClient, creds domain.Credentials) (string, error) {
	cc := clientcredentials.Config{
		ClientID:     creds.Get("client_id"),
		ClientSecret: creds.Get("client_secret"),
		TokenURL:     a.endpoints.AuthURL,
		Scopes:       []string{"statistics", "public_data"},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client.StdClient())
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", domain.ErrAuthenticationFailed, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrAuthenticationFailed)
	}
	return tok.AccessToken, nil
}

func (a *Admitad) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if v := a.ValidateCredentials(creds); !v.Valid {
		return a.invalidCredentials(v)
	}

	client, err := a.directClient(nil)
	if err != nil {
		return a.connectionFailure(ctx, creds, "Connection test", err)
	}
	token, err := a.token(ctx, client, creds)
	if err != nil {
		return a.connectionFailure(ctx, creds, "Authentication", err)
	}

	resp, err := client.Do(ctx, infrastructure.Request{
		URL:      a.endpoints.APIURL + "/me/",
		Header:   map[string]string{"Authorization": "Bearer " + token},
		Endpoint: "me",
	})
	if err != nil {
		return a.connectionFailure(ctx, creds, "Connection test", err)
	}
	if !resp.IsSuccess() {
		return a.connectionFailure(ctx, creds, "Connection test", statusError("me", resp))
	}
	var me struct {
		ID       any    `json:"id"`
		Username string `json:"username"`
	}
	if err := resp.DecodeJSON(&me); err != nil {
		return a.connectionFailure(ctx, creds, "Connection test", err)
	}

	return domain.ConnectionResult{
		Success: true,
		Message: "Connection successful",
		Data: map[string]any{
			"username":     me.Username,
			"account_id":   normalize.Text(me.ID),
			"access_token": token,
		},
	}
}

func (a *Admitad) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	cfg, from, to, err := a.prepare(creds, cfg, domain.SessionAccessToken)
	if err != nil {
		return a.syncFailure(ctx, creds, err)
	}

	client, err := a.directClient(nil)
	if err != nil {
		return a.syncFailure(ctx, creds, err)
	}

	recovery := sessionRecovery[pagination.Result[admitadAction]]{
		creds:   creds,
		primary: a.cfg.PrimaryFields,
		cached:  cachedSession(creds, domain.SessionAccessToken),
		login: func(ctx context.Context) (map[string]string, error) {
			token, err := a.token(ctx, client, creds)
			if err != nil {
				return nil, err
			}
			return map[string]string{domain.SessionAccessToken: token}, nil
		},
		fetch: func(ctx context.Context, session map[string]string) (pagination.Result[admitadAction], error) {
			return a.fetchActions(ctx, client, session[domain.SessionAccessToken], from, to)
		},
	}
	res, session, err := recovery.run(ctx, &a.base)
	if err != nil && res.Calls == 0 {
		return a.syncFailure(ctx, creds, err)
	}

	purchases := make([]domain.NormalizedPurchase, 0, len(res.Items))
	for _, action := range res.Items {
		p, ok := normalizeAdmitad(action, from, cfg.Currency)
		if !ok {
			a.dropped(ctx, "missing_campaign_id", logrus.Fields{"action_id": normalize.Text(action.ActionID)})
			continue
		}
		if subid := normalize.Text(action.Subid); subid != "" {
			a.log(ctx).WithFields(logrus.Fields{
				"action_id":    p.NetworkOrderID,
				"subid_format": normalize.SubidFormat(subid),
			}).Debug("Classified action")
		}
		purchases = append(purchases, p)
	}

	result := a.syncOutcome(ctx, creds, purchases, res.Completeness(), res.Calls, err)
	if token := session[domain.SessionAccessToken]; token != "" {
		result.NewAccessToken = token
		result.RefreshedCredentials = session
	}
	return result
}

func (a *Admitad) fetchActions(ctx context.Context, client *infrastructure.HTTPClient, token string, from, to time.Time) (pagination.Result[admitadAction], error) {
	fetch := func(ctx context.Context, offset int) (pagination.Page[admitadAction], error) {
		resp, err := client.Do(ctx, infrastructure.Request{
			Method: http.MethodGet,
			URL:    a.endpoints.APIURL + "/statistics/actions/",
			Query: domain.Params{}.
				Add("date_start", from.Format(admitadDateLayout)).
				Add("date_end", to.Format(admitadDateLayout)).
				Add("limit", strconv.Itoa(admitadPageSize)).
				Add("offset", strconv.Itoa(offset)),
			Header:   map[string]string{"Authorization": "Bearer " + token},
			Endpoint: "statistics/actions",
		})
		if err != nil {
			return pagination.Page[admitadAction]{}, err
		}
		if !resp.IsSuccess() {
			return pagination.Page[admitadAction]{}, statusError("statistics/actions", resp)
		}

		var body admitadActions
		if err := resp.DecodeJSON(&body); err != nil {
			return pagination.Page[admitadAction]{}, err
		}
		page := pagination.Page[admitadAction]{Items: body.Results}
		if body.Meta != nil {
			count := body.Meta.Count
			page.DeclaredTotal = &count
		}
		return page, nil
	}

	return pagination.Offsets(ctx, pagination.OffsetList(admitadPageSize, admitadPageCount), admitadPageSize, fetch, pagination.Options{
		Delay: a.deps.Sync.PageDelay,
		Sleep: a.deps.Sleep,
	})
}

// normalizeAdmitad maps one action; ok is false when the campaign id is
// missing and the record must be dropped.
func normalizeAdmitad(a admitadAction, fallback time.Time, target string) (domain.NormalizedPurchase, bool) {
	campaignID := normalize.Text(a.CampaignID)
	if campaignID == "" || campaignID == "0" {
		return domain.NormalizedPurchase{}, false
	}

	ptype, code := normalize.Classify(normalize.Text(a.Promocode), normalize.Text(a.Subid))
	sale := normalize.Convert(normalize.Amount(a.Cart), a.Currency, target)
	revenue := normalize.Convert(normalize.Amount(a.Payment), a.Currency, target)

	status := admitadStatuses.Map(a.Status)
	if status == domain.StatusApproved && normalize.Amount(a.Paid) == 1 {
		status = domain.StatusPaid
	}

	return normalize.Finalize(domain.NormalizedPurchase{
		CampaignID:     campaignID,
		CampaignName:   a.CampaignName,
		Code:           code,
		PurchaseType:   ptype,
		Country:        a.Country,
		OrderID:        normalize.Text(a.OrderID),
		NetworkOrderID: normalize.Text(a.ActionID),
		OrderValue:     sale.Amount,
		Revenue:        revenue.Amount,
		Quantity:       1,
		CustomerType:   domain.CustomerUnknown,
		Status:         status,
		OrderDate:      normalize.OrderDate(strings.TrimSpace(a.ActionDate), fallback),
		Currency:       sale.Currency,
		ConvertedTo:    sale.ConvertedTo,
	}), true
}
