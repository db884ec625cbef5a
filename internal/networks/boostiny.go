package networks

import (
	"bytes"
	"context"
	"encoding/json"
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

const boostinyPageLimit = 100

var boostinyStatuses = normalize.StatusTable{
	"approved":  domain.StatusApproved,
	"validated": domain.StatusApproved,
	"pending":   domain.StatusPending,
	"open":      domain.StatusPending,
	"rejected":  domain.StatusRejected,
	"declined":  domain.StatusRejected,
	"paid":      domain.StatusPaid,
}

// Boostiny authenticates every call with the publisher API key and is
// queried one day at a time.
type Boostiny struct {
	base
}

func NewBoostiny(deps Deps) domain.Adapter {
	return &Boostiny{base: newBase("boostiny", domain.AdapterConfig{
		Kind: domain.AuthTokenBearer,
		Fields: []domain.FieldSpec{
			{Name: "api_key", Label: "API Key", Type: "password", Required: true, Help: "Publisher API key from the Boostiny dashboard"},
		},
		AllowDirectFallback: true,
	}, deps)}
}

type boostinyRecord struct {
	CampaignID   any    `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Code         string `json:"code"`
	Country      string `json:"country"`
	Orders       any    `json:"orders"`
	SalesAmount  any    `json:"sales_amount"`
	Revenue      any    `json:"revenue"`
	Currency     string `json:"currency"`
	CustomerType string `json:"customer_type"`
	Status       string `json:"status"`
	Date         string `json:"date"`
	OrderID      any    `json:"order_id"`
}

type boostinyPage struct {
	Data *struct {
		Data        []boostinyRecord `json:"data"`
		CurrentPage int              `json:"current_page"`
		LastPage    int              `json:"last_page"`
		Total       *int             `json:"total"`
	} `json:"data"`
}

func (b *Boostiny) request(ctx context.Context, client *infrastructure.HTTPClient, apiKey string, day time.Time, page, limit int) (*infrastructure.Response, error) {
	date := day.Format(domain.DateLayout)
	resp, err := client.Do(ctx, infrastructure.Request{
		Method: http.MethodGet,
		URL:    b.endpoints.APIURL + "/publisher/performance",
		Query: domain.Params{}.
			Add("from", date).
			Add("to", date).
			Add("page", strconv.Itoa(page)).
			Add("limit", strconv.Itoa(limit)),
		Header:   map[string]string{"Authorization": "Bearer " + apiKey},
		Endpoint: "publisher/performance",
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: api key rejected: %w", domain.ErrAuthenticationFailed, &domain.HTTPStatusError{Endpoint: "publisher/performance", StatusCode: resp.StatusCode})
		}
		return nil, statusError("publisher/performance", resp)
	}
	return resp, nil
}

func (b *Boostiny) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if v := b.ValidateCredentials(creds); !v.Valid {
		return b.invalidCredentials(v)
	}

	client, err := b.directClient(nil)
	if err != nil {
		return b.connectionFailure(ctx, creds, "Connection test", err)
	}
	resp, err := b.request(ctx, client, creds.Get("api_key"), b.deps.Clock.Now(), 1, 1)
	if err != nil {
		return b.connectionFailure(ctx, creds, "Connection test", err)
	}

	// the probe only succeeds on the documented data.data list shape
	var shape struct {
		Data *struct {
			Data json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := resp.DecodeJSON(&shape); err != nil {
		return b.connectionFailure(ctx, creds, "Connection test", err)
	}
	if shape.Data == nil || !isJSONList(shape.Data.Data) {
		return b.connectionFailure(ctx, creds, "Connection test", fmt.Errorf("%w: missing data.data list", domain.ErrUnexpectedResponse))
	}

	return domain.ConnectionResult{Success: true, Message: "Connection successful"}
}

func (b *Boostiny) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	cfg, from, to, err := b.prepare(creds, cfg)
	if err != nil {
		return b.syncFailure(ctx, creds, err)
	}

	client, err := b.directClient(nil)
	if err != nil {
		return b.syncFailure(ctx, creds, err)
	}
	apiKey := creds.Get("api_key")
	opts := pagination.Options{MaxPages: cfg.MaxPages, Delay: b.deps.Sync.PageDelay, Sleep: b.deps.Sleep}

	fetchDay := func(ctx context.Context, day time.Time) (pagination.Result[boostinyRecord], error) {
		return pagination.Fetch(ctx, 1, func(ctx context.Context, page int) (pagination.Page[boostinyRecord], error) {
			resp, err := b.request(ctx, client, apiKey, day, page, boostinyPageLimit)
			if err != nil {
				return pagination.Page[boostinyRecord]{}, err
			}
			var body boostinyPage
			if err := resp.DecodeJSON(&body); err != nil {
				return pagination.Page[boostinyRecord]{}, err
			}
			if body.Data == nil {
				return pagination.Page[boostinyRecord]{}, fmt.Errorf("%w: missing data object", domain.ErrUnexpectedResponse)
			}
			out := pagination.Page[boostinyRecord]{Items: body.Data.Data, DeclaredTotal: body.Data.Total}
			if body.Data.CurrentPage < body.Data.LastPage {
				next := page + 1
				out.Next = &next
			}
			return out, nil
		}, opts)
	}

	res, days, err := pagination.Days(ctx, from, to, fetchDay, pagination.Options{Delay: b.deps.Sync.PageDelay, Sleep: b.deps.Sleep, MaxDays: b.deps.Sync.MaxDays})
	b.log(ctx).WithFields(logrus.Fields{"days": days, "calls": res.Calls}).Debug("Day windows fetched")

	purchases := make([]domain.NormalizedPurchase, 0, len(res.Items))
	for _, r := range res.Items {
		purchases = append(purchases, normalizeBoostiny(r, from, cfg.Currency))
	}
	return b.syncOutcome(ctx, creds, purchases, res.Completeness(), res.Calls, err)
}

// every Boostiny record is a coupon
func normalizeBoostiny(r boostinyRecord, fallback time.Time, target string) domain.NormalizedPurchase {
	sale := normalize.Convert(normalize.Amount(r.SalesAmount), r.Currency, target)
	revenue := normalize.Convert(normalize.Amount(r.Revenue), r.Currency, target)

	return normalize.Finalize(domain.NormalizedPurchase{
		CampaignID:   normalize.Text(r.CampaignID),
		CampaignName: r.CampaignName,
		Code:         r.Code,
		PurchaseType: domain.PurchaseTypeCoupon,
		Country:      r.Country,
		OrderID:      normalize.Text(r.OrderID),
		OrderValue:   sale.Amount,
		Revenue:      revenue.Amount,
		Quantity:     normalize.Quantity(r.Orders),
		CustomerType: normalize.CustomerType(r.CustomerType),
		Status:       boostinyStatuses.Map(r.Status),
		OrderDate:    normalize.OrderDate(r.Date, fallback),
		Currency:     sale.Currency,
		ConvertedTo:  sale.ConvertedTo,
	})
}

func isJSONList(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
