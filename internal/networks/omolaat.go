package networks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/internal/normalize"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// header aliases understood in the first sheet row
var omolaatColumns = map[string][]string{
	"date":          {"date", "order date", "day"},
	"campaign_id":   {"campaign id", "campaign_id", "brand id"},
	"campaign":      {"campaign", "campaign name", "brand", "advertiser"},
	"code":          {"code", "coupon", "coupon code", "promo code"},
	"country":       {"country", "geo"},
	"orders":        {"orders", "quantity", "conversions"},
	"sales":         {"sales", "sales amount", "order value"},
	"revenue":       {"revenue", "commission", "payout"},
	"currency":      {"currency"},
	"customer_type": {"customer type", "customer_type", "user type"},
	"status":        {"status"},
	"order_id":      {"order id", "order_id"},
}

var omolaatStatuses = normalize.StatusTable{
	"approved":  domain.StatusApproved,
	"confirmed": domain.StatusApproved,
	"pending":   domain.StatusPending,
	"rejected":  domain.StatusRejected,
	"paid":      domain.StatusPaid,
}

// Omolaat reports through a shared Google spreadsheet. The spreadsheet id is
// stored as api_key.
type Omolaat struct {
	base
}

func NewOmolaat(deps Deps) domain.Adapter {
	return &Omolaat{base: newBase("omolaat", domain.AdapterConfig{
		Kind: domain.AuthSheetHandle,
		Fields: []domain.FieldSpec{
			{Name: "api_key", Label: "Spreadsheet ID", Type: "text", Required: true, Help: "The id in the spreadsheet URL"},
			{Name: "sheet_name", Label: "Sheet Name", Type: "text", Required: false, Help: "Defaults to the first sheet"},
		},
		AllowDirectFallback: true,
	}, deps)}
}

func (o *Omolaat) service(ctx context.Context) (*sheets.Service, error) {
	opts := o.deps.SheetsOptions
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: sheets client: %v", domain.ErrTransport, err)
	}
	return svc, nil
}

func sheetsError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		status := &domain.HTTPStatusError{Endpoint: op, StatusCode: gerr.Code}
		if gerr.Code == 403 || gerr.Code == 404 {
			return fmt.Errorf("%w: spreadsheet not reachable: %w", domain.ErrAuthenticationFailed, status)
		}
		return status
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrTransport, op, err)
}

// sheetTitles verifies the handle and lists its sheets.
func (o *Omolaat) sheetTitles(ctx context.Context, svc *sheets.Service, spreadsheetID string) ([]string, error) {
	ss, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, sheetsError("spreadsheets.get", err)
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("%w: spreadsheet has no sheets", domain.ErrUnexpectedResponse)
	}
	return titles, nil
}

func (o *Omolaat) TestConnection(ctx context.Context, creds domain.Credentials) domain.ConnectionResult {
	if v := o.ValidateCredentials(creds); !v.Valid {
		return o.invalidCredentials(v)
	}

	svc, err := o.service(ctx)
	if err != nil {
		return o.connectionFailure(ctx, creds, "Connection test", err)
	}
	titles, err := o.sheetTitles(ctx, svc, creds.Get("api_key"))
	if err != nil {
		return o.connectionFailure(ctx, creds, "Connection test", err)
	}

	return domain.ConnectionResult{
		Success: true,
		Message: "Connection successful",
		Data:    map[string]any{"sheets": titles},
	}
}

func (o *Omolaat) SyncData(ctx context.Context, creds domain.Credentials, cfg domain.SyncConfig) domain.SyncResult {
	cfg, from, to, err := o.prepare(creds, cfg)
	if err != nil {
		return o.syncFailure(ctx, creds, err)
	}

	svc, err := o.service(ctx)
	if err != nil {
		return o.syncFailure(ctx, creds, err)
	}
	spreadsheetID := creds.Get("api_key")

	sheetName := strings.TrimSpace(creds.Get("sheet_name"))
	if sheetName == "" {
		titles, err := o.sheetTitles(ctx, svc, spreadsheetID)
		if err != nil {
			return o.syncFailure(ctx, creds, err)
		}
		sheetName = titles[0]
	}

	values, err := svc.Spreadsheets.Values.Get(spreadsheetID, sheetName).Context(ctx).Do()
	if err != nil {
		return o.syncFailure(ctx, creds, sheetsError("values.get", err))
	}
	if len(values.Values) == 0 {
		return o.syncOutcome(ctx, creds, nil, domain.NewCompleteness(0, nil), 1, nil)
	}

	index := columnIndex(values.Values[0])
	if _, ok := index["date"]; !ok {
		return o.syncFailure(ctx, creds, fmt.Errorf("%w: sheet %q has no date column", domain.ErrUnexpectedResponse, sheetName))
	}

	purchases := make([]domain.NormalizedPurchase, 0, len(values.Values)-1)
	for i, row := range values.Values[1:] {
		p, reason := normalizeOmolaatRow(row, index, from, to, cfg.Currency)
		if reason != "" {
			if reason != "out_of_range" {
				o.dropped(ctx, reason, logrus.Fields{"row": i + 2})
			}
			continue
		}
		purchases = append(purchases, p)
	}

	return o.syncOutcome(ctx, creds, purchases, domain.NewCompleteness(len(purchases), nil), 1, nil)
}

// columnIndex maps canonical column names to their position in the header.
func columnIndex(header []interface{}) map[string]int {
	index := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(normalize.Text(h)))
		for canonical, aliases := range omolaatColumns {
			if _, taken := index[canonical]; taken {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					index[canonical] = i
				}
			}
		}
	}
	return index
}

func cell(row []interface{}, index map[string]int, column string) interface{} {
	i, ok := index[column]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}

// normalizeOmolaatRow returns a drop reason instead of a purchase for rows
// without a usable date or outside [from, to].
func normalizeOmolaatRow(row []interface{}, index map[string]int, from, to time.Time, target string) (domain.NormalizedPurchase, string) {
	date, ok := normalize.ParseDate(normalize.Text(cell(row, index, "date")))
	if !ok {
		return domain.NormalizedPurchase{}, "missing_date"
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(from) || day.After(to) {
		return domain.NormalizedPurchase{}, "out_of_range"
	}

	campaignName := normalize.Text(cell(row, index, "campaign"))
	campaignID := normalize.Text(cell(row, index, "campaign_id"))
	if campaignID == "" {
		campaignID = strings.ToLower(campaignName)
	}
	currency := normalize.Text(cell(row, index, "currency"))
	sale := normalize.Convert(normalize.Amount(cell(row, index, "sales")), currency, target)
	revenue := normalize.Convert(normalize.Amount(cell(row, index, "revenue")), currency, target)

	return normalize.Finalize(domain.NormalizedPurchase{
		CampaignID:   campaignID,
		CampaignName: campaignName,
		Code:         normalize.Text(cell(row, index, "code")),
		PurchaseType: domain.PurchaseTypeCoupon,
		Country:      normalize.Text(cell(row, index, "country")),
		OrderID:      normalize.Text(cell(row, index, "order_id")),
		OrderValue:   sale.Amount,
		Revenue:      revenue.Amount,
		Quantity:     normalize.Quantity(cell(row, index, "orders")),
		CustomerType: normalize.CustomerType(normalize.Text(cell(row, index, "customer_type"))),
		Status:       omolaatStatuses.Map(normalize.Text(cell(row, index, "status"))),
		OrderDate:    day.Format(domain.DateLayout),
		Currency:     sale.Currency,
		ConvertedTo:  sale.ConvertedTo,
	}), ""
}
