package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"affsync/internal/domain"
)

var dateFormats = []string{
	"2006-01-02",          // YYYY-MM-DD
	time.RFC3339,          // 2006-01-02T15:04:05Z07:00
	"2006-01-02T15:04:05", // without zone
	"2006-01-02 15:04:05", // YYYY-MM-DD HH:MM:SS
	"2006/01/02",          // YYYY/MM/DD
	"02.01.2006 15:04:05", // DD.MM.YYYY HH:MM:SS
	"02.01.2006",          // DD.MM.YYYY
	"02/01/2006",          // DD/MM/YYYY
}

// ParseDate tries the known layouts in order.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// OrderDate formats the record date as YYYY-MM-DD, falling back to the
// query's date_from.
func OrderDate(raw string, fallback time.Time) string {
	if t, ok := ParseDate(raw); ok {
		return t.Format(domain.DateLayout)
	}
	return fallback.Format(domain.DateLayout)
}

// Amount reads a number from JSON numbers or strings like "1,234.50".
func Amount(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Quantity is at least 1.
func Quantity(v any) int {
	q := int(Amount(v))
	if q < 1 {
		return 1
	}
	return q
}

// Text renders scalar JSON values as strings; numeric ids come in both forms.
func Text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func Country(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if c == "" || c == "-" || c == "N/A" || c == "UNKNOWN" {
		return domain.UnknownCountry
	}
	return c
}

// Finalize applies the record-level defaults every adapter shares.
func Finalize(p domain.NormalizedPurchase) domain.NormalizedPurchase {
	p.CampaignName = strings.TrimSpace(p.CampaignName)
	if p.CampaignName == "" {
		p.CampaignName = domain.UnknownCampaignName
	}
	p.Country = Country(p.Country)
	if p.Quantity < 1 {
		p.Quantity = 1
	}
	switch p.CustomerType {
	case domain.CustomerNew, domain.CustomerReturning:
	default:
		p.CustomerType = domain.CustomerUnknown
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	if !p.PurchaseType.Valid() {
		p.PurchaseType = domain.PurchaseTypeLink
	}
	p.Currency = strings.ToUpper(p.Currency)
	return p
}
