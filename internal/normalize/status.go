package normalize

import (
	"strings"

	"affsync/internal/domain"
)

// StatusTable maps a network's lowercase status vocabulary to the
// canonical status.
type StatusTable map[string]domain.PurchaseStatus

// Map returns pending for anything not in the table.
func (t StatusTable) Map(raw string) domain.PurchaseStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := t[key]; ok {
		return s
	}
	return domain.StatusPending
}

var customerTypes = map[string]domain.CustomerType{
	"new":          domain.CustomerNew,
	"new customer": domain.CustomerNew,
	"first":        domain.CustomerNew,
	"first_order":  domain.CustomerNew,
	"ftu":          domain.CustomerNew,
	"true":         domain.CustomerNew,
	"returning":    domain.CustomerReturning,
	"old":          domain.CustomerReturning,
	"old customer": domain.CustomerReturning,
	"existing":     domain.CustomerReturning,
	"repeat":       domain.CustomerReturning,
	"rtu":          domain.CustomerReturning,
	"false":        domain.CustomerReturning,
}

func CustomerType(raw string) domain.CustomerType {
	if c, ok := customerTypes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return c
	}
	return domain.CustomerUnknown
}
