package domain

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// SyncConfig is the input of one syncData call.
type SyncConfig struct {
	DateFrom  string `json:"date_from"`
	DateTo    string `json:"date_to"`
	NetworkID string `json:"network_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	MaxPages  int    `json:"max_pages,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// Range parses the inclusive date window.
func (c SyncConfig) Range() (time.Time, time.Time, error) {
	from, err := time.Parse(DateLayout, c.DateFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_from must be YYYY-MM-DD", ErrInvalidConfig)
	}
	to, err := time.Parse(DateLayout, c.DateTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_to must be YYYY-MM-DD", ErrInvalidConfig)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date_to is before date_from", ErrInvalidConfig)
	}
	return from, to, nil
}

// WithDefaults fills unset fields from defaults.
func (c SyncConfig) WithDefaults(defaults SyncConfig) SyncConfig {
	if c.DateFrom == "" {
		c.DateFrom = defaults.DateFrom
	}
	if c.DateTo == "" {
		c.DateTo = defaults.DateTo
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaults.MaxPages
	}
	if c.PageSize <= 0 {
		c.PageSize = defaults.PageSize
	}
	if c.Currency == "" {
		c.Currency = defaults.Currency
	}
	return c
}

type ConnectionResult struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Data      map[string]any    `json:"data,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	ErrorKind string            `json:"error_kind,omitempty"`
}

// Completeness compares fetched records against a network-declared total.
type Completeness struct {
	Fetched       int     `json:"fetched"`
	DeclaredTotal *int    `json:"declared_total,omitempty"`
	Percentage    float64 `json:"completion_percentage"`
	IsComplete    bool    `json:"is_complete"`
}

func NewCompleteness(fetched int, declared *int) Completeness {
	c := Completeness{Fetched: fetched, DeclaredTotal: declared, Percentage: 100, IsComplete: true}
	if declared == nil || *declared <= 0 {
		return c
	}
	c.Percentage = float64(fetched) / float64(*declared) * 100
	if c.Percentage > 100 {
		c.Percentage = 100
	}
	c.IsComplete = fetched >= *declared
	return c
}

// Caveat is empty for a complete fetch.
func (c Completeness) Caveat() string {
	if c.IsComplete || c.DeclaredTotal == nil {
		return ""
	}
	return fmt.Sprintf("partial fetch: %d of %d records (%.1f%%), re-run to complete", c.Fetched, *c.DeclaredTotal, c.Percentage)
}

type SyncData struct {
	Coupons RecordSet  `json:"coupons"`
	Links   *RecordSet `json:"links,omitempty"`
}

type SyncResult struct {
	Success              bool              `json:"success"`
	Message              string            `json:"message"`
	Data                 SyncData          `json:"data"`
	Completeness         *Completeness     `json:"completeness,omitempty"`
	NewAccessToken       string            `json:"new_access_token,omitempty"`
	NewCookies           string            `json:"new_cookies,omitempty"`
	RefreshedCredentials map[string]string `json:"refreshed_credentials,omitempty"`
	ErrorKind            string            `json:"error_kind,omitempty"`
}

// Records returns coupon and link purchases together.
func (r SyncResult) Records() []NormalizedPurchase {
	out := make([]NormalizedPurchase, 0, len(r.Data.Coupons.Data))
	out = append(out, r.Data.Coupons.Data...)
	if r.Data.Links != nil {
		out = append(out, r.Data.Links.Data...)
	}
	return out
}

// SplitByType builds the coupons and links record sets.
func SplitByType(purchases []NormalizedPurchase) SyncData {
	var coupons, links []NormalizedPurchase
	for _, p := range purchases {
		if p.PurchaseType == PurchaseTypeLink {
			links = append(links, p)
			continue
		}
		coupons = append(coupons, p)
	}

	data := SyncData{Coupons: BuildRecordSet(coupons)}
	if len(links) > 0 {
		set := BuildRecordSet(links)
		data.Links = &set
	}
	return data
}

type SyncLogStatus string

const (
	SyncLogSuccess SyncLogStatus = "success"
	SyncLogPartial SyncLogStatus = "partial"
	SyncLogFailed  SyncLogStatus = "failed"
)

type SyncCounts struct {
	Campaigns int `json:"campaigns"`
	Coupons   int `json:"coupons"`
	Purchases int `json:"purchases"`
	Total     int `json:"total"`
}

type SyncLog struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connection_id"`
	Network      string         `json:"network"`
	UserID       string         `json:"user_id"`
	DateFrom     string         `json:"date_from"`
	DateTo       string         `json:"date_to"`
	Status       SyncLogStatus  `json:"status"`
	Message      string         `json:"message"`
	Counts       SyncCounts     `json:"counts"`
	Processed    *ProcessResult `json:"processed,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}
