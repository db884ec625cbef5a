package domain

import (
	"context"
	"time"
)

// CaptchaSolver returns a reCAPTCHA response token for a page.
type CaptchaSolver interface {
	SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error)
}

type Proxy struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ProxyPool hands out candidate outbound proxies. Implementations must be
// safe for concurrent syncs sharing one pool.
type ProxyPool interface {
	Candidates(ctx context.Context, n int) ([]Proxy, error)
	MarkFailed(ctx context.Context, proxyID string) error
	MarkSucceeded(ctx context.Context, proxyID string) error
}

type ProcessRequest struct {
	Purchases   []NormalizedPurchase `json:"purchases"`
	NetworkID   string               `json:"network_id"`
	NetworkName string               `json:"network_name"`
	UserID      string               `json:"user_id"`
	DateFrom    string               `json:"date_from"`
	DateTo      string               `json:"date_to"`
}

type ProcessResult struct {
	Campaigns int      `json:"campaigns"`
	Coupons   int      `json:"coupons"`
	Purchases int      `json:"purchases"`
	Errors    []string `json:"errors"`
}

// DataProcessor persists normalized records.
type DataProcessor interface {
	Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
}

type SyncLogWriter interface {
	Write(ctx context.Context, log SyncLog) error
}

type SyncLogReader interface {
	List(ctx context.Context, connectionID string) ([]SyncLog, error)
}

type ConnectionRepository interface {
	Get(ctx context.Context, id string) (NetworkConnection, error)
	Save(ctx context.Context, conn NetworkConnection) error
	List(ctx context.Context) ([]NetworkConnection, error)
}

// Decrypter resolves encrypted credential values.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
