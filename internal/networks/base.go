package networks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/pkg/config"

	"github.com/sirupsen/logrus"
)

const defaultWindowDays = 30

// base carries what every adapter shares: identity, declared config and the
// injected collaborators.
type base struct {
	name      string
	cfg       domain.AdapterConfig
	deps      Deps
	endpoints config.NetworkEndpoints
}

func newBase(name string, cfg domain.AdapterConfig, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		name:      name,
		cfg:       cfg,
		deps:      deps,
		endpoints: deps.Endpoints.Endpoints(name),
	}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Config() domain.AdapterConfig {
	return b.cfg
}

func (b *base) RequiredFields() []domain.FieldSpec {
	out := make([]domain.FieldSpec, len(b.cfg.Fields))
	copy(out, b.cfg.Fields)
	return out
}

// DefaultConfig covers the last 30 days up to today.
func (b *base) DefaultConfig() domain.SyncConfig {
	now := b.deps.Clock.Now()
	return domain.SyncConfig{
		DateFrom:  now.AddDate(0, 0, -defaultWindowDays).Format(domain.DateLayout),
		DateTo:    now.Format(domain.DateLayout),
		NetworkID: b.name,
		MaxPages:  b.deps.Sync.MaxPages,
		PageSize:  b.deps.Sync.PageSize,
		Currency:  b.deps.Sync.ReportingCurrency,
	}
}

func (b *base) ValidateCredentials(creds domain.Credentials) domain.ValidationResult {
	return Validate(b.cfg.Fields, creds)
}

func (b *base) log(ctx context.Context) *logrus.Entry {
	return b.deps.Logger.WithContext(ctx).WithField("network", b.name)
}

// prepare validates credentials and the date window before any network call.
// When every sessionKeys value is cached the primary fields are not required
// up front; session recovery demands them only if it has to log in again.
func (b *base) prepare(creds domain.Credentials, cfg domain.SyncConfig, sessionKeys ...string) (domain.SyncConfig, time.Time, time.Time, error) {
	fields := b.cfg.Fields
	if len(sessionKeys) > 0 && cachedSession(creds, sessionKeys...) != nil {
		fields = withoutFields(fields, b.cfg.PrimaryFields)
	}
	if v := Validate(fields, creds); !v.Valid {
		return cfg, time.Time{}, time.Time{}, fmt.Errorf("%w: missing %s", domain.ErrInvalidCredentials, missingFields(v))
	}
	cfg = cfg.WithDefaults(b.DefaultConfig())
	from, to, err := cfg.Range()
	if err != nil {
		return cfg, time.Time{}, time.Time{}, err
	}
	return cfg, from, to, nil
}

func (b *base) invalidCredentials(v domain.ValidationResult) domain.ConnectionResult {
	return domain.ConnectionResult{
		Success:   false,
		Message:   "Invalid credentials: missing " + missingFields(v),
		Errors:    v.Errors,
		ErrorKind: domain.ErrorKind(domain.ErrInvalidCredentials),
	}
}

func (b *base) clientOptions(jar *domain.CookieJar, proxyURL string) infrastructure.ClientOptions {
	return infrastructure.ClientOptions{
		Network:   b.name,
		Timeout:   b.deps.Sync.RequestTimeout,
		ProxyURL:  proxyURL,
		UserAgent: b.deps.Sync.UserAgent,
		RateLimit: b.deps.RateLimit,
		Cookies:   jar,
	}
}

// directClient is a session client without an outbound proxy.
func (b *base) directClient(jar *domain.CookieJar) (*infrastructure.HTTPClient, error) {
	return infrastructure.NewHTTPClient(b.clientOptions(jar, ""), b.deps.Logger, b.deps.Metrics)
}

// connectionFailure converts err into a failed ConnectionResult.
func (b *base) connectionFailure(ctx context.Context, creds domain.Credentials, op string, err error) domain.ConnectionResult {
	b.log(ctx).WithError(errors.New(redact(err.Error(), creds))).WithField("error_kind", domain.ErrorKind(err)).Warn(op + " failed")
	return domain.ConnectionResult{
		Success:   false,
		Message:   redact(fmt.Sprintf("%s failed: %v", op, err), creds),
		ErrorKind: domain.ErrorKind(err),
	}
}

func (b *base) syncFailure(ctx context.Context, creds domain.Credentials, err error) domain.SyncResult {
	b.log(ctx).WithError(errors.New(redact(err.Error(), creds))).WithField("error_kind", domain.ErrorKind(err)).Warn("Sync failed")
	return domain.SyncResult{
		Success:   false,
		Message:   redact(fmt.Sprintf("Sync failed: %v", err), creds),
		Data:      domain.SplitByType(nil),
		ErrorKind: domain.ErrorKind(err),
	}
}

// syncOutcome turns normalized records and the fetch outcome into a result.
// An error after at least one successful page is partial success; an error
// on the first page fails the sync.
func (b *base) syncOutcome(ctx context.Context, creds domain.Credentials, purchases []domain.NormalizedPurchase, completeness domain.Completeness, calls int, fetchErr error) domain.SyncResult {
	if fetchErr != nil && calls <= 1 {
		return b.syncFailure(ctx, creds, fetchErr)
	}

	fetched := completeness.Fetched
	message := fmt.Sprintf("Synced %d records", len(purchases))
	if fetchErr != nil {
		completeness.IsComplete = false
		message += redact(fmt.Sprintf("; partial fetch: stopped after %d records: %v", fetched, fetchErr), creds)
	} else if caveat := completeness.Caveat(); caveat != "" {
		message += "; " + caveat
	}

	data := domain.SplitByType(purchases)
	b.deps.Metrics.RecordNormalized(b.name, string(domain.PurchaseTypeCoupon), data.Coupons.Total)
	if data.Links != nil {
		b.deps.Metrics.RecordNormalized(b.name, string(domain.PurchaseTypeLink), data.Links.Total)
	}
	b.deps.Metrics.RecordCompletion(b.name, completeness.Percentage)

	b.log(ctx).WithFields(logrus.Fields{
		"fetched":      fetched,
		"normalized":   len(purchases),
		"calls":        calls,
		"completion":   completeness.Percentage,
		"is_complete":  completeness.IsComplete,
		"partial_fail": fetchErr != nil,
	}).Info("Sync fetch finished")

	return domain.SyncResult{
		Success:      true,
		Message:      message,
		Data:         data,
		Completeness: &completeness,
	}
}

// dropped records a discarded raw item.
func (b *base) dropped(ctx context.Context, reason string, fields logrus.Fields) {
	b.deps.Metrics.RecordDropped(b.name, reason)
	b.log(ctx).WithFields(fields).WithField("reason", reason).Debug("Dropped raw record")
}

func withoutFields(fields []domain.FieldSpec, names []string) []domain.FieldSpec {
	out := make([]domain.FieldSpec, 0, len(fields))
	for _, f := range fields {
		skip := false
		for _, n := range names {
			if f.Name == n {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, f)
		}
	}
	return out
}

// cachedSession returns the stored session values when all keys are set.
func cachedSession(creds domain.Credentials, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v := strings.TrimSpace(creds.Get(k))
		if v == "" {
			return nil
		}
		out[k] = v
	}
	return out
}

// redact masks credential values that leaked into a message.
func redact(msg string, creds domain.Credentials) string {
	values := make([]string, 0, len(creds))
	for _, v := range creds {
		if len(v) >= 4 {
			values = append(values, v)
		}
	}
	// longest first so a secret containing another is masked whole
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	for _, v := range values {
		msg = strings.ReplaceAll(msg, v, "[redacted]")
	}
	return msg
}

// statusError wraps a non-success response. 401 always means the session
// or token is no longer accepted.
func statusError(endpoint string, resp *infrastructure.Response) error {
	err := &domain.HTTPStatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	if resp.StatusCode == 401 {
		return fmt.Errorf("%w: %w", domain.ErrSessionExpired, err)
	}
	return err
}
