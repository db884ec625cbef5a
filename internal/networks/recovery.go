package networks

import (
	"context"
	"fmt"

	"affsync/internal/domain"
)

// sessionRecovery describes one sync's use of a cached session artifact.
type sessionRecovery[T any] struct {
	creds   domain.Credentials
	primary []string
	// cached is the stored artifact, nil when there is none.
	cached map[string]string
	login  func(ctx context.Context) (map[string]string, error)
	fetch  func(ctx context.Context, session map[string]string) (T, error)
}

// run fetches with the cached artifact first. A session-expired failure
// triggers exactly one login and one retried fetch; nothing else is retried.
// Without a cached artifact the login happens up front and that spends the
// single refresh. The returned session is non-nil when a login succeeded and
// must be persisted by the caller.
func (r sessionRecovery[T]) run(ctx context.Context, b *base) (T, map[string]string, error) {
	var zero T

	if r.cached != nil {
		out, err := r.fetch(ctx, r.cached)
		if err == nil || !domain.IsAuthError(err) {
			return out, nil, err
		}
		if !r.creds.Presence(r.primary...) {
			b.deps.Metrics.RecordAuthAttempt(b.name, "no_credentials")
			return zero, nil, fmt.Errorf("%w: %w", domain.ErrSessionExpiredNoCredentials, err)
		}
		b.log(ctx).WithField("error_kind", domain.ErrorKind(err)).Info("Cached session rejected, re-authenticating")
	}

	session, err := r.login(ctx)
	if err != nil {
		b.deps.Metrics.RecordAuthAttempt(b.name, "failed")
		return zero, nil, err
	}
	b.deps.Metrics.RecordAuthAttempt(b.name, "success")

	out, err := r.fetch(ctx, session)
	return out, session, err
}
