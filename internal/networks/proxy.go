package networks

import (
	"context"
	"fmt"
	"net/http"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
)

const proxyCandidates = 3

// connect returns a session client, through the first proxy candidate whose
// probe GET answers. Candidates are tried in order, one at a time. When none
// works the adapter either falls back to a direct client or, if it does not
// allow that, fails with ErrNoWorkingProxies.
func (b *base) connect(ctx context.Context, jar *domain.CookieJar, probeURL string) (*infrastructure.HTTPClient, error) {
	var candidates []domain.Proxy
	if b.deps.Proxies != nil {
		var err error
		candidates, err = b.deps.Proxies.Candidates(ctx, proxyCandidates)
		if err != nil {
			b.log(ctx).WithError(err).Warn("Proxy pool unavailable")
			candidates = nil
		}
	}

	for i, proxy := range candidates {
		client, err := infrastructure.NewHTTPClient(b.clientOptions(jar, proxy.URL), b.deps.Logger, b.deps.Metrics)
		if err == nil {
			err = probe(ctx, client, probeURL)
		}
		if err == nil {
			b.deps.Metrics.RecordProxyProbe(b.name, "success")
			if markErr := b.deps.Proxies.MarkSucceeded(ctx, proxy.ID); markErr != nil {
				b.log(ctx).WithError(markErr).Warn("Failed to reset proxy failures")
			}
			b.log(ctx).WithField("attempt", i+1).Debug("Using proxy")
			return client, nil
		}

		b.deps.Metrics.RecordProxyProbe(b.name, "failed")
		b.log(ctx).WithField("attempt", i+1).WithField("error_kind", domain.ErrorKind(err)).Warn("Proxy probe failed")
		if markErr := b.deps.Proxies.MarkFailed(ctx, proxy.ID); markErr != nil {
			b.log(ctx).WithError(markErr).Warn("Failed to mark proxy")
		}
	}

	if !b.cfg.AllowDirectFallback {
		return nil, fmt.Errorf("%w: %d candidates probed", domain.ErrNoWorkingProxies, len(candidates))
	}
	if len(candidates) > 0 {
		b.log(ctx).Info("No working proxy, connecting directly")
	}
	return b.directClient(jar)
}

// probe is a lightweight reachability check; any answer below 500 counts.
func probe(ctx context.Context, client *infrastructure.HTTPClient, probeURL string) error {
	resp, err := client.Do(ctx, infrastructure.Request{Method: http.MethodGet, URL: probeURL, Endpoint: "proxy probe"})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return &domain.HTTPStatusError{Endpoint: "proxy probe", StatusCode: resp.StatusCode}
	}
	return nil
}
