// Package networks holds one adapter per affiliate network and the registry
// that resolves a network identifier to its adapter.
package networks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/internal/pagination"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// Deps are the collaborators every adapter receives. Nothing in here is
// mutated by an adapter.
type Deps struct {
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Clock     domain.Clock
	Captcha   domain.CaptchaSolver
	Proxies   domain.ProxyPool
	Endpoints config.NetworksConfig
	Sync      config.SyncConfig
	// RateLimit paces each adapter session, zero keeps the client default.
	RateLimit rate.Limit
	// Sleep waits between pages and auth attempts.
	Sleep func(ctx context.Context, d time.Duration) error
	// SheetsOptions are passed to the Sheets client of spreadsheet networks.
	SheetsOptions []option.ClientOption
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = domain.SystemClock{}
	}
	if d.Sleep == nil {
		d.Sleep = pagination.Sleep
	}
	if d.Endpoints == nil {
		d.Endpoints = config.NetworksConfig{}
	}
	if d.Sync.RequestTimeout <= 0 {
		d.Sync.RequestTimeout = 30 * time.Second
	}
	if d.Sync.AuthFlowTimeout <= 0 {
		d.Sync.AuthFlowTimeout = 180 * time.Second
	}
	if d.Sync.AuthRetries <= 0 {
		d.Sync.AuthRetries = 2
	}
	if d.Sync.PageSize <= 0 {
		d.Sync.PageSize = 500
	}
	if d.Sync.MaxPages <= 0 {
		d.Sync.MaxPages = 50
	}
	if d.Sync.MaxDays <= 0 {
		d.Sync.MaxDays = 366
	}
	if d.Sync.ReportingCurrency == "" {
		d.Sync.ReportingCurrency = "USD"
	}
	return d
}

type Factory func(deps Deps) domain.Adapter

// NetworkInfo describes a registered network for listing.
type NetworkInfo struct {
	ID     string               `json:"id"`
	Config domain.AdapterConfig `json:"config"`
}

// Registry maps network identifiers to adapter factories. It is filled once
// by NewRegistry and only read afterwards.
type Registry struct {
	deps      Deps
	factories map[string]Factory
}

func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:      deps.withDefaults(),
		factories: make(map[string]Factory),
	}
	r.register("admitad", NewAdmitad)
	r.register("boostiny", NewBoostiny)
	r.register("optimise", NewOptimise)
	r.register("marketeers", NewMarketeers)
	r.register("arabclicks", NewArabclicks)
	r.register("omolaat", NewOmolaat)
	return r
}

func (r *Registry) register(id string, f Factory) {
	r.factories[id] = f
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (r *Registry) Exists(id string) bool {
	_, ok := r.factories[normalizeID(id)]
	return ok
}

// Create builds a fresh adapter for the network.
func (r *Registry) Create(id string) (domain.Adapter, error) {
	f, ok := r.factories[normalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownNetwork, id)
	}
	return f(r.deps), nil
}

// Networks lists every registered network sorted by id.
func (r *Registry) Networks() []NetworkInfo {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]NetworkInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, NetworkInfo{ID: id, Config: r.factories[id](r.deps).Config()})
	}
	return out
}
