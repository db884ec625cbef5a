package infrastructure

import (
	"context"
	"math/rand/v2"
	"sync"

	"affsync/internal/domain"
)

type shuffleFunc func(n int, swap func(i, j int))

// MemoryProxyPool is a process-local proxy pool. A proxy stays active until
// it has failed failureLimit times in a row.
type MemoryProxyPool struct {
	mutex        sync.Mutex
	proxies      []domain.Proxy
	failures     map[string]int
	failureLimit int
	shuffle      shuffleFunc
}

func NewMemoryProxyPool(urls []string, failureLimit int) *MemoryProxyPool {
	if failureLimit <= 0 {
		failureLimit = 3
	}
	proxies := make([]domain.Proxy, 0, len(urls))
	for _, u := range urls {
		proxies = append(proxies, domain.Proxy{ID: u, URL: u})
	}
	return &MemoryProxyPool{
		proxies:      proxies,
		failures:     make(map[string]int),
		failureLimit: failureLimit,
		shuffle:      rand.Shuffle,
	}
}

func (p *MemoryProxyPool) Candidates(ctx context.Context, n int) ([]domain.Proxy, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	active := make([]domain.Proxy, 0, len(p.proxies))
	for _, proxy := range p.proxies {
		if p.failures[proxy.ID] < p.failureLimit {
			active = append(active, proxy)
		}
	}
	return pickRandom(active, n, p.shuffle), nil
}

func (p *MemoryProxyPool) MarkFailed(ctx context.Context, proxyID string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.failures[proxyID]++
	return nil
}

func (p *MemoryProxyPool) MarkSucceeded(ctx context.Context, proxyID string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.failures, proxyID)
	return nil
}

// Failures reports the current failure count of a proxy.
func (p *MemoryProxyPool) Failures(proxyID string) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.failures[proxyID]
}

func pickRandom(proxies []domain.Proxy, n int, shuffle shuffleFunc) []domain.Proxy {
	shuffle(len(proxies), func(i, j int) {
		proxies[i], proxies[j] = proxies[j], proxies[i]
	})
	if n > 0 && len(proxies) > n {
		proxies = proxies[:n]
	}
	return proxies
}
