package infrastructure

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"

	"affsync/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisProxyPool shares proxies and their failure counters between sync
// workers. Counters are updated with HINCRBY so concurrent syncs never lose
// a failure mark.
type RedisProxyPool struct {
	client       *redis.Client
	proxiesKey   string
	failuresKey  string
	failureLimit int
	shuffle      shuffleFunc
}

func NewRedisProxyPool(client *redis.Client, prefix string, failureLimit int) *RedisProxyPool {
	if prefix == "" {
		prefix = "affsync"
	}
	if failureLimit <= 0 {
		failureLimit = 3
	}
	return &RedisProxyPool{
		client:       client,
		proxiesKey:   prefix + ":proxies",
		failuresKey:  prefix + ":proxy_failures",
		failureLimit: failureLimit,
		shuffle:      rand.Shuffle,
	}
}

// Add registers proxies, keyed by their URL.
func (p *RedisProxyPool) Add(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	values := make([]any, 0, len(urls)*2)
	for _, u := range urls {
		values = append(values, u, u)
	}
	if err := p.client.HSet(ctx, p.proxiesKey, values...).Err(); err != nil {
		return fmt.Errorf("redis proxy add: %w", err)
	}
	return nil
}

func (p *RedisProxyPool) Candidates(ctx context.Context, n int) ([]domain.Proxy, error) {
	all, err := p.client.HGetAll(ctx, p.proxiesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis proxy list: %w", err)
	}
	failures, err := p.client.HGetAll(ctx, p.failuresKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis proxy failures: %w", err)
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	active := make([]domain.Proxy, 0, len(ids))
	for _, id := range ids {
		count, _ := strconv.Atoi(failures[id])
		if count < p.failureLimit {
			active = append(active, domain.Proxy{ID: id, URL: all[id]})
		}
	}
	return pickRandom(active, n, p.shuffle), nil
}

func (p *RedisProxyPool) MarkFailed(ctx context.Context, proxyID string) error {
	if err := p.client.HIncrBy(ctx, p.failuresKey, proxyID, 1).Err(); err != nil {
		return fmt.Errorf("redis proxy mark failed: %w", err)
	}
	return nil
}

func (p *RedisProxyPool) MarkSucceeded(ctx context.Context, proxyID string) error {
	if err := p.client.HDel(ctx, p.failuresKey, proxyID).Err(); err != nil {
		return fmt.Errorf("redis proxy mark succeeded: %w", err)
	}
	return nil
}
