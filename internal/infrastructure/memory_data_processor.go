package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

// MemoryDataProcessor keeps purchases in memory keyed by network, user and
// order identity. Re-syncing the same window replaces records instead of
// adding them again, so aggregate counts stay stable across retries.
type MemoryDataProcessor struct {
	data   map[string]map[string]domain.NormalizedPurchase
	mutex  sync.RWMutex
	logger *logger.Logger
}

func NewMemoryDataProcessor(logger *logger.Logger) *MemoryDataProcessor {
	return &MemoryDataProcessor{
		data:   make(map[string]map[string]domain.NormalizedPurchase),
		logger: logger,
	}
}

func (p *MemoryDataProcessor) Process(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessResult, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	bucketKey := req.NetworkID + "|" + req.UserID
	bucket, ok := p.data[bucketKey]
	if !ok {
		bucket = make(map[string]domain.NormalizedPurchase)
		p.data[bucketKey] = bucket
	}

	result := &domain.ProcessResult{Errors: []string{}}
	campaigns := make(map[string]struct{})
	coupons := make(map[string]struct{})

	for i, purchase := range req.Purchases {
		if purchase.CampaignName == "" || !purchase.PurchaseType.Valid() {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: missing campaign name or purchase type", i))
			continue
		}

		key := purchase.DedupKey()
		if key == "" {
			key = fmt.Sprintf("anon:%s|%s|%s|%d", purchase.OrderDate, purchase.CampaignID, purchase.Code, i)
		}
		bucket[key] = purchase

		campaign := purchase.CampaignID + "|" + purchase.CampaignName
		campaigns[campaign] = struct{}{}
		if purchase.Code != "" {
			coupons[campaign+"|"+purchase.Code] = struct{}{}
		}
		result.Purchases++
	}

	result.Campaigns = len(campaigns)
	result.Coupons = len(coupons)

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"network":   req.NetworkID,
		"user_id":   req.UserID,
		"purchases": result.Purchases,
		"errors":    len(result.Errors),
		"stored":    len(bucket),
	}).Info("Stored purchases in memory")

	return result, nil
}

// Purchases returns the stored purchases for one network and user.
func (p *MemoryDataProcessor) Purchases(networkID, userID string) []domain.NormalizedPurchase {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	bucket := p.data[networkID+"|"+userID]
	out := make([]domain.NormalizedPurchase, 0, len(bucket))
	for _, purchase := range bucket {
		out = append(out, purchase)
	}
	return out
}
