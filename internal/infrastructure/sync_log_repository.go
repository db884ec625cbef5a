package infrastructure

import (
	"context"
	"errors"
	"sort"
	"sync"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

// implements domain.SyncLogWriter and domain.SyncLogReader in memory
type SyncLogRepository struct {
	data   map[string][]domain.SyncLog
	mutex  sync.RWMutex
	logger *logger.Logger
}

func NewSyncLogRepository(logger *logger.Logger) *SyncLogRepository {
	return &SyncLogRepository{
		data:   make(map[string][]domain.SyncLog),
		logger: logger,
	}
}

func (r *SyncLogRepository) Write(ctx context.Context, log domain.SyncLog) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.data[log.ConnectionID] = append(r.data[log.ConnectionID], log)

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connection_id": log.ConnectionID,
		"network":       log.Network,
		"status":        log.Status,
		"total":         log.Counts.Total,
	}).Info("Stored sync log")
	return nil
}

// List returns logs newest first, for one connection or for all when
// connectionID is empty.
func (r *SyncLogRepository) List(ctx context.Context, connectionID string) ([]domain.SyncLog, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.SyncLog
	if connectionID != "" {
		result = append(result, r.data[connectionID]...)
	} else {
		for _, logs := range r.data {
			result = append(result, logs...)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// MultiSyncLogWriter writes to every writer and joins their errors.
type MultiSyncLogWriter []domain.SyncLogWriter

func (m MultiSyncLogWriter) Write(ctx context.Context, log domain.SyncLog) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, log); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
