package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

// ReportService answers read queries over stored sync logs
type ReportService struct {
	syncLogs domain.SyncLogReader
	logger   *logger.Logger
}

func NewReportService(syncLogs domain.SyncLogReader, logger *logger.Logger) *ReportService {
	return &ReportService{
		syncLogs: syncLogs,
		logger:   logger,
	}
}

// LogFilter narrows a sync log listing. Zero values match everything.
type LogFilter struct {
	ConnectionID string
	Network      string
	Status       domain.SyncLogStatus
	Limit        int
	Offset       int
}

type LogPage struct {
	Data   []domain.SyncLog `json:"data"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// Logs lists sync logs newest first
func (s *ReportService) Logs(ctx context.Context, filter LogFilter) (*LogPage, error) {
	log := s.logger.WithContext(ctx)
	log.WithFields(map[string]any{
		"connection_id": filter.ConnectionID,
		"network":       filter.Network,
		"status":        filter.Status,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	}).Debug("Listing sync logs")

	all, err := s.syncLogs.List(ctx, filter.ConnectionID)
	if err != nil {
		log.WithError(err).Error("Failed to list sync logs")
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}

	matched := make([]domain.SyncLog, 0, len(all))
	for _, entry := range all {
		if filter.Network != "" && entry.Network != filter.Network {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		matched = append(matched, entry)
	}

	page := &LogPage{Total: len(matched), Limit: filter.Limit, Offset: filter.Offset, Data: []domain.SyncLog{}}
	if filter.Offset >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	page.Data = matched[filter.Offset:end]
	return page, nil
}

// NetworkSummary aggregates the sync logs of one network.
type NetworkSummary struct {
	Network    string     `json:"network"`
	Runs       int        `json:"runs"`
	Succeeded  int        `json:"succeeded"`
	Partial    int        `json:"partial"`
	Failed     int        `json:"failed"`
	Records    int        `json:"records"`
	Purchases  int        `json:"purchases"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
}

// Summary returns per-network totals over every stored sync log
func (s *ReportService) Summary(ctx context.Context) ([]NetworkSummary, error) {
	all, err := s.syncLogs.List(ctx, "")
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to get sync summary")
		return nil, fmt.Errorf("failed to get sync summary: %w", err)
	}

	byNetwork := make(map[string]*NetworkSummary)
	for _, entry := range all {
		sum, ok := byNetwork[entry.Network]
		if !ok {
			sum = &NetworkSummary{Network: entry.Network}
			byNetwork[entry.Network] = sum
		}
		sum.Runs++
		sum.Records += entry.Counts.Total
		sum.Purchases += entry.Counts.Purchases
		switch entry.Status {
		case domain.SyncLogSuccess:
			sum.Succeeded++
		case domain.SyncLogPartial:
			sum.Partial++
		case domain.SyncLogFailed:
			sum.Failed++
		}
		// logs come newest first
		if sum.LastSyncAt == nil {
			at := entry.StartedAt
			sum.LastSyncAt = &at
			sum.LastStatus = string(entry.Status)
		}
	}

	out := make([]NetworkSummary, 0, len(byNetwork))
	for _, sum := range byNetwork {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Network < out[j].Network })
	return out, nil
}
