package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"affsync/internal/domain"
	"affsync/internal/networks"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// AdapterRegistry resolves network ids to adapters.
type AdapterRegistry interface {
	Create(networkID string) (domain.Adapter, error)
	Networks() []networks.NetworkInfo
}

// CredentialsError carries the per-field problems of rejected credentials.
type CredentialsError struct {
	Errors map[string]string
}

func (e *CredentialsError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return "invalid credentials: missing " + strings.Join(fields, ", ")
}

func (e *CredentialsError) Unwrap() error { return domain.ErrInvalidCredentials }

// SyncService stores connections, tests them and runs syncs, handing the
// normalized records to the data processor.
type SyncService struct {
	adapters             AdapterRegistry
	connections          domain.ConnectionRepository
	processor            domain.DataProcessor
	syncLogs             domain.SyncLogWriter
	decrypter            domain.Decrypter
	clock                domain.Clock
	logger               *logger.Logger
	metrics              *metrics.Metrics
	workerPool           int
	authFailureThreshold int
}

func NewSyncService(
	adapters AdapterRegistry,
	connections domain.ConnectionRepository,
	processor domain.DataProcessor,
	syncLogs domain.SyncLogWriter,
	decrypter domain.Decrypter,
	clock domain.Clock,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	workerPool, authFailureThreshold int,
) *SyncService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if workerPool <= 0 {
		workerPool = 1
	}
	return &SyncService{
		adapters:             adapters,
		connections:          connections,
		processor:            processor,
		syncLogs:             syncLogs,
		decrypter:            decrypter,
		clock:                clock,
		logger:               logger,
		metrics:              metrics,
		workerPool:           workerPool,
		authFailureThreshold: authFailureThreshold,
	}
}

func (s *SyncService) Networks() []networks.NetworkInfo {
	return s.adapters.Networks()
}

// SaveConnection validates and stores a connection. New credentials reset
// the stored session and the auth failure count.
func (s *SyncService) SaveConnection(ctx context.Context, conn domain.NetworkConnection) (domain.NetworkConnection, error) {
	adapter, err := s.adapters.Create(conn.Network)
	if err != nil {
		return conn, err
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	conn.Network = adapter.Name()
	conn.Session = nil

	creds, err := s.resolveCredentials(conn)
	if err != nil {
		return conn, err
	}
	if v := adapter.ValidateCredentials(creds); !v.Valid {
		return conn, &CredentialsError{Errors: v.Errors}
	}

	conn.Status = domain.ConnectionPending
	conn.AuthFailures = 0
	conn.UpdatedAt = s.clock.Now()
	if err := s.connections.Save(ctx, conn); err != nil {
		return conn, fmt.Errorf("failed to save connection: %w", err)
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"network":       conn.Network,
	}).Info("Connection saved")
	return conn, nil
}

// TestCredentials checks credentials that are not stored anywhere.
func (s *SyncService) TestCredentials(ctx context.Context, networkID string, creds domain.Credentials) (domain.ConnectionResult, error) {
	adapter, err := s.adapters.Create(networkID)
	if err != nil {
		return domain.ConnectionResult{}, err
	}
	// a test always exercises the login, never a pasted session
	result := adapter.TestConnection(ctx, creds.Without(domain.SessionAccessToken, domain.SessionCookies))
	result.Data = publicData(result.Data)
	return result, nil
}

// TestConnection tests a stored connection with its primary credentials and
// keeps the session it produced.
func (s *SyncService) TestConnection(ctx context.Context, connectionID string) (domain.ConnectionResult, error) {
	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return domain.ConnectionResult{}, err
	}
	adapter, err := s.adapters.Create(conn.Network)
	if err != nil {
		return domain.ConnectionResult{}, err
	}

	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{"connection_id": conn.ID, "network": conn.Network})

	withoutSession := conn
	withoutSession.Session = nil
	creds, err := s.resolveCredentials(withoutSession)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve credentials")
		return domain.ConnectionResult{Success: false, Message: err.Error(), ErrorKind: domain.ErrorKind(err)}, nil
	}

	result := adapter.TestConnection(ctx, creds)
	if result.Success {
		conn.Status = domain.ConnectionConnected
		conn.AuthFailures = 0
		conn.MergeSession(sessionData(result.Data))
	} else {
		conn.Status = domain.ConnectionFailed
	}
	result.Data = publicData(result.Data)

	conn.UpdatedAt = s.clock.Now()
	if err := s.connections.Save(ctx, conn); err != nil {
		return result, fmt.Errorf("failed to save connection: %w", err)
	}

	log.WithFields(logrus.Fields{"success": result.Success, "error_kind": result.ErrorKind}).Info("Connection tested")
	return result, nil
}

// Sync runs one connection's sync. The returned error only reports a missing
// connection or unknown network; sync failures are recorded in the log.
func (s *SyncService) Sync(ctx context.Context, connectionID string, cfg domain.SyncConfig) (domain.SyncLog, error) {
	start := time.Now()
	s.metrics.IncSyncJobsInProgress()
	defer s.metrics.DecSyncJobsInProgress()

	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return domain.SyncLog{}, err
	}
	adapter, err := s.adapters.Create(conn.Network)
	if err != nil {
		return domain.SyncLog{}, err
	}

	syncID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.SyncIDKey, syncID)
	log := s.logger.WithContext(ctx).WithFields(logrus.Fields{"connection_id": conn.ID, "network": conn.Network})
	log.Info("Starting sync")

	cfg = cfg.WithDefaults(adapter.DefaultConfig())
	cfg.NetworkID = adapter.Name()
	cfg.UserID = conn.UserID

	entry := domain.SyncLog{
		ID:           syncID,
		ConnectionID: conn.ID,
		Network:      conn.Network,
		UserID:       conn.UserID,
		DateFrom:     cfg.DateFrom,
		DateTo:       cfg.DateTo,
		StartedAt:    s.clock.Now(),
	}

	var result domain.SyncResult
	creds, err := s.resolveCredentials(conn)
	if err != nil {
		result = domain.SyncResult{
			Message:   "Sync failed: " + err.Error(),
			Data:      domain.SplitByType(nil),
			ErrorKind: domain.ErrorKind(err),
		}
	} else {
		result = adapter.SyncData(ctx, creds, cfg)
	}
	entry.Message = result.Message
	entry.Counts = countsOf(result.Data)

	switch {
	case !result.Success:
		entry.Status = domain.SyncLogFailed
	case result.Completeness != nil && !result.Completeness.IsComplete:
		entry.Status = domain.SyncLogPartial
	default:
		entry.Status = domain.SyncLogSuccess
	}

	if result.Success {
		processed, err := s.processor.Process(ctx, domain.ProcessRequest{
			Purchases:   result.Records(),
			NetworkID:   adapter.Name(),
			NetworkName: adapter.Name(),
			UserID:      conn.UserID,
			DateFrom:    cfg.DateFrom,
			DateTo:      cfg.DateTo,
		})
		if err != nil {
			log.WithError(err).Error("Failed to process synced records")
			entry.Status = domain.SyncLogFailed
			entry.Message = fmt.Sprintf("%s; processing failed: %v", result.Message, err)
		} else {
			entry.Processed = processed
		}
	}

	s.applyOutcome(&conn, result)
	if err := s.connections.Save(ctx, conn); err != nil {
		log.WithError(err).Error("Failed to save connection after sync")
	}

	entry.FinishedAt = s.clock.Now()
	if err := s.syncLogs.Write(ctx, entry); err != nil {
		log.WithError(err).Warn("Failed to write sync log")
	}

	duration := time.Since(start)
	s.metrics.RecordSyncJob(conn.Network, string(entry.Status), duration)
	log.WithFields(logrus.Fields{
		"status":        entry.Status,
		"records":       entry.Counts.Total,
		"auth_failures": conn.AuthFailures,
		"error_kind":    result.ErrorKind,
		"duration":      duration,
	}).Info("Sync finished")

	return entry, nil
}

// SyncAll syncs every stored connection on a bounded pool. Connections that
// reached the auth failure threshold are skipped until they are re-saved.
func (s *SyncService) SyncAll(ctx context.Context, cfg domain.SyncConfig) ([]domain.SyncLog, error) {
	conns, err := s.connections.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	log := s.logger.WithContext(ctx)
	results := make([]*domain.SyncLog, len(conns))

	var g errgroup.Group
	g.SetLimit(s.workerPool)
	for i, conn := range conns {
		if s.locked(conn) {
			log.WithField("connection_id", conn.ID).Info("Skipping connection with failed credentials")
			continue
		}
		g.Go(func() error {
			entry, err := s.Sync(ctx, conn.ID, cfg)
			if err != nil {
				log.WithError(err).WithField("connection_id", conn.ID).Warn("Sync not started")
				return nil
			}
			results[i] = &entry
			return nil
		})
	}
	_ = g.Wait()

	logs := make([]domain.SyncLog, 0, len(results))
	for _, entry := range results {
		if entry != nil {
			logs = append(logs, *entry)
		}
	}

	log.WithFields(logrus.Fields{"connections": len(conns), "synced": len(logs)}).Info("Sync run completed")
	return logs, ctx.Err()
}

func (s *SyncService) locked(conn domain.NetworkConnection) bool {
	return conn.Status == domain.ConnectionFailed && s.authFailureThreshold > 0 && conn.AuthFailures >= s.authFailureThreshold
}

// applyOutcome stores the refreshed session and updates the auth state.
func (s *SyncService) applyOutcome(conn *domain.NetworkConnection, result domain.SyncResult) {
	now := s.clock.Now()
	refreshed := result.RefreshedCredentials
	if len(refreshed) == 0 {
		refreshed = map[string]string{}
		if result.NewAccessToken != "" {
			refreshed[domain.SessionAccessToken] = result.NewAccessToken
		}
		if result.NewCookies != "" {
			refreshed[domain.SessionCookies] = result.NewCookies
		}
	}
	conn.MergeSession(refreshed)

	switch {
	case result.Success:
		conn.AuthFailures = 0
		conn.Status = domain.ConnectionConnected
		conn.LastSyncedAt = &now
	case domain.IsAuthFailureKind(result.ErrorKind):
		conn.AuthFailures++
		if strings.HasPrefix(result.ErrorKind, "session_expired") && conn.Session != nil {
			delete(conn.Session, domain.SessionAccessToken)
			delete(conn.Session, domain.SessionCookies)
		}
		if s.authFailureThreshold > 0 && conn.AuthFailures >= s.authFailureThreshold {
			conn.Status = domain.ConnectionFailed
		}
	}
	conn.UpdatedAt = now
}

// resolveCredentials decrypts stored values and overlays the session.
func (s *SyncService) resolveCredentials(conn domain.NetworkConnection) (domain.Credentials, error) {
	creds := make(domain.Credentials, len(conn.Credentials))
	for name, c := range conn.Credentials {
		if !c.Encrypted {
			creds[name] = c.Value
			continue
		}
		if s.decrypter == nil {
			return nil, fmt.Errorf("%w: %s is encrypted and no credentials key is configured", domain.ErrInvalidCredentials, name)
		}
		plain, err := s.decrypter.Decrypt(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot decrypt %s", domain.ErrInvalidCredentials, name)
		}
		creds[name] = plain
	}
	return creds.With(conn.Session), nil
}

// sessionData picks the string values of a connection test to keep as the
// session.
func sessionData(data map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range data {
		if str, ok := v.(string); ok && str != "" {
			out[k] = str
		}
	}
	return out
}

// publicData drops session secrets from data returned to callers.
func publicData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == domain.SessionAccessToken || k == domain.SessionCookies {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func countsOf(data domain.SyncData) domain.SyncCounts {
	counts := domain.SyncCounts{
		Campaigns: data.Coupons.Campaigns,
		Coupons:   data.Coupons.Coupons,
		Purchases: data.Coupons.Purchases,
		Total:     data.Coupons.Total,
	}
	if data.Links != nil {
		counts.Campaigns += data.Links.Campaigns
		counts.Coupons += data.Links.Coupons
		counts.Purchases += data.Links.Purchases
		counts.Total += data.Links.Total
	}
	return counts
}
