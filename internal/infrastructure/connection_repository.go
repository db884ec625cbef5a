package infrastructure

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

// implements domain.ConnectionRepository interface
type ConnectionRepository struct {
	data   map[string]domain.NetworkConnection
	mutex  sync.RWMutex
	logger *logger.Logger
}

// creates a new connection repository
func NewConnectionRepository(logger *logger.Logger) *ConnectionRepository {
	return &ConnectionRepository{
		data:   make(map[string]domain.NetworkConnection),
		logger: logger,
	}
}

func (r *ConnectionRepository) Save(ctx context.Context, conn domain.NetworkConnection) error {
	if conn.ID == "" {
		return fmt.Errorf("connection id is required")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.data[conn.ID] = conn.Clone()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"connection_id": conn.ID,
		"network":       conn.Network,
		"status":        conn.Status,
	}).Debug("Stored connection in memory")
	return nil
}

func (r *ConnectionRepository) Get(ctx context.Context, id string) (domain.NetworkConnection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conn, ok := r.data[id]
	if !ok {
		return domain.NetworkConnection{}, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return conn.Clone(), nil
}

func (r *ConnectionRepository) List(ctx context.Context) ([]domain.NetworkConnection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]domain.NetworkConnection, 0, len(r.data))
	for _, conn := range r.data {
		result = append(result, conn.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}
