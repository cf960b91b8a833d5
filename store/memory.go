package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"greentech/models"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. Used when no remote backend is configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	alerts    map[string][]alertRow
	analytics map[string][]models.AnalyticsSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:    make(map[string][]alertRow),
		analytics: make(map[string][]models.AnalyticsSnapshot),
	}
}

func (s *MemoryStore) CreateAlert(ctx context.Context, userID string, alert models.AlertRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	row := newAlertRow(userID, alert)
	row.ID = recordID(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[userID] = append(s.alerts[userID], row)
	return string(row.ID), nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]models.AlertRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// walk backwards so records sharing a timestamp list newest first
	s.mu.RLock()
	all := s.alerts[userID]
	rows := make([]alertRow, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if filter.match(all[i]) {
			rows = append(rows, all[i])
		}
	}
	s.mu.RUnlock()

	sortAlertRows(rows)
	if len(rows) > filter.limit() {
		rows = rows[:filter.limit()]
	}

	out := make([]models.AlertRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, userID, id string, update AlertUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.alerts[userID]
	for i := range rows {
		if string(rows[i].ID) == id {
			update.apply(&rows[i])
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) SaveAnalytics(ctx context.Context, snapshot models.AnalyticsSnapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	snapshot.ID = uuid.NewString()
	snapshot.Recommendations = append([]string(nil), snapshot.Recommendations...)
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics[snapshot.UserID] = append(s.analytics[snapshot.UserID], snapshot)
	return snapshot.ID, nil
}

func (s *MemoryStore) ListAnalytics(ctx context.Context, userID string, limit int) ([]models.AnalyticsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := s.analytics[userID]
	out := make([]models.AnalyticsSnapshot, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	s.mu.RUnlock()

	sortSnapshots(out)
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
