// Package store persists alert records and analytics snapshots per user.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"greentech/config"
	"greentech/models"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("record not found")

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 50

// AlertFilter narrows ListAlerts. A nil Resolved returns both states.
type AlertFilter struct {
	Resolved *bool
	Limit    int
}

// AlertUpdate carries the flags a user action may change. Nil fields are left alone.
type AlertUpdate struct {
	IsRead     *bool
	IsResolved *bool
}

// Store is the record API the pipeline persists through. List operations
// return records newest first.
type Store interface {
	CreateAlert(ctx context.Context, userID string, alert models.AlertRecord) (string, error)
	ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]models.AlertRecord, error)
	UpdateAlert(ctx context.Context, userID, id string, update AlertUpdate) error
	SaveAnalytics(ctx context.Context, snapshot models.AnalyticsSnapshot) (string, error)
	ListAnalytics(ctx context.Context, userID string, limit int) ([]models.AnalyticsSnapshot, error)
}

// New builds the backend selected by cfg.StoreBackend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory, "":
		logger.Info("Using in-memory store")
		return NewMemoryStore(), nil
	case config.StoreFirebase:
		return NewFirebaseStore(ctx, cfg, logger)
	case config.StorePostgREST:
		return NewPostgRESTStore(cfg.PostgRESTURL, cfg.PostgRESTAPIKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func Bool(v bool) *bool { return &v }

// recordID accepts both string and numeric primary keys.
type recordID string

func (id *recordID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = recordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id %s: %w", b, err)
	}
	*id = recordID(n.String())
	return nil
}

// alertRow is the persisted shape of an alert.
type alertRow struct {
	ID          recordID        `json:"id,omitempty"`
	UserID      string          `json:"user_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
	Category    models.Category `json:"category"`
	IsRead      bool            `json:"is_read"`
	IsResolved  bool            `json:"is_resolved"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newAlertRow(userID string, a models.AlertRecord) alertRow {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return alertRow{
		UserID:      userID,
		Title:       a.Title,
		Description: a.Description,
		Severity:    a.Severity,
		Category:    a.Category,
		IsRead:      a.IsRead,
		IsResolved:  a.IsResolved,
		CreatedAt:   created.UTC(),
	}
}

func (r alertRow) record() models.AlertRecord {
	return models.AlertRecord{
		ID:          models.StoredAlertID(string(r.ID)),
		Title:       r.Title,
		Description: r.Description,
		Severity:    r.Severity,
		Category:    r.Category,
		CreatedAt:   r.CreatedAt,
		IsRead:      r.IsRead,
		IsResolved:  r.IsResolved,
		SourceID:    string(r.ID),
	}
}

// analyticsRow decodes a stored snapshot whose key may be numeric.
type analyticsRow struct {
	ID recordID `json:"id"`
	models.AnalyticsSnapshot
}

func (r analyticsRow) snapshot() models.AnalyticsSnapshot {
	snap := r.AnalyticsSnapshot
	snap.ID = string(r.ID)
	return snap
}

func (f AlertFilter) match(r alertRow) bool {
	return f.Resolved == nil || *f.Resolved == r.IsResolved
}

func (f AlertFilter) limit() int {
	return normalizeLimit(f.Limit)
}

func (u AlertUpdate) apply(r *alertRow) {
	if u.IsRead != nil {
		r.IsRead = *u.IsRead
	}
	if u.IsResolved != nil {
		r.IsResolved = *u.IsResolved
	}
}

func (u AlertUpdate) fields() map[string]interface{} {
	out := make(map[string]interface{}, 2)
	if u.IsRead != nil {
		out["is_read"] = *u.IsRead
	}
	if u.IsResolved != nil {
		out["is_resolved"] = *u.IsResolved
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func sortAlertRows(rows []alertRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}

func sortSnapshots(snaps []models.AnalyticsSnapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
}
