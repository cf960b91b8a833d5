package store

import (
	"context"
	"fmt"
	"time"

	"greentech/config"
	"greentech/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseStore keeps records in the Realtime Database under
// alerts/<user>/<push-id> and analytics/<user>/<push-id>.
type FirebaseStore struct {
	client *db.Client
	logger *zap.Logger
}

func NewFirebaseStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseStore, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseStore{
		client: client,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection reads the alerts root with linear backoff between attempts.
func (fs *FirebaseStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		var probe map[string]interface{}
		err := fs.client.NewRef("alerts").OrderByKey().LimitToFirst(1).Get(ctx, &probe)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func alertsPath(userID string) string    { return "alerts/" + userID }
func analyticsPath(userID string) string { return "analytics/" + userID }

func (fs *FirebaseStore) CreateAlert(ctx context.Context, userID string, alert models.AlertRecord) (string, error) {
	row := newAlertRow(userID, alert)

	ref, err := fs.client.NewRef(alertsPath(userID)).Push(ctx, row)
	if err != nil {
		return "", fmt.Errorf("error creating alert: %w", err)
	}

	fs.logger.Debug("Alert stored",
		zap.String("user_id", userID),
		zap.String("record_id", ref.Key),
		zap.String("severity", string(row.Severity)))
	return ref.Key, nil
}

// ListAlerts queries by created_at, or by is_resolved when the filter
// needs it, since the database orders by a single child per query.
func (fs *FirebaseStore) ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]models.AlertRecord, error) {
	ref := fs.client.NewRef(alertsPath(userID))

	var query *db.Query
	if filter.Resolved != nil {
		query = ref.OrderByChild("is_resolved").EqualTo(*filter.Resolved)
	} else {
		query = ref.OrderByChild("created_at").LimitToLast(filter.limit())
	}

	var data map[string]alertRow
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}

	rows := make([]alertRow, 0, len(data))
	for key, row := range data {
		row.ID = recordID(key)
		if filter.match(row) {
			rows = append(rows, row)
		}
	}

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

func (fs *FirebaseStore) UpdateAlert(ctx context.Context, userID, id string, update AlertUpdate) error {
	ref := fs.client.NewRef(alertsPath(userID)).Child(id)

	var existing map[string]interface{}
	if err := ref.Get(ctx, &existing); err != nil {
		return fmt.Errorf("error reading alert %s: %w", id, err)
	}
	if existing == nil {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}

	fields := update.fields()
	if len(fields) == 0 {
		return nil
	}
	if err := ref.Update(ctx, fields); err != nil {
		return fmt.Errorf("error updating alert %s: %w", id, err)
	}
	return nil
}

func (fs *FirebaseStore) SaveAnalytics(ctx context.Context, snapshot models.AnalyticsSnapshot) (string, error) {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	snapshot.ID = ""

	ref, err := fs.client.NewRef(analyticsPath(snapshot.UserID)).Push(ctx, snapshot)
	if err != nil {
		return "", fmt.Errorf("error saving analytics: %w", err)
	}
	return ref.Key, nil
}

func (fs *FirebaseStore) ListAnalytics(ctx context.Context, userID string, limit int) ([]models.AnalyticsSnapshot, error) {
	query := fs.client.NewRef(analyticsPath(userID)).OrderByChild("created_at").LimitToLast(normalizeLimit(limit))

	var data map[string]models.AnalyticsSnapshot
	if err := query.Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("error listing analytics: %w", err)
	}

	out := make([]models.AnalyticsSnapshot, 0, len(data))
	for key, snap := range data {
		snap.ID = key
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out, nil
}
