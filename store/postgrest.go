package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"greentech/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	alertsTable    = "/alerts"
	analyticsTable = "/analytics"
)

// PostgRESTStore talks to a Supabase-style record API at <base>/rest/v1.
type PostgRESTStore struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewPostgRESTStore(baseURL, apiKey string, logger *zap.Logger) *PostgRESTStore {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/rest/v1").
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetHeader("apikey", apiKey).SetAuthToken(apiKey)
	}

	return &PostgRESTStore{
		httpClient: client,
		logger:     logger,
	}
}

func eq(v string) string { return "eq." + v }

func (s *PostgRESTStore) CreateAlert(ctx context.Context, userID string, alert models.AlertRecord) (string, error) {
	var created []alertRow
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(newAlertRow(userID, alert)).
		SetResult(&created).
		Post(alertsTable)
	if err := checkResponse("create alert", resp, err); err != nil {
		return "", err
	}
	if len(created) == 0 {
		return "", fmt.Errorf("create alert: empty representation")
	}
	return string(created[0].ID), nil
}

func (s *PostgRESTStore) ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]models.AlertRecord, error) {
	req := s.httpClient.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("order", "created_at.desc").
		SetQueryParam("limit", strconv.Itoa(filter.limit()))
	if filter.Resolved != nil {
		req.SetQueryParam("is_resolved", eq(strconv.FormatBool(*filter.Resolved)))
	}

	var rows []alertRow
	resp, err := req.SetResult(&rows).Get(alertsTable)
	if err := checkResponse("list alerts", resp, err); err != nil {
		return nil, err
	}

	sortAlertRows(rows)
	out := make([]models.AlertRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (s *PostgRESTStore) UpdateAlert(ctx context.Context, userID, id string, update AlertUpdate) error {
	fields := update.fields()
	if len(fields) == 0 {
		return nil
	}

	var updated []alertRow
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", eq(id)).
		SetQueryParam("user_id", eq(userID)).
		SetBody(fields).
		SetResult(&updated).
		Patch(alertsTable)
	if err := checkResponse("update alert", resp, err); err != nil {
		return err
	}
	if len(updated) == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}

	s.logger.Debug("Alert updated",
		zap.String("user_id", userID),
		zap.String("record_id", id),
		zap.Any("fields", fields))
	return nil
}

func (s *PostgRESTStore) SaveAnalytics(ctx context.Context, snapshot models.AnalyticsSnapshot) (string, error) {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	snapshot.ID = ""

	var created []analyticsRow
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(snapshot).
		SetResult(&created).
		Post(analyticsTable)
	if err := checkResponse("save analytics", resp, err); err != nil {
		return "", err
	}
	if len(created) == 0 {
		return "", fmt.Errorf("save analytics: empty representation")
	}
	return string(created[0].ID), nil
}

func (s *PostgRESTStore) ListAnalytics(ctx context.Context, userID string, limit int) ([]models.AnalyticsSnapshot, error) {
	var rows []analyticsRow
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("user_id", eq(userID)).
		SetQueryParam("order", "created_at.desc").
		SetQueryParam("limit", strconv.Itoa(normalizeLimit(limit))).
		SetResult(&rows).
		Get(analyticsTable)
	if err := checkResponse("list analytics", resp, err); err != nil {
		return nil, err
	}

	out := make([]models.AnalyticsSnapshot, len(rows))
	for i, r := range rows {
		out[i] = r.snapshot()
	}
	sortSnapshots(out)
	return out, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s: %s", op, resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}
