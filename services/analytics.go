package services

import (
	"context"
	"sync"
	"time"

	"greentech/analytics"
	"greentech/config"
	"greentech/models"
	"greentech/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const saveMaxRetries = 3

// AnalyticsSink receives every snapshot that was written to the store.
type AnalyticsSink interface {
	NotifyAnalytics(ctx context.Context, snapshot models.AnalyticsSnapshot) error
}

// InsightGenerator produces the optional narrative layered over a result.
type InsightGenerator interface {
	Generate(ctx context.Context, result models.AnalyticsResult, reading analytics.Reading) (*models.Insight, error)
}

type AnalyticsOption func(*AnalyticsService)

func WithAnalyticsClock(now func() time.Time) AnalyticsOption {
	return func(s *AnalyticsService) { s.now = now }
}

// WithInsightGenerator enables the periodic insight refresh.
func WithInsightGenerator(g InsightGenerator) AnalyticsOption {
	return func(s *AnalyticsService) { s.insights = g }
}

// AnalyticsService recomputes scores from live telemetry, keeps a bounded
// history for trend detection and persists a snapshot once per save interval.
type AnalyticsService struct {
	source          TelemetrySource
	store           store.Store
	insights        InsightGenerator
	userID          string
	computeInterval time.Duration
	saveInterval    time.Duration
	insightInterval time.Duration
	historyLimit    int
	retryBackoff    time.Duration
	now             func() time.Time
	logger          *zap.Logger

	mu      sync.RWMutex
	latest  models.AnalyticsResult
	insight *models.Insight
	history []analytics.HistoryPoint
	sinks   []AnalyticsSink
}

func NewAnalyticsService(cfg *config.Config, source TelemetrySource, st store.Store, logger *zap.Logger, opts ...AnalyticsOption) *AnalyticsService {
	s := &AnalyticsService{
		source:          source,
		store:           st,
		userID:          cfg.UserID,
		computeInterval: cfg.AnalyticsComputeInterval,
		saveInterval:    cfg.AnalyticsSaveInterval,
		insightInterval: cfg.InsightInterval,
		historyLimit:    cfg.AnalyticsHistoryLimit,
		retryBackoff:    time.Second,
		now:             time.Now,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.computeInterval <= 0 {
		s.computeInterval = 5 * time.Second
	}
	if s.saveInterval <= 0 {
		s.saveInterval = 60 * time.Second
	}
	if s.insightInterval <= 0 {
		s.insightInterval = 120 * time.Second
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 100
	}
	return s
}

func (s *AnalyticsService) AddSink(sink AnalyticsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Start loads history and runs the compute, save and insight loops until ctx
// is cancelled. The loops never block each other.
func (s *AnalyticsService) Start(ctx context.Context) error {
	s.logger.Info("Starting analytics service",
		zap.Duration("compute_interval", s.computeInterval),
		zap.Duration("save_interval", s.saveInterval),
		zap.Bool("insights", s.insights != nil))

	s.LoadHistory(ctx)
	s.Recompute()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.every(ctx, s.computeInterval, func(context.Context) { s.Recompute() })
		return nil
	})
	g.Go(func() error {
		s.every(ctx, s.saveInterval, func(ctx context.Context) { s.SaveSnapshot(ctx) })
		return nil
	})
	if s.insights != nil {
		g.Go(func() error {
			s.every(ctx, s.insightInterval, s.RefreshInsight)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("Analytics service stopped")
	return err
}

func (s *AnalyticsService) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// LoadHistory replaces the trend history with the newest stored snapshots.
// A failed load keeps whatever history is already held.
func (s *AnalyticsService) LoadHistory(ctx context.Context) {
	if s.userID == "" {
		return
	}

	snaps, err := s.store.ListAnalytics(ctx, s.userID, s.historyLimit)
	if err != nil {
		s.logger.Warn("Failed to load analytics history",
			zap.String("user_id", s.userID),
			zap.Error(err))
		return
	}

	history := make([]analytics.HistoryPoint, len(snaps))
	for i, snap := range snaps {
		history[i] = analytics.HistoryPoint{
			PlantHealthScore: snap.PlantHealthScore,
			CreatedAt:        snap.CreatedAt,
		}
	}

	s.mu.Lock()
	s.history = history
	s.mu.Unlock()

	s.logger.Debug("Loaded analytics history", zap.Int("snapshots", len(history)))
}

// Recompute scores the current telemetry snapshot and stores it as Latest.
func (s *AnalyticsService) Recompute() models.AnalyticsResult {
	reading := readingOf(s.source.Snapshot())

	s.mu.Lock()
	defer s.mu.Unlock()

	result := analytics.Compute(reading, s.history)
	result.ComputedAt = s.now()
	result = analytics.ApplyInsight(result, s.insight)
	s.latest = result
	return result
}

// Latest returns the last computed result with any insight applied.
func (s *AnalyticsService) Latest() models.AnalyticsResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *AnalyticsService) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// SaveSnapshot persists the current scores when the broker is connected, a
// user is set and a full reading has arrived. Store failures are retried with
// a linear backoff and then dropped.
func (s *AnalyticsService) SaveSnapshot(ctx context.Context) bool {
	if s.userID == "" || !s.source.ConnectionState().IsConnected() {
		return false
	}
	state := s.source.Snapshot()
	if !state.HasReading() {
		return false
	}

	result := s.Recompute()
	snap := models.AnalyticsSnapshot{
		UserID:              s.userID,
		PlantHealthScore:    result.PlantHealthScore,
		IrrigationNeedScore: result.IrrigationNeedScore,
		ClimateRiskScore:    result.ClimateRiskScore,
		Recommendations:     result.Recommendations,
		Snapshot: models.ReadingSnapshot{
			Temperature:  state.Temperature,
			Humidity:     state.Humidity,
			SoilMoisture: state.SoilMoisture,
		},
		CreatedAt: result.ComputedAt,
	}

	var err error
	for attempt := 1; attempt <= saveMaxRetries; attempt++ {
		var id string
		id, err = s.store.SaveAnalytics(ctx, snap)
		if err == nil {
			snap.ID = id
			break
		}

		s.logger.Error("Failed to save analytics snapshot",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", saveMaxRetries),
			zap.Error(err))

		if attempt < saveMaxRetries {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Duration(attempt) * s.retryBackoff):
			}
		}
	}
	if err != nil {
		s.logger.Error("Dropping analytics snapshot after all retries",
			zap.String("user_id", s.userID),
			zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.history = append([]analytics.HistoryPoint{{
		PlantHealthScore: snap.PlantHealthScore,
		CreatedAt:        snap.CreatedAt,
	}}, s.history...)
	if len(s.history) > s.historyLimit {
		s.history = s.history[:s.historyLimit]
	}
	sinks := s.sinks
	s.mu.Unlock()

	s.logger.Info("Saved analytics snapshot",
		zap.String("id", snap.ID),
		zap.Int("plant_health_score", snap.PlantHealthScore))

	for _, sink := range sinks {
		if err := sink.NotifyAnalytics(ctx, snap); err != nil {
			s.logger.Warn("Analytics sink failed", zap.Error(err))
		}
	}
	return true
}

// RefreshInsight asks the generator for a new narrative. Any failure clears
// the insight so Latest falls back to the local summary.
func (s *AnalyticsService) RefreshInsight(ctx context.Context) {
	if s.insights == nil || !s.source.ConnectionState().IsConnected() {
		return
	}
	state := s.source.Snapshot()
	if !state.HasReading() {
		return
	}

	reading := readingOf(state)
	s.mu.RLock()
	base := analytics.Compute(reading, s.history)
	s.mu.RUnlock()

	insight, err := s.insights.Generate(ctx, base, reading)
	if err != nil {
		s.logger.Warn("Insight unavailable, using local summary", zap.Error(err))
		insight = nil
	}

	s.mu.Lock()
	s.insight = insight
	s.mu.Unlock()

	s.Recompute()
}

func readingOf(state models.SensorState) analytics.Reading {
	return analytics.Reading{
		Temperature:  state.Temperature,
		Humidity:     state.Humidity,
		SoilMoisture: state.SoilMoisture,
	}
}
