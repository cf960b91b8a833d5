package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"greentech/config"
	"greentech/models"
	"greentech/store"

	"go.uber.org/zap"
)

var ErrAlertNotFound = errors.New("alert not found")

// TelemetrySource is the read side of the telemetry session.
type TelemetrySource interface {
	Snapshot() models.SensorState
	ConnectionState() models.ConnectionState
}

// AlertSink receives every alert that was written to the store.
type AlertSink interface {
	NotifyAlert(ctx context.Context, alert models.AlertRecord) error
}

type AlertBridgeOption func(*AlertBridge)

func WithBridgeClock(now func() time.Time) AlertBridgeOption {
	return func(b *AlertBridge) { b.now = now }
}

// AlertSummary is the merged alert list with its badge counts.
type AlertSummary struct {
	Alerts             []models.AlertRecord `json:"alerts"`
	Unread             int                  `json:"unread"`
	CriticalUnresolved int                  `json:"critical_unresolved"`
}

// AlertBridge turns live sensor conditions into alerts, promotes them to the
// store at most once per cooldown window and merges them with stored alerts.
type AlertBridge struct {
	source           TelemetrySource
	store            store.Store
	userID           string
	ledger           *CooldownLedger
	evaluateInterval time.Duration
	refreshInterval  time.Duration
	now              func() time.Time
	logger           *zap.Logger

	mu        sync.RWMutex
	sinks     []AlertSink
	live      []models.AlertRecord
	onset     map[models.ConditionKind]time.Time
	durable   []models.AlertRecord
	dismissed map[string]struct{}
}

func NewAlertBridge(cfg *config.Config, source TelemetrySource, st store.Store, logger *zap.Logger, opts ...AlertBridgeOption) *AlertBridge {
	b := &AlertBridge{
		source:           source,
		store:            st,
		userID:           cfg.UserID,
		ledger:           NewCooldownLedger(AlertCooldown),
		evaluateInterval: cfg.AlertEvaluateInterval,
		refreshInterval:  cfg.AlertRefreshInterval,
		now:              time.Now,
		logger:           logger,
		onset:            make(map[models.ConditionKind]time.Time),
		dismissed:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.evaluateInterval <= 0 {
		b.evaluateInterval = 5 * time.Second
	}
	if b.refreshInterval <= 0 {
		b.refreshInterval = 30 * time.Second
	}
	return b
}

// AddSink registers a notification target for newly stored alerts.
func (b *AlertBridge) AddSink(sink AlertSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Start evaluates conditions and refreshes stored alerts on independent
// tickers until ctx is cancelled.
func (b *AlertBridge) Start(ctx context.Context) {
	b.logger.Info("Starting alert bridge",
		zap.String("user_id", b.userID),
		zap.Duration("evaluate_interval", b.evaluateInterval),
		zap.Duration("refresh_interval", b.refreshInterval))

	b.Refresh(ctx)
	b.Evaluate(ctx)

	evaluate := time.NewTicker(b.evaluateInterval)
	defer evaluate.Stop()
	refresh := time.NewTicker(b.refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Alert bridge stopped")
			return
		case <-evaluate.C:
			b.Evaluate(ctx)
		case <-refresh.C:
			b.Refresh(ctx)
		}
	}
}

// Evaluate derives the live alerts from the current telemetry snapshot and
// persists the ones whose cooldown has elapsed. A condition keeps its onset
// time for as long as it holds.
func (b *AlertBridge) Evaluate(ctx context.Context) []models.AlertRecord {
	now := b.now()
	derived := DeriveLiveAlerts(b.source.Snapshot(), b.source.ConnectionState(), now)

	b.mu.Lock()
	active := make(map[models.ConditionKind]bool, len(derived))
	for i := range derived {
		kind := derived[i].Kind
		active[kind] = true
		if since, ok := b.onset[kind]; ok {
			derived[i].CreatedAt = since
		} else {
			b.onset[kind] = now
		}
	}
	for kind := range b.onset {
		if !active[kind] {
			delete(b.onset, kind)
		}
	}
	b.live = derived
	b.mu.Unlock()

	for _, alert := range derived {
		b.PersistIfDue(ctx, alert)
	}
	return derived
}

// PersistIfDue writes alert to the store unless its kind was persisted within
// the cooldown window. Store failures are logged and the cooldown still applies.
func (b *AlertBridge) PersistIfDue(ctx context.Context, alert models.AlertRecord) bool {
	if b.userID == "" {
		return false
	}

	now := b.now()
	if !b.ledger.Allow(alert.Kind, now) {
		return false
	}

	record := alert
	record.CreatedAt = now
	record.IsRead = false
	record.IsResolved = false

	id, err := b.store.CreateAlert(ctx, b.userID, record)
	if err != nil {
		b.logger.Error("Failed to persist alert",
			zap.String("kind", string(alert.Kind)),
			zap.String("user_id", b.userID),
			zap.Error(err))
		return false
	}

	record.ID = models.StoredAlertID(id)
	record.SourceID = id

	b.logger.Info("Persisted alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("id", id),
		zap.String("severity", string(alert.Severity)))

	b.notify(ctx, record)
	b.Refresh(ctx)
	return true
}

func (b *AlertBridge) notify(ctx context.Context, alert models.AlertRecord) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.NotifyAlert(ctx, alert); err != nil {
			b.logger.Warn("Alert sink failed",
				zap.String("id", alert.ID),
				zap.Error(err))
		}
	}
}

// Refresh reloads stored alerts. On failure the cache is emptied so only live
// alerts remain visible.
func (b *AlertBridge) Refresh(ctx context.Context) {
	if b.userID == "" {
		return
	}

	alerts, err := b.store.ListAlerts(ctx, b.userID, store.AlertFilter{Limit: store.DefaultListLimit})
	if err != nil {
		b.logger.Warn("Failed to load stored alerts",
			zap.String("user_id", b.userID),
			zap.Error(err))
		alerts = nil
	}

	b.mu.Lock()
	b.durable = alerts
	b.mu.Unlock()
}

// ListAlerts returns the visible live alerts followed by the stored alerts of
// userID. Stored alerts of other users are read straight from the store and
// never touch the cache.
func (b *AlertBridge) ListAlerts(ctx context.Context, userID string) []models.AlertRecord {
	if userID == "" {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.liveLocked()
	}
	if userID == b.userID {
		b.Refresh(ctx)
		return b.Alerts()
	}

	stored, err := b.store.ListAlerts(ctx, userID, store.AlertFilter{Limit: store.DefaultListLimit})
	if err != nil {
		b.logger.Warn("Failed to load stored alerts",
			zap.String("user_id", userID),
			zap.Error(err))
		stored = nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return append(b.liveLocked(), stored...)
}

// Alerts returns visible live alerts, most recent onset first, followed by
// stored alerts newest first.
func (b *AlertBridge) Alerts() []models.AlertRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mergedLocked()
}

func (b *AlertBridge) mergedLocked() []models.AlertRecord {
	return append(b.liveLocked(), b.durable...)
}

// liveLocked returns the undismissed live alerts, most recent onset first.
func (b *AlertBridge) liveLocked() []models.AlertRecord {
	live := make([]models.AlertRecord, 0, len(b.live)+len(b.durable))
	for _, a := range b.live {
		if _, ok := b.dismissed[a.ID]; !ok {
			live = append(live, a)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	return live
}

// Summary returns the merged list and its counts from one consistent view.
func (b *AlertBridge) Summary() AlertSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	alerts := b.mergedLocked()
	return AlertSummary{
		Alerts:             alerts,
		Unread:             countUnread(alerts),
		CriticalUnresolved: countCriticalUnresolved(alerts),
	}
}

func (b *AlertBridge) UnreadCount() int {
	return countUnread(b.Alerts())
}

func (b *AlertBridge) CriticalUnresolvedCount() int {
	return countCriticalUnresolved(b.Alerts())
}

func countUnread(alerts []models.AlertRecord) int {
	n := 0
	for _, a := range alerts {
		if !a.IsRead {
			n++
		}
	}
	return n
}

func countCriticalUnresolved(alerts []models.AlertRecord) int {
	n := 0
	for _, a := range alerts {
		if a.Severity == models.SeverityCritical && !a.IsResolved {
			n++
		}
	}
	return n
}

// Resolve hides a live alert for the rest of the session or marks a stored
// alert resolved and read. Repeating it is a no-op.
func (b *AlertBridge) Resolve(ctx context.Context, id string) error {
	return b.close(ctx, id, "resolve")
}

// Dismiss has the same effect as Resolve.
func (b *AlertBridge) Dismiss(ctx context.Context, id string) error {
	return b.close(ctx, id, "dismiss")
}

func (b *AlertBridge) close(ctx context.Context, id, action string) error {
	if _, ok := models.ParseLiveAlertID(id); ok {
		b.mu.Lock()
		active := false
		for _, a := range b.live {
			if a.ID == id {
				active = true
				break
			}
		}
		if active {
			b.dismissed[id] = struct{}{}
		}
		b.mu.Unlock()
		if !active {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
		}
		b.logger.Debug("Live alert hidden", zap.String("id", id), zap.String("action", action))
		return nil
	}

	sourceID, ok := models.ParseStoredAlertID(id)
	if !ok || b.userID == "" {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}

	if b.alreadyClosed(id) {
		return nil
	}

	err := b.store.UpdateAlert(ctx, b.userID, sourceID, store.AlertUpdate{
		IsResolved: store.Bool(true),
		IsRead:     store.Bool(true),
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%s alert %s: %w", action, id, err)
	}

	b.logger.Info("Alert closed", zap.String("id", id), zap.String("action", action))
	b.Refresh(ctx)
	return nil
}

func (b *AlertBridge) alreadyClosed(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, a := range b.durable {
		if a.ID == id {
			return a.IsResolved && a.IsRead
		}
	}
	return false
}
