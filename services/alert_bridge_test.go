package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"greentech/config"
	"greentech/models"
	"greentech/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	mu    sync.Mutex
	state models.SensorState
	conn  models.ConnectionState
}

func newFakeSource(temp, humidity float64, soil int) *fakeSource {
	s := &fakeSource{conn: models.ConnectionState{Status: models.StatusConnected}}
	s.set(temp, humidity, soil)
	return s
}

func (s *fakeSource) set(temp, humidity float64, soil int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.NewSensorState()
	s.state.Temperature = temp
	s.state.Humidity = humidity
	s.state.SoilMoisture = soil
	s.state.Received = s.state.Received.
		With(models.TopicTemperature).
		With(models.TopicHumidity).
		With(models.TopicSoilMoisture)
}

func (s *fakeSource) setStatus(status models.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Status = status
}

func (s *fakeSource) Snapshot() models.SensorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSource) ConnectionState() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// countingStore counts writes and can be switched into a failing mode.
type countingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	creates int
	fail    error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *countingStore) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *countingStore) CreateAlert(ctx context.Context, userID string, alert models.AlertRecord) (string, error) {
	s.mu.Lock()
	s.creates++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return "", fail
	}
	return s.MemoryStore.CreateAlert(ctx, userID, alert)
}

func (s *countingStore) ListAlerts(ctx context.Context, userID string, filter store.AlertFilter) ([]models.AlertRecord, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	return s.MemoryStore.ListAlerts(ctx, userID, filter)
}

func (s *countingStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []models.AlertRecord
	err    error
}

func (s *recordingSink) NotifyAlert(_ context.Context, alert models.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func newTestBridge(t *testing.T, src TelemetrySource, st store.Store, clock *fakeClock) *AlertBridge {
	t.Helper()
	cfg := &config.Config{UserID: "user-1"}
	return NewAlertBridge(cfg, src, st, zap.NewNop(), WithBridgeClock(clock.Now))
}

func TestAlertBridge_CooldownLimitsWrites(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	b := newTestBridge(t, newFakeSource(24, 60, 20), st, clock)
	ctx := context.Background()

	alert := DeriveLiveAlerts(newFakeSource(24, 60, 20).Snapshot(), models.ConnectionState{Status: models.StatusConnected}, clock.Now())[0]
	require.Equal(t, models.ConditionSoilCritical, alert.Kind)

	assert.True(t, b.PersistIfDue(ctx, alert))
	clock.Advance(4 * time.Minute)
	assert.False(t, b.PersistIfDue(ctx, alert))
	assert.Equal(t, 1, st.createCount())

	clock.Advance(time.Minute)
	assert.True(t, b.PersistIfDue(ctx, alert))
	assert.Equal(t, 2, st.createCount())
}

func TestAlertBridge_CooldownIsPerKind(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	src := newFakeSource(35, 85, 15)
	b := newTestBridge(t, src, st, clock)

	b.Evaluate(context.Background())
	assert.Equal(t, 3, st.createCount(), "soil critical, high temperature, high humidity")

	clock.Advance(time.Minute)
	b.Evaluate(context.Background())
	assert.Equal(t, 3, st.createCount())
}

func TestAlertBridge_StableIdentity(t *testing.T) {
	clock := newFakeClock()
	src := newFakeSource(24, 60, 20)
	b := newTestBridge(t, src, newCountingStore(), clock)

	first := b.Evaluate(context.Background())
	clock.Advance(30 * time.Second)
	second := b.Evaluate(context.Background())

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "live-soil-critical", second[0].ID)
	assert.Equal(t, first[0].CreatedAt, second[0].CreatedAt, "onset is kept while the condition holds")
}

func TestAlertBridge_OnsetResetsWhenConditionClears(t *testing.T) {
	clock := newFakeClock()
	src := newFakeSource(24, 60, 20)
	b := newTestBridge(t, src, newCountingStore(), clock)

	first := b.Evaluate(context.Background())
	src.set(24, 60, 55)
	clock.Advance(time.Minute)
	assert.Empty(t, b.Evaluate(context.Background()))

	src.set(24, 60, 20)
	clock.Advance(time.Minute)
	again := b.Evaluate(context.Background())
	require.Len(t, again, 1)
	assert.True(t, again[0].CreatedAt.After(first[0].CreatedAt))
}

func TestAlertBridge_HotHumidDryScenario(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	sink := &recordingSink{}
	b := newTestBridge(t, newFakeSource(35, 85, 15), st, clock)
	b.AddSink(sink)

	live := b.Evaluate(context.Background())
	require.Len(t, live, 3)
	assert.Equal(t, models.SeverityCritical, live[0].Severity)
	assert.Equal(t, models.CategoryIrrigation, live[0].Category)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.alerts, 3)
	for _, a := range sink.alerts {
		assert.True(t, a.IsDurable())
		assert.Equal(t, models.StoredAlertID(a.SourceID), a.ID)
	}
}

func TestAlertBridge_MergeOrder(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	src := newFakeSource(24, 60, 40)
	b := newTestBridge(t, src, st, clock)
	ctx := context.Background()

	b.Evaluate(ctx)
	clock.Advance(time.Minute)
	src.set(32, 60, 40)
	b.Evaluate(ctx)

	merged := b.Alerts()
	require.Len(t, merged, 4)

	assert.Equal(t, models.LiveAlertID(models.ConditionTemperatureHigh), merged[0].ID, "newer live onset first")
	assert.Equal(t, models.LiveAlertID(models.ConditionSoilLow), merged[1].ID)
	assert.True(t, merged[2].IsDurable())
	assert.True(t, merged[3].IsDurable())
	assert.Equal(t, "High Temperature", merged[2].Title, "stored alerts newest first")
	assert.False(t, merged[2].CreatedAt.Before(merged[3].CreatedAt))
}

func TestAlertBridge_StoreFailureDegrades(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	src := newFakeSource(24, 60, 20)
	b := newTestBridge(t, src, st, clock)
	ctx := context.Background()

	b.Evaluate(ctx)
	require.Len(t, b.Alerts(), 2)

	st.setFail(errors.New("store unavailable"))
	alerts := b.ListAlerts(ctx, "user-1")
	require.Len(t, alerts, 1)
	assert.Equal(t, models.LiveAlertID(models.ConditionSoilCritical), alerts[0].ID)

	clock.Advance(AlertCooldown)
	assert.False(t, b.PersistIfDue(ctx, alerts[0]), "write failure is swallowed")
	assert.Equal(t, 2, st.createCount())

	clock.Advance(time.Minute)
	st.setFail(nil)
	assert.False(t, b.PersistIfDue(ctx, alerts[0]), "cooldown still applies after a failed write")
}

func TestAlertBridge_NoUserSkipsPersistence(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	b := NewAlertBridge(&config.Config{}, newFakeSource(24, 60, 20), st, zap.NewNop(), WithBridgeClock(clock.Now))

	live := b.Evaluate(context.Background())
	require.Len(t, live, 1)
	assert.Equal(t, 0, st.createCount())
	assert.Len(t, b.Alerts(), 1)
}

func TestAlertBridge_DisconnectedAlert(t *testing.T) {
	clock := newFakeClock()
	src := newFakeSource(24, 60, 60)
	src.setStatus(models.StatusConnecting)
	b := newTestBridge(t, src, newCountingStore(), clock)

	live := b.Evaluate(context.Background())
	require.Len(t, live, 1)
	assert.Equal(t, models.ConditionConnectionLost, live[0].Kind)
	assert.Equal(t, models.CategorySystem, live[0].Category)
}

func TestAlertBridge_ResolveIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	b := newTestBridge(t, newFakeSource(24, 60, 20), st, clock)
	ctx := context.Background()

	b.Evaluate(ctx)
	merged := b.Alerts()
	require.Len(t, merged, 2)
	stored := merged[1]
	require.True(t, stored.IsDurable())

	require.NoError(t, b.Resolve(ctx, stored.ID))
	require.NoError(t, b.Resolve(ctx, stored.ID))
	require.NoError(t, b.Dismiss(ctx, stored.ID))

	merged = b.Alerts()
	require.Len(t, merged, 2)
	assert.True(t, merged[1].IsResolved)
	assert.True(t, merged[1].IsRead)
}

func TestAlertBridge_DismissLiveAlert(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	b := newTestBridge(t, newFakeSource(24, 60, 20), st, clock)
	ctx := context.Background()

	b.Evaluate(ctx)
	liveID := models.LiveAlertID(models.ConditionSoilCritical)

	require.NoError(t, b.Dismiss(ctx, liveID))
	require.NoError(t, b.Resolve(ctx, liveID))

	clock.Advance(time.Second)
	b.Evaluate(ctx)
	for _, a := range b.Alerts() {
		assert.NotEqual(t, liveID, a.ID)
	}

	stored, err := st.ListAlerts(ctx, "user-1", store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].IsResolved, "live dismissal never reaches the store")
}

func TestAlertBridge_DismissInactiveLiveAlert(t *testing.T) {
	clock := newFakeClock()
	src := newFakeSource(24, 60, 60)
	b := newTestBridge(t, src, newCountingStore(), clock)
	ctx := context.Background()

	b.Evaluate(ctx)
	liveID := models.LiveAlertID(models.ConditionSoilCritical)
	assert.ErrorIs(t, b.Dismiss(ctx, liveID), ErrAlertNotFound)

	src.set(24, 60, 20)
	clock.Advance(time.Second)
	b.Evaluate(ctx)

	alerts := b.Alerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, liveID, alerts[0].ID, "a later occurrence stays visible")
}

func TestAlertBridge_ListAlertsIsScopedToUser(t *testing.T) {
	clock := newFakeClock()
	st := newCountingStore()
	b := newTestBridge(t, newFakeSource(24, 60, 60), st, clock)
	ctx := context.Background()

	at := clock.Now()
	_, err := st.CreateAlert(ctx, "user-1", models.AlertRecord{Title: "mine", Severity: models.SeverityLow, Category: models.CategorySystem, CreatedAt: at})
	require.NoError(t, err)
	_, err = st.CreateAlert(ctx, "user-2", models.AlertRecord{Title: "theirs", Severity: models.SeverityLow, Category: models.CategorySystem, CreatedAt: at})
	require.NoError(t, err)

	mine := b.ListAlerts(ctx, "user-1")
	require.Len(t, mine, 1)
	assert.Equal(t, "mine", mine[0].Title)

	theirs := b.ListAlerts(ctx, "user-2")
	require.Len(t, theirs, 1)
	assert.Equal(t, "theirs", theirs[0].Title)

	assert.Empty(t, b.ListAlerts(ctx, "user-3"))
	assert.Empty(t, b.ListAlerts(ctx, ""))

	cached := b.Alerts()
	require.Len(t, cached, 1)
	assert.Equal(t, "mine", cached[0].Title, "other users never reach the cache")
}

func TestAlertBridge_ResolveUnknown(t *testing.T) {
	b := newTestBridge(t, newFakeSource(24, 60, 60), newCountingStore(), newFakeClock())
	ctx := context.Background()

	assert.ErrorIs(t, b.Resolve(ctx, "live-frost"), ErrAlertNotFound)
	assert.ErrorIs(t, b.Resolve(ctx, "stored-missing"), ErrAlertNotFound)
	assert.ErrorIs(t, b.Dismiss(ctx, "42"), ErrAlertNotFound)
}

func TestAlertBridge_Counts(t *testing.T) {
	clock := newFakeClock()
	b := newTestBridge(t, newFakeSource(35, 85, 15), newCountingStore(), clock)
	ctx := context.Background()

	b.Evaluate(ctx)
	// 3 live + 3 stored, all unread; soil critical counted once live and once stored
	assert.Equal(t, 6, b.UnreadCount())
	assert.Equal(t, 2, b.CriticalUnresolvedCount())

	for _, a := range b.Alerts() {
		if a.IsDurable() && a.Severity == models.SeverityCritical {
			require.NoError(t, b.Resolve(ctx, a.ID))
		}
	}
	require.NoError(t, b.Dismiss(ctx, models.LiveAlertID(models.ConditionSoilCritical)))

	summary := b.Summary()
	assert.Len(t, summary.Alerts, 5)
	assert.Equal(t, 4, summary.Unread)
	assert.Equal(t, 0, summary.CriticalUnresolved)
	assert.Equal(t, summary.Unread, b.UnreadCount())
}
