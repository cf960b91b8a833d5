package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greentech/config"
	"greentech/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeClient records broker traffic. connectErrs is consumed one per Connect call.
type fakeClient struct {
	mu          sync.Mutex
	opts        *mqtt.ClientOptions
	connected   bool
	connectErrs []error
	publishWait time.Duration
	connects    int
	disconnects int
	published   []models.PendingCommand
	subscribed  map[string]byte
	handler     mqtt.MessageHandler
}

func (f *fakeClient) factory(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	return f
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	var err error
	if len(f.connectErrs) > 0 {
		err, f.connectErrs = f.connectErrs[0], f.connectErrs[1:]
	}
	f.connected = err == nil
	return doneToken(err)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	time.Sleep(f.publishWait)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, models.PendingCommand{Topic: topic, Payload: payload.(string)})
	return doneToken(nil)
}

func (f *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return f.SubscribeMultiple(map[string]byte{topic: qos}, cb)
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = filters
	f.handler = cb
	return doneToken(nil)
}

func (f *fakeClient) Unsubscribe(...string) mqtt.Token        { return doneToken(nil) }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// drop simulates a network loss reported by the client.
func (f *fakeClient) drop(err error) {
	f.mu.Lock()
	f.connected = false
	lost := f.opts.OnConnectionLost
	f.mu.Unlock()
	lost(f, err)
}

func (f *fakeClient) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(f, fakeMessage{topic: topic, payload: []byte(payload)})
}

func (f *fakeClient) publishedCommands() []models.PendingCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PendingCommand(nil), f.published...)
}

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func waitPublished(t *testing.T, fake *fakeClient, want []models.PendingCommand) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(fake.publishedCommands()) >= len(want)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, fake.publishedCommands())
}

func newTestTelemetry(t *testing.T, fake *fakeClient) *TelemetryManager {
	t.Helper()
	cfg := &config.Config{
		MQTTClientID:       "greentech-test",
		MQTTRetryInterval:  10 * time.Millisecond,
		MQTTConnectTimeout: time.Second,
	}
	m := NewTelemetryManager(cfg, zap.NewNop(), WithClientFactory(fake.factory))
	t.Cleanup(m.Disconnect)
	return m
}

func waitConnected(t *testing.T, m *TelemetryManager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.ConnectionState().IsConnected()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTelemetry_ConnectRejectsEmptyURL(t *testing.T) {
	m := newTestTelemetry(t, &fakeClient{})

	assert.ErrorIs(t, m.Connect("", nil), ErrEmptyBrokerURL)
	assert.ErrorIs(t, m.Connect("   ", nil), ErrEmptyBrokerURL)
	assert.Equal(t, models.StatusDisconnected, m.ConnectionState().Status)
}

func TestTelemetry_ConnectSubscribesToAllTopics(t *testing.T) {
	fake := &fakeClient{}
	m := newTestTelemetry(t, fake)

	require.NoError(t, m.Connect("tcp://broker:1883", &Credentials{Username: "u", Password: "p"}))
	waitConnected(t, m)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.subscribed, 6)
	for _, topic := range models.AllTopics() {
		assert.Equal(t, byte(1), fake.subscribed[topic.String()], topic.String())
	}
	assert.Equal(t, "u", fake.opts.Username)
	assert.False(t, fake.opts.AutoReconnect)
}

func TestTelemetry_SecondConnectFails(t *testing.T) {
	fake := &fakeClient{}
	m := newTestTelemetry(t, fake)

	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	assert.ErrorIs(t, m.Connect("tcp://broker:1883", nil), ErrAlreadyConnected)

	m.Disconnect()
	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)
}

func TestTelemetry_QueuedCommandsFlushInOrder(t *testing.T) {
	fake := &fakeClient{connectErrs: []error{errors.New("connection refused")}}
	m := newTestTelemetry(t, fake)

	a := models.PendingCommand{Topic: "greenhouse/irrigation", Payload: "ON"}
	b := models.PendingCommand{Topic: "greenhouse/ventilation", Payload: "OPEN"}
	c := models.PendingCommand{Topic: "greenhouse/mode", Payload: "MANUAL"}
	for _, cmd := range []models.PendingCommand{a, b, c} {
		require.NoError(t, m.Send(cmd.Topic, cmd.Payload))
	}
	assert.Equal(t, 3, m.PendingCount())
	assert.Empty(t, fake.publishedCommands())

	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)

	waitPublished(t, fake, []models.PendingCommand{a, b, c})
	assert.Equal(t, 0, m.PendingCount())
	assert.Equal(t, 2, fake.connectCount(), "first attempt fails, second succeeds")
	assert.Empty(t, m.ConnectionState().LastError)
}

func TestTelemetry_DuplicateCommandsAreNotCoalesced(t *testing.T) {
	fake := &fakeClient{}
	m := newTestTelemetry(t, fake)

	require.NoError(t, m.Send("greenhouse/irrigation", "ON"))
	require.NoError(t, m.Send("greenhouse/irrigation", "ON"))

	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)

	waitPublished(t, fake, []models.PendingCommand{
		{Topic: "greenhouse/irrigation", Payload: "ON"},
		{Topic: "greenhouse/irrigation", Payload: "ON"},
	})
}

func TestTelemetry_SendWhileConnectedPublishesImmediately(t *testing.T) {
	fake := &fakeClient{}
	m := newTestTelemetry(t, fake)
	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)

	require.NoError(t, m.SetVentilation(true))
	require.NoError(t, m.SetIrrigation(false))
	require.NoError(t, m.SetMode(models.ModeAuto))

	waitPublished(t, fake, []models.PendingCommand{
		{Topic: "greenhouse/ventilation", Payload: "OPEN"},
		{Topic: "greenhouse/irrigation", Payload: "OFF"},
		{Topic: "greenhouse/mode", Payload: "AUTO"},
	})
	assert.Equal(t, 0, m.PendingCount())
}

func TestTelemetry_SlowPublishDoesNotBlockCallers(t *testing.T) {
	fake := &fakeClient{publishWait: 300 * time.Millisecond}
	m := newTestTelemetry(t, fake)
	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)

	require.NoError(t, m.SetIrrigation(true))

	start := time.Now()
	require.NoError(t, m.SetVentilation(true))
	m.handleMessage("greenhouse/temperature", []byte("24"))
	assert.Equal(t, 24.0, m.Snapshot().Temperature)
	assert.True(t, m.ConnectionState().IsConnected())
	assert.Equal(t, 0, m.PendingCount())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	waitPublished(t, fake, []models.PendingCommand{
		{Topic: "greenhouse/irrigation", Payload: "ON"},
		{Topic: "greenhouse/ventilation", Payload: "OPEN"},
	})
}

func TestTelemetry_SendValidates(t *testing.T) {
	m := newTestTelemetry(t, &fakeClient{})

	assert.ErrorIs(t, m.Send("greenhouse/light", "ON"), models.ErrUnknownTopic)
	assert.ErrorIs(t, m.Send("greenhouse/irrigation", "on"), models.ErrInvalidPayload)
	assert.Equal(t, 0, m.PendingCount())
}

func TestTelemetry_ReconnectsAfterLoss(t *testing.T) {
	fake := &fakeClient{}
	m := newTestTelemetry(t, fake)
	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)

	fake.mu.Lock()
	fake.connectErrs = []error{errors.New("network unreachable")}
	fake.mu.Unlock()

	fake.drop(errors.New("EOF"))
	assert.False(t, m.ConnectionState().IsConnected())

	require.NoError(t, m.Send("greenhouse/irrigation", "ON"))

	require.Eventually(t, func() bool {
		return fake.connectCount() == 3 && m.ConnectionState().IsConnected()
	}, 2*time.Second, 5*time.Millisecond)

	waitPublished(t, fake, []models.PendingCommand{{Topic: "greenhouse/irrigation", Payload: "ON"}})
}

func TestTelemetry_DisconnectIsIdempotent(t *testing.T) {
	fake := &fakeClient{connectErrs: []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}}
	m := newTestTelemetry(t, fake)

	require.NoError(t, m.Send("greenhouse/irrigation", "ON"))
	require.NoError(t, m.Connect("tcp://broker:1883", nil))

	m.Disconnect()
	m.Disconnect()

	state := m.ConnectionState()
	assert.Equal(t, models.StatusDisconnected, state.Status)
	assert.Empty(t, state.LastError)
	assert.Equal(t, 0, m.PendingCount(), "disconnect clears queued commands")

	attempts := fake.connectCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, attempts, fake.connectCount(), "no retries after disconnect")
}

func TestTelemetry_MessagesUpdateState(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	fake := &fakeClient{}
	cfg := &config.Config{MQTTRetryInterval: 10 * time.Millisecond, MQTTConnectTimeout: time.Second}
	m := NewTelemetryManager(cfg, zap.NewNop(), WithClientFactory(fake.factory), WithClock(func() time.Time { return at }))
	t.Cleanup(m.Disconnect)

	var mu sync.Mutex
	var seen []models.SensorState
	m.Subscribe(func(s models.SensorState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, m.Connect("tcp://broker:1883", nil))
	waitConnected(t, m)

	fake.deliver("greenhouse/temperature", "26.5")
	fake.deliver("greenhouse/humidity", "71")
	fake.deliver("greenhouse/soilMoisturePercent", "33")
	fake.deliver("greenhouse/irrigation", "ON")

	// none of these may disturb the fields above
	fake.deliver("greenhouse/temperature", "hot")
	fake.deliver("greenhouse/humidity", "")
	fake.deliver("greenhouse/mode", "auto")
	fake.deliver("greenhouse/unknown", "1")

	s := m.Snapshot()
	assert.Equal(t, 26.5, s.Temperature)
	assert.Equal(t, 71.0, s.Humidity)
	assert.Equal(t, 33, s.SoilMoisture)
	assert.True(t, s.Irrigation)
	assert.False(t, s.Ventilation)
	assert.Equal(t, models.ModeAuto, s.Mode)
	assert.True(t, s.HasReading())
	assert.Equal(t, at, s.UpdatedAt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4, "listeners only see applied messages")
	assert.Equal(t, 26.5, seen[3].Temperature)
}

func TestTelemetry_SnapshotIsACopy(t *testing.T) {
	m := newTestTelemetry(t, &fakeClient{})
	m.handleMessage("greenhouse/temperature", []byte("20"))

	snap := m.Snapshot()
	snap.Temperature = 99

	assert.Equal(t, 20.0, m.Snapshot().Temperature)
}
