package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"greentech/config"
	"greentech/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	ErrEmptyBrokerURL   = errors.New("broker url is empty")
	ErrAlreadyConnected = errors.New("telemetry session already running")
)

const (
	subscribeQoS   = 1
	disconnectWait = 250 // ms
)

// Credentials authenticate against the broker.
type Credentials struct {
	Username string
	Password string
}

// ClientFactory builds the broker client for a session.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

type TelemetryOption func(*TelemetryManager)

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(f ClientFactory) TelemetryOption {
	return func(m *TelemetryManager) { m.newClient = f }
}

func WithClock(now func() time.Time) TelemetryOption {
	return func(m *TelemetryManager) { m.now = now }
}

// TelemetryManager owns the single broker session: it keeps SensorState
// current, queues commands while offline, and reconnects on a fixed interval
// until Disconnect is called.
type TelemetryManager struct {
	clientID       string
	retryInterval  time.Duration
	connectTimeout time.Duration
	newClient      ClientFactory
	now            func() time.Time
	logger         *zap.Logger

	mu        sync.RWMutex
	state     models.SensorState
	conn      models.ConnectionState
	pending   []models.PendingCommand
	outbox    []models.PendingCommand
	wake      chan struct{}
	client    mqtt.Client
	listeners []func(models.SensorState)
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewTelemetryManager(cfg *config.Config, logger *zap.Logger, opts ...TelemetryOption) *TelemetryManager {
	m := &TelemetryManager{
		clientID:       cfg.MQTTClientID,
		retryInterval:  cfg.MQTTRetryInterval,
		connectTimeout: cfg.MQTTConnectTimeout,
		newClient:      mqtt.NewClient,
		now:            time.Now,
		logger:         logger,
		state:          models.NewSensorState(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retryInterval <= 0 {
		m.retryInterval = 5 * time.Second
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = 10 * time.Second
	}
	m.conn = models.ConnectionState{Status: models.StatusDisconnected, Since: m.now()}
	return m
}

// Connect starts a session against url and returns immediately. Progress is
// reported through ConnectionState.
func (m *TelemetryManager) Connect(url string, creds *Credentials) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyBrokerURL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(m.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(m.connectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWriteTimeout(m.connectTimeout)
	opts.SetOrderMatters(false)
	if creds != nil {
		opts.SetUsername(creds.Username)
		opts.SetPassword(creds.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.markLost(ctx, err)
		select {
		case lost <- err:
		default:
		}
	}

	client := m.newClient(opts)
	done := make(chan struct{})
	wake := make(chan struct{}, 1)
	m.client = client
	m.cancel = cancel
	m.done = done
	m.wake = wake

	m.logger.Info("Starting telemetry session",
		zap.String("broker", url),
		zap.String("client_id", m.clientID),
		zap.Duration("retry_interval", m.retryInterval))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.supervise(ctx, client, lost)
	}()
	go func() {
		defer wg.Done()
		m.drain(ctx, client, wake)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	return nil
}

// supervise runs the Connecting -> Connected -> Disconnected cycle with no
// retry limit.
func (m *TelemetryManager) supervise(ctx context.Context, client mqtt.Client, lost <-chan error) {
	for {
		// drop a loss reported by a previous attempt
		select {
		case <-lost:
		default:
		}

		m.setStatus(ctx, models.StatusConnecting, "")

		err := m.dial(ctx, client)
		if err == nil {
			m.logger.Info("Connected to MQTT broker")
			select {
			case <-ctx.Done():
				return
			case err = <-lost:
				if err == nil {
					err = errors.New("connection closed")
				}
			}
		}

		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("MQTT connection unavailable, retrying",
			zap.Error(err),
			zap.Duration("retry_in", m.retryInterval))
		m.setStatus(ctx, models.StatusDisconnected, err.Error())

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retryInterval):
		}
	}
}

// dial connects, subscribes to every topic and flushes the pending queue.
func (m *TelemetryManager) dial(ctx context.Context, client mqtt.Client) error {
	if err := waitToken(ctx, client.Connect(), m.connectTimeout); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	filters := make(map[string]byte, len(models.AllTopics()))
	for _, t := range models.AllTopics() {
		filters[t.String()] = subscribeQoS
	}
	if err := waitToken(ctx, client.SubscribeMultiple(filters, m.onMessage), m.connectTimeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("subscribe: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.setStatusLocked(models.StatusConnected, "")

	queued := len(m.pending)
	m.outbox = append(m.outbox, m.pending...)
	m.pending = nil
	m.signalLocked()
	if queued > 0 {
		m.logger.Info("Flushing queued commands", zap.Int("count", queued))
	}
	return nil
}

// drain publishes accepted commands in FIFO order. Publish runs outside the
// lock so a stalled socket holds up only this goroutine.
func (m *TelemetryManager) drain(ctx context.Context, client mqtt.Client, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}

		for batch := m.takeOutbox(ctx); len(batch) > 0; batch = m.takeOutbox(ctx) {
			for _, cmd := range batch {
				if ctx.Err() != nil {
					return
				}
				m.publish(client, cmd)
			}
		}
	}
}

// takeOutbox hands the drain its next batch. Commands accepted before a loss
// go back to the front of the offline queue.
func (m *TelemetryManager) takeOutbox(ctx context.Context) []models.PendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	batch := m.outbox
	m.outbox = nil
	if len(batch) > 0 && !m.conn.IsConnected() {
		m.pending = append(batch, m.pending...)
		return nil
	}
	return batch
}

func (m *TelemetryManager) signalLocked() {
	if m.wake == nil {
		return
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// Send hands cmd to the publisher when connected and queues it otherwise. It
// never blocks on the network.
func (m *TelemetryManager) Send(topic, payload string) error {
	t, ok := models.ParseTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownTopic, topic)
	}
	if err := models.ValidatePayload(t, payload); err != nil {
		return err
	}

	cmd := models.PendingCommand{Topic: topic, Payload: payload}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn.IsConnected() && m.client != nil && m.client.IsConnected() {
		m.outbox = append(m.outbox, cmd)
		m.signalLocked()
		return nil
	}

	m.pending = append(m.pending, cmd)
	m.logger.Debug("Queued command while offline",
		zap.String("topic", topic),
		zap.String("payload", payload),
		zap.Int("queued", len(m.pending)))
	return nil
}

func (m *TelemetryManager) SetMode(mode models.Mode) error {
	return m.Send(models.TopicMode.String(), string(mode))
}

func (m *TelemetryManager) SetIrrigation(on bool) error {
	payload := models.IrrigationOff
	if on {
		payload = models.IrrigationOn
	}
	return m.Send(models.TopicIrrigation.String(), payload)
}

func (m *TelemetryManager) SetVentilation(open bool) error {
	payload := models.VentilationClose
	if open {
		payload = models.VentilationOpen
	}
	return m.Send(models.TopicVentilation.String(), payload)
}

// publish hands cmd to the client; the outcome is logged asynchronously.
func (m *TelemetryManager) publish(client mqtt.Client, cmd models.PendingCommand) {
	token := client.Publish(cmd.Topic, subscribeQoS, false, cmd.Payload)
	go func() {
		if !token.WaitTimeout(m.connectTimeout) {
			m.logger.Warn("Publish not acknowledged", zap.String("topic", cmd.Topic))
			return
		}
		if err := token.Error(); err != nil {
			m.logger.Error("Failed to publish command",
				zap.String("topic", cmd.Topic),
				zap.String("payload", cmd.Payload),
				zap.Error(err))
			return
		}
		m.logger.Debug("Published command",
			zap.String("topic", cmd.Topic),
			zap.String("payload", cmd.Payload))
	}()
}

// Disconnect stops the session and drops queued commands. Safe to call repeatedly.
func (m *TelemetryManager) Disconnect() {
	m.mu.Lock()
	cancel, done, client := m.cancel, m.done, m.client
	if cancel != nil {
		cancel()
	}
	m.cancel, m.done, m.client, m.wake = nil, nil, nil, nil
	m.pending, m.outbox = nil, nil
	m.setStatusLocked(models.StatusDisconnected, "")
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	<-done
	if client.IsConnectionOpen() {
		client.Disconnect(disconnectWait)
	}
	m.logger.Info("Telemetry session stopped")
}

func (m *TelemetryManager) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m.handleMessage(msg.Topic(), msg.Payload())
}

// handleMessage applies one inbound payload. Unparsable payloads leave the
// previous value in place and touch no other field.
func (m *TelemetryManager) handleMessage(topic string, payload []byte) {
	t, ok := models.ParseTopic(topic)
	if !ok {
		m.logger.Debug("Ignoring message on unknown topic", zap.String("topic", topic))
		return
	}

	m.mu.Lock()
	err := m.state.Apply(t, string(payload), m.now())
	snapshot := m.state
	listeners := m.listeners
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("Ignoring unparsable payload",
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
			zap.Error(err))
		return
	}

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Subscribe registers fn to receive a snapshot after every applied message.
// fn runs on the delivery goroutine and must not block.
func (m *TelemetryManager) Subscribe(fn func(models.SensorState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners[:len(m.listeners):len(m.listeners)], fn)
}

// Snapshot returns a copy of the current sensor state.
func (m *TelemetryManager) Snapshot() models.SensorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *TelemetryManager) ConnectionState() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *TelemetryManager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *TelemetryManager) markLost(ctx context.Context, err error) {
	msg := "connection lost"
	if err != nil {
		msg = err.Error()
	}
	m.logger.Error("MQTT connection lost", zap.Error(err))
	m.setStatus(ctx, models.StatusDisconnected, msg)
}

// setStatus ignores transitions from a cancelled session.
func (m *TelemetryManager) setStatus(ctx context.Context, status models.ConnectionStatus, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	m.setStatusLocked(status, lastError)
}

func (m *TelemetryManager) setStatusLocked(status models.ConnectionStatus, lastError string) {
	if lastError == "" && status != models.StatusDisconnected {
		lastError = m.conn.LastError
	}
	if status == models.StatusConnected {
		lastError = ""
	}
	if m.conn.Status != status {
		m.conn.Since = m.now()
	}
	m.conn.Status = status
	m.conn.LastError = lastError
}
