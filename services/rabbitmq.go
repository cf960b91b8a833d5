package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"greentech/config"
	"greentech/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys on the event exchange.
const (
	alertRoutingPrefix  = "alerts."
	analyticsRoutingKey = "analytics.snapshot"
)

var ErrPublisherClosed = errors.New("event publisher not connected")

// amqpPublisher is the part of *amqp.Channel the publisher uses.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// alertEvent is the message body for a stored alert.
type alertEvent struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    models.Severity `json:"severity"`
	Category    models.Category `json:"category"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EventPublisher fans stored alerts and analytics snapshots out to a topic
// exchange so other services can consume them.
type EventPublisher struct {
	url      string
	exchange string
	userID   string
	logger   *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel amqpPublisher
	closing bool
}

func NewEventPublisher(cfg *config.Config, logger *zap.Logger) (*EventPublisher, error) {
	p := &EventPublisher{
		url:      cfg.RabbitMQURL,
		exchange: cfg.RabbitMQExchange,
		userID:   cfg.UserID,
		logger:   logger,
	}

	conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	go p.handleReconnect(conn)

	return p, nil
}

// connect dials with retry, declares the exchange and installs the channel.
func (p *EventPublisher) connect() (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)

	p.logger.Info("Connecting to RabbitMQ", zap.String("exchange", p.exchange))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(p.url)
		if err == nil {
			break
		}

		p.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.logger.Info("Connected to RabbitMQ", zap.String("exchange", p.exchange))
	return conn, nil
}

// handleReconnect redials whenever the connection drops until Close is called.
func (p *EventPublisher) handleReconnect(conn *amqp.Connection) {
	for {
		closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if p.isClosing() {
			p.logger.Info("RabbitMQ connection closed gracefully")
			return
		}

		p.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))
		p.mu.Lock()
		p.conn, p.channel = nil, nil
		p.mu.Unlock()

		for {
			next, err := p.connect()
			if err == nil {
				conn = next
				break
			}
			if p.isClosing() {
				return
			}
			p.logger.Error("Failed to reconnect", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
}

func (p *EventPublisher) isClosing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closing
}

// NotifyAlert implements AlertSink.
func (p *EventPublisher) NotifyAlert(ctx context.Context, alert models.AlertRecord) error {
	event := alertEvent{
		ID:          alert.ID,
		UserID:      p.userID,
		Kind:        string(alert.Kind),
		Title:       alert.Title,
		Description: alert.Description,
		Severity:    alert.Severity,
		Category:    alert.Category,
		CreatedAt:   alert.CreatedAt,
	}
	return p.publish(ctx, alertRoutingPrefix+string(alert.Severity), "alert", event)
}

// NotifyAnalytics implements AnalyticsSink.
func (p *EventPublisher) NotifyAnalytics(ctx context.Context, snapshot models.AnalyticsSnapshot) error {
	return p.publish(ctx, analyticsRoutingKey, "analytics", snapshot)
}

func (p *EventPublisher) publish(ctx context.Context, routingKey, eventType string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()
	if ch == nil {
		return ErrPublisherClosed
	}

	err = ch.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         eventType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	p.logger.Debug("Published event",
		zap.String("routing_key", routingKey),
		zap.Int("bytes", len(body)))
	return nil
}

// Close stops reconnecting and closes the connection.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	p.closing = true
	conn := p.conn
	p.conn, p.channel = nil, nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}

	p.logger.Info("Closing RabbitMQ connection")
	if err := conn.Close(); err != nil {
		p.logger.Error("Error closing connection", zap.Error(err))
		return err
	}
	return nil
}
