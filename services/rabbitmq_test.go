package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"greentech/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publishedEvent struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	events []publishedEvent
	err    error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, publishedEvent{exchange: exchange, key: key, msg: msg})
	return nil
}

func newTestPublisher(ch amqpPublisher) *EventPublisher {
	return &EventPublisher{
		exchange: "greentech.events",
		userID:   "user-1",
		logger:   zap.NewNop(),
		channel:  ch,
	}
}

func TestEventPublisher_Alert(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch)

	err := p.NotifyAlert(context.Background(), models.AlertRecord{
		ID:        "stored-9",
		Kind:      models.ConditionTemperatureHigh,
		Title:     "High Temperature",
		Severity:  models.SeverityHigh,
		Category:  models.CategoryClimate,
		CreatedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, ch.events, 1)

	ev := ch.events[0]
	assert.Equal(t, "greentech.events", ev.exchange)
	assert.Equal(t, "alerts.high", ev.key)
	assert.Equal(t, "application/json", ev.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ev.msg.DeliveryMode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ev.msg.Body, &body))
	assert.Equal(t, "stored-9", body["id"])
	assert.Equal(t, "user-1", body["user_id"])
	assert.Equal(t, "temperature-high", body["kind"])
}

func TestEventPublisher_Analytics(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch)

	require.NoError(t, p.NotifyAnalytics(context.Background(), models.AnalyticsSnapshot{UserID: "user-1", PlantHealthScore: 81}))
	require.Len(t, ch.events, 1)
	assert.Equal(t, "analytics.snapshot", ch.events[0].key)
	assert.Contains(t, string(ch.events[0].msg.Body), `"plant_health_score":81`)
}

func TestEventPublisher_Errors(t *testing.T) {
	p := newTestPublisher(&fakeChannel{err: errors.New("channel closed")})
	assert.ErrorContains(t, p.NotifyAlert(context.Background(), models.AlertRecord{}), "channel closed")

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.NotifyAlert(context.Background(), models.AlertRecord{}), ErrPublisherClosed)
}
