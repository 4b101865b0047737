package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hagerbet/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// Test: 注文番号をキーにしてJSONで送る
func TestKafkaPublisher_Notify(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, zerolog.Nop())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Notify(context.Background(), model.DomainEvent{
		Type:        model.EventPaymentCompleted,
		OrderID:     10,
		OrderNumber: "ORD-20260102-ABCDEF12",
		UserID:      3,
		PaymentID:   "pay-1",
		OccurredAt:  at,
	})

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "ORD-20260102-ABCDEF12", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "payment.completed", string(msg.Headers[0].Value))

	var got model.DomainEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, model.EventPaymentCompleted, got.Type)
	assert.Equal(t, int64(10), got.OrderID)
	assert.Equal(t, "pay-1", got.PaymentID)
	assert.True(t, at.Equal(got.OccurredAt))
}

// Test: 送信失敗はpanicせずログに残すだけ
func TestKafkaPublisher_NotifyErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, zerolog.New(&buf))

	assert.NotPanics(t, func() {
		p.Notify(context.Background(), model.DomainEvent{Type: model.EventOrderCreated, OrderNumber: "ORD-1"})
	})
	assert.Contains(t, buf.String(), "broker down")
	assert.Contains(t, buf.String(), "event publish failed")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

// Test: LogPublisherはイベント名と属性を書く
func TestLogPublisher_Notify(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	p.Notify(context.Background(), model.DomainEvent{
		Type:        model.EventOrderStatusChanged,
		OrderNumber: "ORD-2",
		Attrs:       map[string]string{"old_status": "pending", "new_status": "shipped"},
	})

	out := buf.String()
	assert.Contains(t, out, `"event":"order.status_changed"`)
	assert.Contains(t, out, `"new_status":"shipped"`)
}
