package events

import (
	"context"
	"encoding/json"
	"time"

	"hagerbet/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// kafka.Writer のうち使う部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// 注文・支払いイベントをkafkaに流す。送信失敗は呼び出し側に返さない
type KafkaPublisher struct {
	w   messageWriter
	log zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("count", len(messages)).Msg("event publish failed")
			}
		},
	}
	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, log: log}
}

func (p *KafkaPublisher) Notify(ctx context.Context, ev model.DomainEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event", string(ev.Type)).Msg("event encode failed")
		return
	}

	// 同じ注文のイベントは同じパーティションに入れて順序を保つ
	msg := kafka.Message{
		Key:   []byte(ev.OrderNumber),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}

	if err := p.w.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		p.log.Error().Err(err).Str("event", string(ev.Type)).Str("order_number", ev.OrderNumber).Msg("event publish failed")
	}
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// kafkaが無い環境用
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Notify(_ context.Context, ev model.DomainEvent) {
	e := p.log.Info().
		Str("event", string(ev.Type)).
		Str("order_number", ev.OrderNumber).
		Int64("order_id", ev.OrderID).
		Int64("user_id", ev.UserID)
	if ev.PaymentID != "" {
		e = e.Str("payment_id", ev.PaymentID)
	}
	for k, v := range ev.Attrs {
		e = e.Str(k, v)
	}
	e.Msg("domain event")
}

func (p *LogPublisher) Close() error { return nil }
