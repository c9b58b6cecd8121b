package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var jsonHeaders = []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}

// Producer публикует алерты по одному; ключ (journey id) выбирает партицию,
// так что алерты одной поездки не переупорядочиваются.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// relay пишет синхронно по одному событию, ждать добора батча незачем
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: jsonHeaders,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "kafka publish to %q", topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}
