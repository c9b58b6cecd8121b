package rabbitmq

import (
	"context"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultExchange = "journeyguard.alerts"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher is an alternative alert sink to Kafka. The topic passed to Publish
// becomes the routing key of a durable topic exchange.
type Publisher struct {
	ch       channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

func newPublisherWithChannel(ch channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = defaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"journey_id": string(key)},
		Body:         value,
	})
	if err != nil {
		return errors.Wrap(err, "rabbitmq publish")
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
