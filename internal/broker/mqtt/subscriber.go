package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
)

const (
	DefaultTopic          = "journeys/+/position"
	DefaultHandlerTimeout = 10 * time.Second
)

// Handler receives validated updates in arrival order.
type Handler func(ctx context.Context, msg messages.PositionUpdated) error

type devicePayload struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	BatteryPercent *int    `json:"battery_percent,omitempty"`
	Timestamp      int64   `json:"timestamp,omitempty"`
}

// Subscriber takes device positions from journeys/{journeyID}/position.
type Subscriber struct {
	client  paho.Client
	topic   string
	handler Handler
	timeout time.Duration
}

func NewClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetAutoReconnect(true)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt connect")
	}
	return client, nil
}

func NewSubscriber(client paho.Client, topic string, handler Handler) *Subscriber {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Subscriber{client: client, topic: topic, handler: handler, timeout: DefaultHandlerTimeout}
}

func (s *Subscriber) Start() error {
	token := s.client.Subscribe(s.topic, 1, s.handleMessage)
	token.Wait()
	return errors.Wrap(token.Error(), "mqtt subscribe")
}

func (s *Subscriber) Stop() {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		slog.Warn("mqtt unsubscribe", "topic", s.topic, "error", token.Error().Error())
	}
}

func (s *Subscriber) handleMessage(_ paho.Client, msg paho.Message) {
	upd, err := decode(msg.Topic(), msg.Payload())
	if err != nil {
		slog.Warn("invalid position message", "topic", msg.Topic(), "error", err.Error())
		return
	}
	// paho вызывает обработчик последовательно: зависший вызов держит всю подписку.
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.handler(ctx, upd); err != nil {
		slog.Error("position update dropped", "journey_id", upd.JourneyID, "error", err.Error())
	}
}

func decode(topic string, payload []byte) (messages.PositionUpdated, error) {
	journeyID := journeyIDFromTopic(topic)
	if journeyID == "" {
		return messages.PositionUpdated{}, errors.Errorf("no journey id in topic %q", topic)
	}
	var raw devicePayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return messages.PositionUpdated{}, errors.Wrap(err, "unmarshal payload")
	}
	upd := messages.PositionUpdated{
		JourneyID:      journeyID,
		Latitude:       raw.Latitude,
		Longitude:      raw.Longitude,
		BatteryPercent: raw.BatteryPercent,
	}
	if raw.Timestamp > 0 {
		upd.ReceivedAt = time.Unix(raw.Timestamp, 0).UTC()
	}
	if err := upd.Validate(); err != nil {
		return messages.PositionUpdated{}, err
	}
	return upd, nil
}

// journeys/{id}/position
func journeyIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "journeys" || parts[2] != "position" {
		return ""
	}
	return parts[1]
}
