package messages

import (
	"math"
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/pkg/errors"
)

var ErrMalformedPosition = errors.New("malformed position")

// PositionUpdated приходит от источника позиций (Kafka, MQTT, HTTP).
type PositionUpdated struct {
	JourneyID string  `json:"journey_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// BatteryPercent is optional: absent means the battery check is skipped.
	BatteryPercent *int `json:"battery_percent,omitempty"`

	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate rejects updates that must never reach the evaluator. Every error wraps ErrMalformedPosition.
func (m PositionUpdated) Validate() error {
	if m.JourneyID == "" {
		return errors.Wrap(ErrMalformedPosition, "journey_id is required")
	}
	if !finite(m.Latitude) || !finite(m.Longitude) {
		return errors.Wrapf(ErrMalformedPosition, "lat=%v lon=%v", m.Latitude, m.Longitude)
	}
	if m.Latitude < -90 || m.Latitude > 90 {
		return errors.Wrap(ErrMalformedPosition, "latitude must be between -90 and 90")
	}
	if m.Longitude < -180 || m.Longitude > 180 {
		return errors.Wrap(ErrMalformedPosition, "longitude must be between -180 and 180")
	}
	if m.BatteryPercent != nil && (*m.BatteryPercent < 0 || *m.BatteryPercent > 100) {
		return errors.Wrap(ErrMalformedPosition, "battery_percent must be between 0 and 100")
	}
	return nil
}

func (m PositionUpdated) Position() models.Position {
	return models.Position{Latitude: m.Latitude, Longitude: m.Longitude}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
