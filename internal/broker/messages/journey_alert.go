package messages

import (
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
)

// JourneyAlert is what the alert sink receives. EventID is stable across
// redeliveries so consumers can drop duplicates.
type JourneyAlert struct {
	EventID      uint64                  `json:"event_id"`
	JourneyID    string                  `json:"journey_id"`
	Status       models.PathStatus       `json:"status"`
	Type         models.TrackerEventType `json:"type"`
	Latitude     float64                 `json:"latitude"`
	Longitude    float64                 `json:"longitude"`
	TravelStatus models.TravelStatus     `json:"travel_status"`
	ReceivedAt   time.Time               `json:"received_at"`
}

func NewJourneyAlert(e *models.JourneyEvent) JourneyAlert {
	return JourneyAlert{
		EventID:      e.ID,
		JourneyID:    e.JourneyID,
		Status:       e.Status,
		Type:         e.Type,
		Latitude:     e.Position.Latitude,
		Longitude:    e.Position.Longitude,
		TravelStatus: e.TravelStatus,
		ReceivedAt:   e.ReceivedAt,
	}
}
