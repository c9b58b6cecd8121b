package journeys_api

import (
	"time"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
	"github.com/BearBump/JourneyGuard/internal/models"
)

type positionDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type createJourneyRequest struct {
	Path                 []positionDTO `json:"path,omitempty"`
	Origin               *positionDTO  `json:"origin,omitempty"`
	Destination          *positionDTO  `json:"destination,omitempty"`
	Mode                 string        `json:"mode,omitempty"`
	DurationSeconds      int64         `json:"duration_seconds,omitempty"`
	EndAt                *time.Time    `json:"end_at,omitempty"`
	PauseDurationSeconds *int64        `json:"pause_duration_seconds,omitempty"`
}

type positionRequest struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	BatteryPercent *int       `json:"battery_percent,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
}

type journeyResponse struct {
	ID                   string        `json:"id"`
	Path                 []positionDTO `json:"path"`
	DurationSeconds      int64         `json:"duration_seconds"`
	Mode                 string        `json:"mode"`
	Status               string        `json:"status"`
	Destination          positionDTO   `json:"destination"`
	PauseDurationSeconds *int64        `json:"pause_duration_seconds,omitempty"`
	EndAt                time.Time     `json:"end_at"`
	LastPosition         *positionDTO  `json:"last_position,omitempty"`
	LastStatus           string        `json:"last_status"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

type eventResponse struct {
	ID           uint64      `json:"id"`
	JourneyID    string      `json:"journey_id"`
	Status       string      `json:"status"`
	Type         string      `json:"type"`
	Position     positionDTO `json:"position"`
	TravelStatus string      `json:"travel_status"`
	ReceivedAt   time.Time   `json:"received_at"`
	PublishedAt  *time.Time  `json:"published_at,omitempty"`
	Attempts     int32       `json:"attempts"`
	CreatedAt    time.Time   `json:"created_at"`
}

type evaluationResponse struct {
	Status       string                 `json:"status"`
	TravelStatus string                 `json:"travel_status"`
	Event        *messages.JourneyAlert `json:"event,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func fromDTO(p positionDTO) models.Position {
	return models.Position{Latitude: p.Latitude, Longitude: p.Longitude}
}

func toDTO(p models.Position) positionDTO {
	return positionDTO{Latitude: p.Latitude, Longitude: p.Longitude}
}

func toJourneyResponse(j *models.Journey) journeyResponse {
	s := j.Snapshot()
	out := journeyResponse{
		ID:              s.ID,
		Path:            make([]positionDTO, 0, len(s.Path)),
		DurationSeconds: int64(s.Duration / time.Second),
		Mode:            string(s.Mode),
		Status:          string(s.Status),
		Destination:     toDTO(s.Destination),
		EndAt:           s.EndAt,
		LastStatus:      string(s.LastStatus),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	for _, p := range s.Path {
		out.Path = append(out.Path, toDTO(p))
	}
	if s.PauseDuration != nil {
		sec := int64(*s.PauseDuration / time.Second)
		out.PauseDurationSeconds = &sec
	}
	if s.LastPosition != nil {
		p := toDTO(*s.LastPosition)
		out.LastPosition = &p
	}
	return out
}

func toEventResponse(e *models.JourneyEvent) eventResponse {
	return eventResponse{
		ID:           e.ID,
		JourneyID:    e.JourneyID,
		Status:       string(e.Status),
		Type:         string(e.Type),
		Position:     toDTO(e.Position),
		TravelStatus: string(e.TravelStatus),
		ReceivedAt:   e.ReceivedAt,
		PublishedAt:  e.PublishedAt,
		Attempts:     e.Attempts,
		CreatedAt:    e.CreatedAt,
	}
}
