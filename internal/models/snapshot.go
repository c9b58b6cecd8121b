package models

import (
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownPathStatus = errors.New("unknown path status")

// JourneySnapshot: плоское представление Journey для кэша и API.
type JourneySnapshot struct {
	ID            string         `json:"id"`
	Path          []Position     `json:"path"`
	Duration      time.Duration  `json:"duration"`
	Mode          RouteMode      `json:"mode"`
	Status        TravelStatus   `json:"status"`
	Destination   Position       `json:"destination"`
	PauseDuration *time.Duration `json:"pause_duration,omitempty"`
	EndAt         time.Time      `json:"end_at"`
	LastPosition  *Position      `json:"last_position,omitempty"`
	LastStatus    PathStatus     `json:"last_status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (j *Journey) Snapshot() JourneySnapshot {
	s := JourneySnapshot{
		ID:           j.ID,
		LastPosition: j.LastPosition,
		LastStatus:   j.LastStatus,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.Route != nil {
		s.Path = j.Route.Path()
		s.Duration = j.Route.Duration()
		s.Mode = j.Route.Mode()
	}
	if j.Travel != nil {
		s.Status = j.Travel.Status()
		s.Destination = j.Travel.Destination()
		s.PauseDuration = j.Travel.PauseDuration()
		s.EndAt = j.Travel.EndAt()
	}
	return s
}

// Journey rebuilds the aggregate; an empty path yields a ConfigurationError,
// a stored last status outside PathStatus yields ErrUnknownPathStatus.
func (s JourneySnapshot) Journey() (*Journey, error) {
	route, err := NewRoute(s.Path, s.Duration, s.Mode)
	if err != nil {
		return nil, err
	}
	lastStatus := PathStatusSafe
	if s.LastStatus != "" {
		st, ok := ParsePathStatus(string(s.LastStatus))
		if !ok {
			return nil, errors.Wrapf(ErrUnknownPathStatus, "journey %s: %q", s.ID, s.LastStatus)
		}
		lastStatus = st
	}
	return &Journey{
		ID:           s.ID,
		Route:        route,
		Travel:       NewTravel(s.Status, s.Destination, s.PauseDuration, s.EndAt),
		LastPosition: s.LastPosition,
		LastStatus:   lastStatus,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}, nil
}
