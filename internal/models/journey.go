package models

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type RouteMode string

const (
	RouteModeWalking RouteMode = "walking"
	RouteModeCycling RouteMode = "cycling"
	RouteModeDriving RouteMode = "driving"
	RouteModeTransit RouteMode = "transit"
)

func (m RouteMode) Valid() bool {
	switch m {
	case RouteModeWalking, RouteModeCycling, RouteModeDriving, RouteModeTransit:
		return true
	}
	return false
}

type TravelStatus string

const (
	TravelStatusTraveling TravelStatus = "traveling"
	TravelStatusPaused    TravelStatus = "paused"
	TravelStatusCanceled  TravelStatus = "canceled"
	TravelStatusEmergency TravelStatus = "emergency"
	TravelStatusCompleted TravelStatus = "completed"
)

// Finished reports whether no more position updates should be evaluated.
func (s TravelStatus) Finished() bool {
	return s == TravelStatusCompleted || s == TravelStatusCanceled
}

// Position is compared with ==, no distance tolerance.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Position) String() string {
	return fmt.Sprintf("%g,%g", p.Latitude, p.Longitude)
}

var ErrEmptyPath = errors.New("route path is empty")

// ConfigurationError сообщает о невалидной конфигурации маршрута на этапе настройки.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Route is read-only after construction; the last path element is the destination.
type Route struct {
	path     []Position
	duration time.Duration
	mode     RouteMode
}

func NewRoute(path []Position, duration time.Duration, mode RouteMode) (*Route, error) {
	if len(path) == 0 {
		return nil, &ConfigurationError{Err: ErrEmptyPath}
	}
	cp := make([]Position, len(path))
	copy(cp, path)
	return &Route{path: cp, duration: duration, mode: mode}, nil
}

// Path returns a copy of the waypoints.
func (r *Route) Path() []Position {
	out := make([]Position, len(r.path))
	copy(out, r.path)
	return out
}

func (r *Route) Duration() time.Duration { return r.duration }
func (r *Route) Mode() RouteMode         { return r.mode }
func (r *Route) Len() int                { return len(r.path) }

// Destination returns the last waypoint. ok is false for an empty path.
func (r *Route) Destination() (Position, bool) {
	if len(r.path) == 0 {
		return Position{}, false
	}
	return r.path[len(r.path)-1], true
}

func (r *Route) Contains(p Position) bool {
	for _, wp := range r.path {
		if wp == p {
			return true
		}
	}
	return false
}

// Travel is owned by the caller. Status is changed only by the evaluator.
type Travel struct {
	status        TravelStatus
	destination   Position
	pauseDuration *time.Duration
	endAt         time.Time
}

func NewTravel(status TravelStatus, destination Position, pauseDuration *time.Duration, endAt time.Time) *Travel {
	return &Travel{
		status:        status,
		destination:   destination,
		pauseDuration: pauseDuration,
		endAt:         endAt,
	}
}

func (t *Travel) Status() TravelStatus          { return t.status }
func (t *Travel) Destination() Position         { return t.destination }
func (t *Travel) PauseDuration() *time.Duration { return t.pauseDuration }
func (t *Travel) EndAt() time.Time              { return t.endAt }

// SetStatus is reserved for the evaluator's transition logic.
func (t *Travel) SetStatus(s TravelStatus) { t.status = s }
