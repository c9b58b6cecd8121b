package models

import "time"

type PathStatus string

const (
	PathStatusSafe       PathStatus = "Safe"
	PathStatusOutRoute   PathStatus = "OutRoute"
	PathStatusMissedEta  PathStatus = "MissedEta"
	PathStatusStationary PathStatus = "Stationary"
	PathStatusLowBattery PathStatus = "LowBattery"
	PathStatusCompleted  PathStatus = "Completed"
)

func ParsePathStatus(s string) (PathStatus, bool) {
	switch st := PathStatus(s); st {
	case PathStatusSafe, PathStatusOutRoute, PathStatusMissedEta,
		PathStatusStationary, PathStatusLowBattery, PathStatusCompleted:
		return st, true
	}
	return "", false
}

type TrackerEventType string

const (
	TrackerEventOutRoute        TrackerEventType = "outRouteTrackerEvent"
	TrackerEventMissedEta       TrackerEventType = "missedEtaTrackerEvent"
	TrackerEventStationary      TrackerEventType = "stationaryTrackerEvent"
	TrackerEventLowBattery      TrackerEventType = "lowBatteryTrackerEvent"
	TrackerEventCompletedTravel TrackerEventType = "completedTravelTrackerEvent"
)

// EventType maps a non-Safe status to its event type. ok is false for Safe.
func (s PathStatus) EventType() (TrackerEventType, bool) {
	switch s {
	case PathStatusOutRoute:
		return TrackerEventOutRoute, true
	case PathStatusMissedEta:
		return TrackerEventMissedEta, true
	case PathStatusStationary:
		return TrackerEventStationary, true
	case PathStatusLowBattery:
		return TrackerEventLowBattery, true
	case PathStatusCompleted:
		return TrackerEventCompletedTravel, true
	}
	return "", false
}

// TrackerEvent is created per alert and never mutated.
type TrackerEvent struct {
	Travel     *Travel
	Position   Position
	ReceivedAt time.Time
	Status     PathStatus
	Type       TrackerEventType
}

// Journey is the persisted aggregate: route, travel and the evaluator's last state.
type Journey struct {
	ID           string
	Route        *Route
	Travel       *Travel
	LastPosition *Position
	LastStatus   PathStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type JourneyEvent struct {
	ID            uint64
	JourneyID     string
	Status        PathStatus
	Type          TrackerEventType
	Position      Position
	TravelStatus  TravelStatus
	ReceivedAt    time.Time
	PublishedAt   *time.Time
	Attempts      int32
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
}
