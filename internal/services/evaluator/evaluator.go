// Package evaluator decides, for every position update of a journey, whether the
// traveler is on track, late, stationary, low on battery or has arrived.
//
// An Evaluator is a single-writer state machine: updates of one journey must be
// fed sequentially. Evaluators of different journeys share nothing.
package evaluator

import (
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
)

// Battery levels that raise LowBattery. Only exact matches count.
const (
	batteryWarnPercent     = 10
	batteryCriticalPercent = 5
)

type Evaluator struct {
	travel *models.Travel
	now    func() time.Time

	lastPosition *models.Position
	lastStatus   models.PathStatus
}

type Option func(*Evaluator)

// WithClock overrides the time source used for the deadline check and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

func New(travel *models.Travel, opts ...Option) *Evaluator {
	e := &Evaluator{
		travel:     travel,
		now:        time.Now,
		lastStatus: models.PathStatusSafe,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Restore rebuilds an evaluator from persisted state so that Stationary detection
// continues across restarts.
func Restore(travel *models.Travel, lastPosition *models.Position, lastStatus models.PathStatus, opts ...Option) *Evaluator {
	e := New(travel, opts...)
	if lastPosition != nil {
		p := *lastPosition
		e.lastPosition = &p
	}
	if lastStatus != "" {
		e.lastStatus = lastStatus
	}
	return e
}

func (e *Evaluator) LastPosition() (models.Position, bool) {
	if e.lastPosition == nil {
		return models.Position{}, false
	}
	return *e.lastPosition, true
}

func (e *Evaluator) LastStatus() models.PathStatus { return e.lastStatus }

// Evaluate classifies pos and returns an event for every non-Safe result.
//
// A nil route skips the Completed and OutRoute checks, a nil deadline skips
// MissedEta and a nil battery skips LowBattery. A route with an empty path is a
// ConfigurationError and leaves the evaluator state untouched.
//
// Reaching Completed does not stop evaluation: callers stop feeding updates.
func (e *Evaluator) Evaluate(pos models.Position, route *models.Route, deadline *time.Time, battery *int) (models.PathStatus, *models.TrackerEvent, error) {
	if route != nil && route.Len() == 0 {
		return e.lastStatus, nil, &models.ConfigurationError{Err: models.ErrEmptyPath}
	}

	now := e.now()
	status := e.classify(pos, route, deadline, battery, now)

	p := pos
	e.lastPosition = &p
	e.lastStatus = status

	if status == models.PathStatusSafe {
		return status, nil, nil
	}

	e.transition(status)

	typ, _ := status.EventType()
	return status, &models.TrackerEvent{
		Travel:     e.travel,
		Position:   pos,
		ReceivedAt: now,
		Status:     status,
		Type:       typ,
	}, nil
}

// TODO: exact float equality rarely matches real GPS fixes; add a configurable
// tolerance radius for the destination, route membership and stationary checks.
func (e *Evaluator) classify(pos models.Position, route *models.Route, deadline *time.Time, battery *int, now time.Time) models.PathStatus {
	if route != nil {
		if dst, ok := route.Destination(); ok && dst == pos {
			return models.PathStatusCompleted
		}
	}
	if battery != nil && (*battery == batteryWarnPercent || *battery == batteryCriticalPercent) {
		return models.PathStatusLowBattery
	}
	if route != nil && !route.Contains(pos) {
		return models.PathStatusOutRoute
	}
	if deadline != nil && !now.Before(*deadline) {
		return models.PathStatusMissedEta
	}
	if e.lastPosition != nil && *e.lastPosition == pos {
		return models.PathStatusStationary
	}
	return models.PathStatusSafe
}

func (e *Evaluator) transition(status models.PathStatus) {
	if e.travel == nil {
		return
	}
	if status == models.PathStatusCompleted {
		e.travel.SetStatus(models.TravelStatusCompleted)
		return
	}
	e.travel.SetStatus(models.TravelStatusEmergency)
}
