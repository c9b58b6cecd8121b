package journeys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
	"github.com/BearBump/JourneyGuard/internal/cache"
	"github.com/BearBump/JourneyGuard/internal/integrations/planner"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/BearBump/JourneyGuard/internal/services/alerts"
	"github.com/BearBump/JourneyGuard/internal/services/evaluator"
	"github.com/BearBump/JourneyGuard/internal/storage/pgjourney"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrJourneyNotFound = errors.New("journey not found")
	ErrJourneyFinished = errors.New("journey is finished")
	ErrInvalidJourney  = errors.New("invalid journey")
)

type Repository interface {
	CreateJourney(ctx context.Context, j *models.Journey) error
	GetJourney(ctx context.Context, id string) (*models.Journey, error)
	ApplyEvaluation(ctx context.Context, u pgjourney.EvaluationUpdate) (uint64, error)
	ListJourneyEvents(ctx context.Context, journeyID string, limit, offset int) ([]*models.JourneyEvent, error)
}

// JourneyCreateInput describes a new journey. Either Path is set, or Origin and
// Destination are set and the route is asked from the planner.
type JourneyCreateInput struct {
	Path        []models.Position
	Origin      *models.Position
	Destination *models.Position
	Mode        models.RouteMode

	// Duration defaults to the planner's estimate.
	Duration time.Duration
	// EndAt defaults to now + Duration.
	EndAt         *time.Time
	PauseDuration *time.Duration
}

type EvaluationResult struct {
	Status       models.PathStatus
	TravelStatus models.TravelStatus
	// Alert is nil for Safe.
	Alert *messages.JourneyAlert
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
	planner    planner.Client
	hub        *alerts.Hub

	locks *keyedMutex
	now   func() time.Time
}

// New собирает сервис. cache и planner могут быть nil.
func New(repo Repository, c cache.BytesCache, currentTTL time.Duration, p planner.Client, hub *alerts.Hub) *Service {
	if hub == nil {
		hub = alerts.NewHub()
	}
	return &Service{
		repo:       repo,
		cache:      c,
		currentTTL: currentTTL,
		planner:    p,
		hub:        hub,
		locks:      newKeyedMutex(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) StartJourney(ctx context.Context, in JourneyCreateInput) (*models.Journey, error) {
	mode := in.Mode
	if mode == "" {
		mode = models.RouteModeWalking
	}
	if !mode.Valid() {
		return nil, errors.Wrapf(ErrInvalidJourney, "unknown mode %q", mode)
	}
	if in.Duration < 0 {
		return nil, errors.Wrap(ErrInvalidJourney, "duration must not be negative")
	}

	path := in.Path
	duration := in.Duration
	if len(path) == 0 && in.Origin != nil && in.Destination != nil {
		if s.planner == nil {
			return nil, errors.Wrap(ErrInvalidJourney, "path is required: route planner is not configured")
		}
		planned, err := s.planner.PlanRoute(ctx, *in.Origin, *in.Destination, mode)
		if err != nil {
			return nil, errors.Wrap(err, "plan route")
		}
		path = planned.Path
		if duration == 0 {
			duration = planned.Duration
		}
	}

	route, err := models.NewRoute(path, duration, mode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	endAt := now.Add(duration)
	if in.EndAt != nil {
		endAt = in.EndAt.UTC()
	}
	if endAt.IsZero() || !endAt.After(now) {
		return nil, errors.Wrap(ErrInvalidJourney, "end_at must be in the future")
	}
	if in.PauseDuration != nil && *in.PauseDuration < 0 {
		return nil, errors.Wrap(ErrInvalidJourney, "pause_duration must not be negative")
	}

	dest, _ := route.Destination()
	j := &models.Journey{
		ID:         uuid.NewString(),
		Route:      route,
		Travel:     models.NewTravel(models.TravelStatusTraveling, dest, in.PauseDuration, endAt),
		LastStatus: models.PathStatusSafe,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateJourney(ctx, j); err != nil {
		return nil, err
	}
	s.storeCurrent(ctx, j)

	slog.Info("journey started", "journey_id", j.ID, "mode", mode, "waypoints", route.Len(), "end_at", endAt)
	return j, nil
}

func (s *Service) GetJourney(ctx context.Context, id string) (*models.Journey, error) {
	if id == "" {
		return nil, errors.Wrap(ErrInvalidJourney, "journey id is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, currentKey(id))
		if err == nil && ok {
			var snap models.JourneySnapshot
			if json.Unmarshal(b, &snap) == nil {
				if j, err := snap.Journey(); err == nil {
					return j, nil
				}
			}
		}
	}

	j, err := s.loadJourney(ctx, id)
	if err != nil {
		return nil, err
	}
	s.storeCurrent(ctx, j)
	return j, nil
}

func (s *Service) ListJourneyEvents(ctx context.Context, journeyID string, limit, offset int) ([]*models.JourneyEvent, error) {
	return s.repo.ListJourneyEvents(ctx, journeyID, limit, offset)
}

// Subscribe отдаёт "последнее непрочитанное" событие поездки; медленный читатель теряет промежуточные.
func (s *Service) Subscribe(journeyID string) (*alerts.Latest, func()) {
	return s.hub.Subscribe(journeyID)
}

// ApplyPositionUpdate evaluates one position update. Updates of one journey are
// applied one at a time; the evaluator is restored from the stored last position
// and status, so restarts and other instances see the same state.
func (s *Service) ApplyPositionUpdate(ctx context.Context, msg messages.PositionUpdated) (EvaluationResult, error) {
	if err := msg.Validate(); err != nil {
		return EvaluationResult{}, err
	}

	unlock := s.locks.Lock(msg.JourneyID)
	defer unlock()

	// Всегда читаем из БД: кэш может отставать от другого инстанса.
	j, err := s.loadJourney(ctx, msg.JourneyID)
	if err != nil {
		return EvaluationResult{}, err
	}
	if st := j.Travel.Status(); st.Finished() {
		slog.Debug("position update skipped", "journey_id", j.ID, "travel_status", st)
		return EvaluationResult{}, errors.Wrapf(ErrJourneyFinished, "journey %s is %s", j.ID, st)
	}

	// Дедлайн сравнивается с часами сервиса: received_at приходит от клиента
	// и остаётся только меткой события.
	at := msg.ReceivedAt.UTC()
	if msg.ReceivedAt.IsZero() {
		at = s.now()
	}
	ev := evaluator.Restore(j.Travel, j.LastPosition, j.LastStatus, evaluator.WithClock(s.now))

	deadline := deadlineOf(j.Travel)
	status, event, err := ev.Evaluate(msg.Position(), j.Route, deadline, msg.BatteryPercent)
	if err != nil {
		return EvaluationResult{}, err
	}
	if event != nil {
		event.ReceivedAt = at
	}

	pos := msg.Position()
	eventID, err := s.repo.ApplyEvaluation(ctx, pgjourney.EvaluationUpdate{
		JourneyID:    j.ID,
		Position:     pos,
		Status:       status,
		TravelStatus: j.Travel.Status(),
		ReceivedAt:   at,
		Event:        event,
	})
	if err != nil {
		return EvaluationResult{}, err
	}

	j.LastPosition = &pos
	j.LastStatus = status
	j.UpdatedAt = s.now()
	s.storeCurrent(ctx, j)

	res := EvaluationResult{Status: status, TravelStatus: j.Travel.Status()}
	if event == nil {
		return res, nil
	}

	alert := messages.NewJourneyAlert(&models.JourneyEvent{
		ID:           eventID,
		JourneyID:    j.ID,
		Status:       event.Status,
		Type:         event.Type,
		Position:     event.Position,
		TravelStatus: j.Travel.Status(),
		ReceivedAt:   event.ReceivedAt,
	})
	res.Alert = &alert
	delivered := s.hub.Publish(alert)

	slog.Info("journey alert",
		"journey_id", j.ID,
		"event_id", eventID,
		"status", status,
		"travel_status", j.Travel.Status(),
		"subscribers", delivered,
	)
	return res, nil
}

func (s *Service) loadJourney(ctx context.Context, id string) (*models.Journey, error) {
	j, err := s.repo.GetJourney(ctx, id)
	if err != nil {
		if errors.Is(err, pgjourney.ErrNotFound) {
			return nil, errors.Wrap(ErrJourneyNotFound, id)
		}
		return nil, err
	}
	return j, nil
}

func (s *Service) storeCurrent(ctx context.Context, j *models.Journey) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(j.Snapshot())
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, currentKey(j.ID), b, s.currentTTL); err != nil {
		slog.Warn("journey cache set failed", "journey_id", j.ID, "error", err.Error())
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// deadlineOf: дедлайн поездки это end_at, пауза его не сдвигает.
func deadlineOf(t *models.Travel) *time.Time {
	if t == nil || t.EndAt().IsZero() {
		return nil
	}
	d := t.EndAt()
	return &d
}

func currentKey(id string) string {
	return fmt.Sprintf("journey:%s:current", id)
}
