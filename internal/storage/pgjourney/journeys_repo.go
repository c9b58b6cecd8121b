package pgjourney

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// EvaluationUpdate is the result of evaluating one position update.
type EvaluationUpdate struct {
	JourneyID    string
	Position     models.Position
	Status       models.PathStatus
	TravelStatus models.TravelStatus
	ReceivedAt   time.Time

	// Event is nil for Safe updates.
	Event *models.TrackerEvent
}

func (s *Storage) CreateJourney(ctx context.Context, j *models.Journey) error {
	if j == nil || j.Route == nil || j.Travel == nil {
		return errors.New("journey is incomplete")
	}

	path, err := json.Marshal(j.Route.Path())
	if err != nil {
		return errors.Wrap(err, "marshal path")
	}

	var pause *int64
	if d := j.Travel.PauseDuration(); d != nil {
		ms := d.Milliseconds()
		pause = &ms
	}
	dest := j.Travel.Destination()

	_, err = s.db.Exec(ctx, `
INSERT INTO journeys (
  id, path, duration_ms, mode, status,
  destination_lat, destination_lon, pause_duration_ms, end_at,
  last_status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, j.ID, string(path), j.Route.Duration().Milliseconds(), string(j.Route.Mode()), string(j.Travel.Status()),
		dest.Latitude, dest.Longitude, pause, j.Travel.EndAt().UTC(),
		string(j.LastStatus), j.CreatedAt.UTC(), j.UpdatedAt.UTC())
	return errors.Wrap(err, "insert journey")
}

func (s *Storage) GetJourney(ctx context.Context, id string) (*models.Journey, error) {
	var (
		snap       models.JourneySnapshot
		path       []byte
		durationMs int64
		mode       string
		status     string
		pauseMs    *int64
		lastLat    *float64
		lastLon    *float64
		lastStatus string
	)
	err := s.db.QueryRow(ctx, `
SELECT
  id, path, duration_ms, mode, status,
  destination_lat, destination_lon, pause_duration_ms, end_at,
  last_lat, last_lon, last_status,
  created_at, updated_at
FROM journeys
WHERE id = $1
`, id).Scan(
		&snap.ID, &path, &durationMs, &mode, &status,
		&snap.Destination.Latitude, &snap.Destination.Longitude, &pauseMs, &snap.EndAt,
		&lastLat, &lastLon, &lastStatus,
		&snap.CreatedAt, &snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "select journey")
	}

	if err := json.Unmarshal(path, &snap.Path); err != nil {
		return nil, errors.Wrap(err, "unmarshal path")
	}
	snap.Duration = time.Duration(durationMs) * time.Millisecond
	snap.Mode = models.RouteMode(mode)
	snap.Status = models.TravelStatus(status)
	snap.LastStatus = models.PathStatus(lastStatus)
	if pauseMs != nil {
		d := time.Duration(*pauseMs) * time.Millisecond
		snap.PauseDuration = &d
	}
	if lastLat != nil && lastLon != nil {
		snap.LastPosition = &models.Position{Latitude: *lastLat, Longitude: *lastLon}
	}

	return snap.Journey()
}

// ApplyEvaluation сохраняет состояние оценщика и, если есть событие,
// кладёт его в outbox в той же транзакции. Возвращает id события (0, если события нет).
func (s *Storage) ApplyEvaluation(ctx context.Context, u EvaluationUpdate) (uint64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE journeys
SET last_lat = $2,
    last_lon = $3,
    last_status = $4,
    status = $5,
    updated_at = $6
WHERE id = $1
`, u.JourneyID, u.Position.Latitude, u.Position.Longitude, string(u.Status), string(u.TravelStatus), now)
	if err != nil {
		return 0, errors.Wrap(err, "update journey")
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	var eventID uint64
	if ev := u.Event; ev != nil {
		travelStatus := u.TravelStatus
		if ev.Travel != nil {
			travelStatus = ev.Travel.Status()
		}
		err := tx.QueryRow(ctx, `
INSERT INTO journey_events (
  journey_id, status, type, lat, lon, travel_status,
  received_at, attempts, next_attempt_at, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$8)
RETURNING id
`, u.JourneyID, string(ev.Status), string(ev.Type), ev.Position.Latitude, ev.Position.Longitude,
			string(travelStatus), ev.ReceivedAt.UTC(), now).Scan(&eventID)
		if err != nil {
			return 0, errors.Wrap(err, "insert event")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return eventID, nil
}
