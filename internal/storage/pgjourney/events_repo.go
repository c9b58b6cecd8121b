package pgjourney

import (
	"context"
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `
  e.id, e.journey_id, e.status, e.type, e.lat, e.lon, e.travel_status,
  e.received_at, e.published_at, e.attempts, e.next_attempt_at, e.last_error, e.created_at`

func (s *Storage) ListJourneyEvents(ctx context.Context, journeyID string, limit, offset int) ([]*models.JourneyEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+eventColumns+`
FROM journey_events e
WHERE e.journey_id = $1
ORDER BY e.id DESC
LIMIT $2 OFFSET $3
`, journeyID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := make([]*models.JourneyEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimPendingEvents выбирает неопубликованные события и "бронирует" их на lease.
// Сначала блокируются сами поездки (FOR UPDATE SKIP LOCKED), поэтому события одной
// поездки одновременно забирает только один relay. Событие не выдаётся, пока
// более раннее событие той же поездки ждёт повтора или уже забронировано.
func (s *Storage) ClaimPendingEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.JourneyEvent, error) {
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	journeyRows, err := tx.Query(ctx, `
SELECT j.id
FROM journeys j
WHERE EXISTS (
  SELECT 1 FROM journey_events e
  WHERE e.journey_id = j.id
    AND e.published_at IS NULL
    AND e.next_attempt_at <= $1
)
ORDER BY j.updated_at ASC
LIMIT $2
FOR UPDATE OF j SKIP LOCKED
`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending journeys")
	}
	var journeyIDs []string
	for journeyRows.Next() {
		var id string
		if err := journeyRows.Scan(&id); err != nil {
			journeyRows.Close()
			return nil, errors.Wrap(err, "scan pending journey")
		}
		journeyIDs = append(journeyIDs, id)
	}
	journeyRows.Close()
	if journeyRows.Err() != nil {
		return nil, errors.Wrap(journeyRows.Err(), "rows")
	}
	if len(journeyIDs) == 0 {
		return []*models.JourneyEvent{}, nil
	}

	rows, err := tx.Query(ctx, `
SELECT`+eventColumns+`
FROM journey_events e
WHERE e.journey_id = ANY($1)
  AND e.published_at IS NULL
  AND e.next_attempt_at <= $2
  AND NOT EXISTS (
    SELECT 1 FROM journey_events p
    WHERE p.journey_id = e.journey_id
      AND p.published_at IS NULL
      AND p.id < e.id
      AND p.next_attempt_at > $2
  )
ORDER BY e.id ASC
LIMIT $3
`, journeyIDs, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending events")
	}
	var picked []*models.JourneyEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		picked = append(picked, e)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	if len(picked) == 0 {
		return []*models.JourneyEvent{}, nil
	}

	ids := make([]uint64, 0, len(picked))
	for _, e := range picked {
		ids = append(ids, e.ID)
	}
	leaseUntil := now.Add(lease)
	if _, err := tx.Exec(ctx, `UPDATE journey_events SET next_attempt_at = $2 WHERE id = ANY($1)`, ids, leaseUntil); err != nil {
		return nil, errors.Wrap(err, "lease events")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	for _, e := range picked {
		e.NextAttemptAt = leaseUntil
	}
	return picked, nil
}

func (s *Storage) MarkEventPublished(ctx context.Context, id uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE journey_events
SET published_at = $2,
    attempts = attempts + 1,
    last_error = NULL
WHERE id = $1
`, id, at.UTC())
	return errors.Wrap(err, "mark event published")
}

func (s *Storage) MarkEventFailed(ctx context.Context, id uint64, nextAttemptAt time.Time, lastErr string) error {
	_, err := s.db.Exec(ctx, `
UPDATE journey_events
SET attempts = attempts + 1,
    next_attempt_at = $2,
    last_error = $3
WHERE id = $1
`, id, nextAttemptAt.UTC(), lastErr)
	return errors.Wrap(err, "mark event failed")
}

func scanEvent(row pgx.Row) (*models.JourneyEvent, error) {
	var (
		e            models.JourneyEvent
		status       string
		typ          string
		travelStatus string
	)
	if err := row.Scan(
		&e.ID, &e.JourneyID, &status, &typ, &e.Position.Latitude, &e.Position.Longitude, &travelStatus,
		&e.ReceivedAt, &e.PublishedAt, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.CreatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan event")
	}
	e.Status = models.PathStatus(status)
	e.Type = models.TrackerEventType(typ)
	e.TravelStatus = models.TravelStatus(travelStatus)
	return &e, nil
}
