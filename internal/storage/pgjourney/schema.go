package pgjourney

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS journeys (
  id TEXT PRIMARY KEY,
  path JSONB NOT NULL,
  duration_ms BIGINT NOT NULL,
  mode TEXT NOT NULL,
  status TEXT NOT NULL,
  destination_lat DOUBLE PRECISION NOT NULL,
  destination_lon DOUBLE PRECISION NOT NULL,
  pause_duration_ms BIGINT NULL,
  end_at TIMESTAMPTZ NOT NULL,
  last_lat DOUBLE PRECISION NULL,
  last_lon DOUBLE PRECISION NULL,
  last_status TEXT NOT NULL DEFAULT 'Safe',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (jsonb_array_length(path) > 0)
)`,
		`
CREATE TABLE IF NOT EXISTS journey_events (
  id BIGSERIAL PRIMARY KEY,
  journey_id TEXT NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  type TEXT NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lon DOUBLE PRECISION NOT NULL,
  travel_status TEXT NOT NULL,
  received_at TIMESTAMPTZ NOT NULL,
  published_at TIMESTAMPTZ NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_journey_events_journey_id ON journey_events(journey_id, id DESC)`,
		// Outbox: only unpublished rows are scanned by the relay.
		`CREATE INDEX IF NOT EXISTS idx_journey_events_pending ON journey_events(next_attempt_at) WHERE published_at IS NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
