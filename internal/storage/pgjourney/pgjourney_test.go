package pgjourney

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var eventCols = []string{
	"id", "journey_id", "status", "type", "lat", "lon", "travel_status",
	"received_at", "published_at", "attempts", "next_attempt_at", "last_error", "created_at",
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Storage) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, newWithPool(mock)
}

func testJourney(t *testing.T) *models.Journey {
	t.Helper()
	route, err := models.NewRoute([]models.Position{{Latitude: 1, Longitude: 1}, {Latitude: 2, Longitude: 2}}, time.Minute, models.RouteModeWalking)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	return &models.Journey{
		ID:         "j-1",
		Route:      route,
		Travel:     models.NewTravel(models.TravelStatusTraveling, models.Position{Latitude: 2, Longitude: 2}, nil, now.Add(time.Hour)),
		LastStatus: models.PathStatusSafe,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateJourney(t *testing.T) {
	mock, st := newMock(t)
	j := testJourney(t)

	mock.ExpectExec(`INSERT INTO journeys`).
		WithArgs("j-1", `[{"latitude":1,"longitude":1},{"latitude":2,"longitude":2}]`, int64(60000), "walking", "traveling",
			2.0, 2.0, (*int64)(nil), j.Travel.EndAt(), "Safe", j.CreatedAt, j.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.CreateJourney(context.Background(), j))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJourney_Incomplete(t *testing.T) {
	_, st := newMock(t)
	require.Error(t, st.CreateJourney(context.Background(), &models.Journey{ID: "x"}))
}

func TestGetJourney(t *testing.T) {
	mock, st := newMock(t)
	endAt := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	created := endAt.Add(-time.Hour)
	pause := int64(30000)
	lastLat, lastLon := 1.0, 1.0

	mock.ExpectQuery(`FROM journeys`).
		WithArgs("j-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "path", "duration_ms", "mode", "status",
			"destination_lat", "destination_lon", "pause_duration_ms", "end_at",
			"last_lat", "last_lon", "last_status", "created_at", "updated_at",
		}).AddRow(
			"j-1", []byte(`[{"latitude":1,"longitude":1},{"latitude":2,"longitude":2}]`), int64(60000), "cycling", "emergency",
			2.0, 2.0, &pause, endAt,
			&lastLat, &lastLon, "OutRoute", created, created,
		))

	j, err := st.GetJourney(context.Background(), "j-1")
	require.NoError(t, err)
	require.Equal(t, "j-1", j.ID)
	require.Equal(t, 2, j.Route.Len())
	require.Equal(t, time.Minute, j.Route.Duration())
	require.Equal(t, models.RouteModeCycling, j.Route.Mode())
	require.Equal(t, models.TravelStatusEmergency, j.Travel.Status())
	require.Equal(t, 30*time.Second, *j.Travel.PauseDuration())
	require.Equal(t, endAt, j.Travel.EndAt())
	require.Equal(t, &models.Position{Latitude: 1, Longitude: 1}, j.LastPosition)
	require.Equal(t, models.PathStatusOutRoute, j.LastStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJourney_UnknownLastStatus(t *testing.T) {
	mock, st := newMock(t)
	endAt := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM journeys`).
		WithArgs("j-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "path", "duration_ms", "mode", "status",
			"destination_lat", "destination_lon", "pause_duration_ms", "end_at",
			"last_lat", "last_lon", "last_status", "created_at", "updated_at",
		}).AddRow(
			"j-1", []byte(`[{"latitude":1,"longitude":1}]`), int64(60000), "walking", "traveling",
			1.0, 1.0, (*int64)(nil), endAt,
			(*float64)(nil), (*float64)(nil), "Panic", endAt, endAt,
		))

	_, err := st.GetJourney(context.Background(), "j-1")
	require.ErrorIs(t, err, models.ErrUnknownPathStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJourney_NotFound(t *testing.T) {
	mock, st := newMock(t)
	mock.ExpectQuery(`FROM journeys`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := st.GetJourney(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyEvaluation_WithEvent(t *testing.T) {
	mock, st := newMock(t)
	travel := models.NewTravel(models.TravelStatusEmergency, models.Position{Latitude: 2, Longitude: 2}, nil, time.Now())
	receivedAt := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	pos := models.Position{Latitude: 9, Longitude: 9}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE journeys`).
		WithArgs("j-1", 9.0, 9.0, "OutRoute", "emergency", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO journey_events`).
		WithArgs("j-1", "OutRoute", "outRouteTrackerEvent", 9.0, 9.0, "emergency", receivedAt, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uint64(42)))
	mock.ExpectCommit()

	id, err := st.ApplyEvaluation(context.Background(), EvaluationUpdate{
		JourneyID:    "j-1",
		Position:     pos,
		Status:       models.PathStatusOutRoute,
		TravelStatus: models.TravelStatusEmergency,
		ReceivedAt:   receivedAt,
		Event: &models.TrackerEvent{
			Travel:     travel,
			Position:   pos,
			ReceivedAt: receivedAt,
			Status:     models.PathStatusOutRoute,
			Type:       models.TrackerEventOutRoute,
		},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEvaluation_SafeHasNoEvent(t *testing.T) {
	mock, st := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE journeys`).
		WithArgs("j-1", 1.0, 1.0, "Safe", "traveling", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	id, err := st.ApplyEvaluation(context.Background(), EvaluationUpdate{
		JourneyID:    "j-1",
		Position:     models.Position{Latitude: 1, Longitude: 1},
		Status:       models.PathStatusSafe,
		TravelStatus: models.TravelStatusTraveling,
		ReceivedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEvaluation_UnknownJourney(t *testing.T) {
	mock, st := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE journeys`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := st.ApplyEvaluation(context.Background(), EvaluationUpdate{JourneyID: "nope", Status: models.PathStatusSafe})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEvaluation_InsertFailsRollsBack(t *testing.T) {
	mock, st := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE journeys`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO journey_events`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := st.ApplyEvaluation(context.Background(), EvaluationUpdate{
		JourneyID: "j-1",
		Status:    models.PathStatusStationary,
		Event:     &models.TrackerEvent{Status: models.PathStatusStationary, Type: models.TrackerEventStationary},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJourneyEvents_ClampsLimit(t *testing.T) {
	mock, st := newMock(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM journey_events e`).
		WithArgs("j-1", 100, 0).
		WillReturnRows(pgxmock.NewRows(eventCols).AddRow(
			uint64(2), "j-1", "Stationary", "stationaryTrackerEvent", 1.0, 1.0, "emergency",
			at, &at, int32(1), at, (*string)(nil), at,
		))

	evs, err := st.ListJourneyEvents(context.Background(), "j-1", 0, -5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, uint64(2), evs[0].ID)
	require.Equal(t, models.PathStatusStationary, evs[0].Status)
	require.Equal(t, models.TrackerEventStationary, evs[0].Type)
	require.Equal(t, models.TravelStatusEmergency, evs[0].TravelStatus)
	require.NotNil(t, evs[0].PublishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingEvents_LeasesInOrder(t *testing.T) {
	mock, st := newMock(t)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	lease := 2 * time.Minute

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT j.id`).
		WithArgs(now, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("j-1").AddRow("j-2"))
	mock.ExpectQuery(`FROM journey_events e`).
		WithArgs([]string{"j-1", "j-2"}, now, 10).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(uint64(3), "j-1", "OutRoute", "outRouteTrackerEvent", 5.0, 5.0, "emergency",
				now, (*time.Time)(nil), int32(0), now, (*string)(nil), now).
			AddRow(uint64(4), "j-2", "LowBattery", "lowBatteryTrackerEvent", 6.0, 6.0, "emergency",
				now, (*time.Time)(nil), int32(0), now, (*string)(nil), now))
	mock.ExpectExec(`UPDATE journey_events SET next_attempt_at`).
		WithArgs([]uint64{3, 4}, now.Add(lease)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	evs, err := st.ClaimPendingEvents(context.Background(), now, 10, lease)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, uint64(3), evs[0].ID)
	require.Equal(t, uint64(4), evs[1].ID)
	require.Equal(t, now.Add(lease), evs[0].NextAttemptAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingEvents_NothingDue(t *testing.T) {
	mock, st := newMock(t)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT j.id`).WithArgs(now, 5).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	evs, err := st.ClaimPendingEvents(context.Background(), now, 5, time.Minute)
	require.NoError(t, err)
	require.Empty(t, evs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEvent(t *testing.T) {
	mock, st := newMock(t)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`SET published_at`).WithArgs(uint64(7), at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET attempts`).WithArgs(uint64(8), at, "broker down").WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, st.MarkEventPublished(context.Background(), 7, at))
	require.NoError(t, st.MarkEventFailed(context.Background(), 8, at, "broker down"))
	require.NoError(t, mock.ExpectationsWereMet())
}
