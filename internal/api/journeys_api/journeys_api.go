package journeys_api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/BearBump/JourneyGuard/internal/services/alerts"
	"github.com/BearBump/JourneyGuard/internal/services/journeys"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type Service interface {
	StartJourney(ctx context.Context, in journeys.JourneyCreateInput) (*models.Journey, error)
	GetJourney(ctx context.Context, id string) (*models.Journey, error)
	ApplyPositionUpdate(ctx context.Context, msg messages.PositionUpdated) (journeys.EvaluationResult, error)
	ListJourneyEvents(ctx context.Context, journeyID string, limit, offset int) ([]*models.JourneyEvent, error)
	Subscribe(journeyID string) (*alerts.Latest, func())
}

type RateLimiter interface {
	AllowPerMinute(ctx context.Context, scope, subject string, limit int64) (bool, int64, error)
}

type JourneysAPI struct {
	svc Service
	rl  RateLimiter

	positionLimitPerMinute int64
	keepAlive              time.Duration
}

// New: rl == nil или limit <= 0 выключают ограничение частоты позиций.
func New(svc Service, rl RateLimiter, positionLimitPerMinute int64) *JourneysAPI {
	return &JourneysAPI{
		svc:                    svc,
		rl:                     rl,
		positionLimitPerMinute: positionLimitPerMinute,
		keepAlive:              15 * time.Second,
	}
}

func (a *JourneysAPI) Routes(r chi.Router) {
	r.Post("/journeys", a.createJourney)
	r.Get("/journeys/{id}", a.getJourney)
	r.Post("/journeys/{id}/positions", a.postPosition)
	r.Get("/journeys/{id}/events", a.listEvents)
	r.Get("/journeys/{id}/alerts/stream", a.streamAlerts)
}

func (a *JourneysAPI) createJourney(w http.ResponseWriter, r *http.Request) {
	var req createJourneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}

	in := journeys.JourneyCreateInput{
		Mode:     models.RouteMode(req.Mode),
		Duration: time.Duration(req.DurationSeconds) * time.Second,
		EndAt:    req.EndAt,
	}
	for _, p := range req.Path {
		in.Path = append(in.Path, fromDTO(p))
	}
	if req.Origin != nil {
		p := fromDTO(*req.Origin)
		in.Origin = &p
	}
	if req.Destination != nil {
		p := fromDTO(*req.Destination)
		in.Destination = &p
	}
	if req.PauseDurationSeconds != nil {
		d := time.Duration(*req.PauseDurationSeconds) * time.Second
		in.PauseDuration = &d
	}

	j, err := a.svc.StartJourney(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJourneyResponse(j))
}

func (a *JourneysAPI) getJourney(w http.ResponseWriter, r *http.Request) {
	j, err := a.svc.GetJourney(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJourneyResponse(j))
}

func (a *JourneysAPI) postPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "latitude and longitude are required"})
		return
	}

	if a.rl != nil && a.positionLimitPerMinute > 0 {
		allowed, n, err := a.rl.AllowPerMinute(r.Context(), "positions", id, a.positionLimitPerMinute)
		if err != nil {
			// redis недоступен: не блокируем поток позиций
			slog.Warn("position rate limiter failed", "journey_id", id, "error", err.Error())
		} else if !allowed {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: fmt.Sprintf("too many position updates (%d this minute)", n)})
			return
		}
	}

	msg := messages.PositionUpdated{
		JourneyID:      id,
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		BatteryPercent: req.BatteryPercent,
	}
	if req.ReceivedAt != nil {
		msg.ReceivedAt = *req.ReceivedAt
	}

	res, err := a.svc.ApplyPositionUpdate(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluationResponse{
		Status:       string(res.Status),
		TravelStatus: string(res.TravelStatus),
		Event:        res.Alert,
	})
}

func (a *JourneysAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	evs, err := a.svc.ListJourneyEvents(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// streamAlerts отдаёт server-sent events. Медленный клиент получает только последнее событие.
func (a *JourneysAPI) streamAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.svc.GetJourney(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming is not supported"})
		return
	}

	feed, cancel := a.svc.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(a.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case alert, ok := <-feed.C():
			if !ok {
				return
			}
			b, err := json.Marshal(alert)
			if err != nil {
				slog.Error("marshal alert", "journey_id", id, "error", err.Error())
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", alert.EventID, alert.Type, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func intQuery(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, err error) {
	var cfgErr *models.ConfigurationError
	switch {
	case errors.Is(err, messages.ErrMalformedPosition),
		errors.Is(err, journeys.ErrInvalidJourney),
		errors.As(err, &cfgErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, journeys.ErrJourneyNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, journeys.ErrJourneyFinished):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		slog.Error("journeys api", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
