package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	journeysapi "github.com/BearBump/JourneyGuard/internal/api/journeys_api"
	"github.com/BearBump/JourneyGuard/internal/broker/messages"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/BearBump/JourneyGuard/internal/services/journeys"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type journeyAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	positionLimitPerMinute int64

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// deviceSubscriber: необязательный источник позиций (MQTT).
type deviceSubscriber interface {
	Start() error
	Stop()
}

type positionApplier interface {
	ApplyPositionUpdate(ctx context.Context, msg messages.PositionUpdated) (journeys.EvaluationResult, error)
}

func runJourneyAPI(ctx context.Context, opts journeyAPIOpts, svc journeysapi.Service, rl journeysapi.RateLimiter, consumer kafkaConsumer, devices deviceSubscriber) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String())
	}

	api := journeysapi.New(svc, rl, opts.positionLimitPerMinute)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, api, opts.swaggerPath)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		consumerErr <- consumer.Consume(ctx, kafkaPositionHandler(ctx, svc))
	}()

	if devices != nil {
		if err := devices.Start(); err != nil {
			slog.Error("mqtt subscriber failed to start", "error", err.Error())
		} else {
			slog.Info("mqtt subscriber started")
			defer devices.Stop()
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	case err := <-consumerErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// незакоммиченное сообщение будет перечитано после рестарта
		return errors.Wrap(err, "kafka consumer stopped")
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *journeysapi.JourneysAPI, swaggerPath string) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))
	api.Routes(r)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// kafkaPositionHandler: битые и "безнадёжные" сообщения коммитятся с логом,
// временные ошибки повторяются, затем останавливают consumer без коммита.
func kafkaPositionHandler(ctx context.Context, svc positionApplier) func(key, value []byte) error {
	return func(key, value []byte) error {
		var m messages.PositionUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip undecodable position", "key", string(key), "error", err.Error())
			return nil
		}
		if m.JourneyID == "" {
			m.JourneyID = string(key)
		}

		return applyWithRetry(ctx, svc, m)
	}
}

// mqttPositionHandler: та же политика, что у Kafka. ctx приходит от подписчика
// и ограничен по времени.
func mqttPositionHandler(svc positionApplier) func(ctx context.Context, m messages.PositionUpdated) error {
	return func(ctx context.Context, m messages.PositionUpdated) error {
		return applyWithRetry(ctx, svc, m)
	}
}

// applyWithRetry повторяет временные ошибки. Постоянные логируются и
// возвращают nil: сообщение с ними повторять бесполезно.
func applyWithRetry(ctx context.Context, svc positionApplier, m messages.PositionUpdated) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		_, err = svc.ApplyPositionUpdate(ctx, m)
		if err == nil || permanent(err) {
			break
		}
		if attempt == 2 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "last error: %v", err)
		case <-time.After(time.Duration(200*(attempt+1)) * time.Millisecond):
		}
	}
	if err != nil && permanent(err) {
		slog.Warn("skip position update", "journey_id", m.JourneyID, "error", err.Error())
		return nil
	}
	return err
}

func permanent(err error) bool {
	var cfgErr *models.ConfigurationError
	return errors.Is(err, messages.ErrMalformedPosition) ||
		errors.Is(err, journeys.ErrJourneyNotFound) ||
		errors.Is(err, journeys.ErrJourneyFinished) ||
		errors.As(err, &cfgErr)
}
