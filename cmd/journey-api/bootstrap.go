package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/JourneyGuard/config"
	"github.com/BearBump/JourneyGuard/internal/broker/kafka"
	"github.com/BearBump/JourneyGuard/internal/broker/mqtt"
	"github.com/BearBump/JourneyGuard/internal/cache/rediscache"
	"github.com/BearBump/JourneyGuard/internal/integrations/planner"
	"github.com/BearBump/JourneyGuard/internal/integrations/planner/fake"
	"github.com/BearBump/JourneyGuard/internal/integrations/planner/httpplanner"
	"github.com/BearBump/JourneyGuard/internal/services/alerts"
	"github.com/BearBump/JourneyGuard/internal/services/journeys"
	"github.com/BearBump/JourneyGuard/internal/storage/pgjourney"
)

type journeyAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     journeyAPIOpts
	svc      *journeys.Service
	rl       *rediscache.RateLimiter
	consumer *kafka.Consumer
	devices  *mqtt.Subscriber
	closers  []func()
}

func mustBootstrapJourneyAPI() *journeyAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.JourneyGuard.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.JourneyGuard.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "journey-api"
	}
	topic := cfg.Kafka.PositionUpdatedTopicName
	if topic == "" {
		topic = "position.updated"
	}
	cacheTTL := time.Duration(cfg.JourneyGuard.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	positionLimit := cfg.JourneyGuard.PositionRateLimitPerMinute
	if positionLimit <= 0 {
		positionLimit = 120
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	redisClient := rediscache.NewClient(cfg.Redis.Addr())
	rc := rediscache.NewWithClient(redisClient)
	rl := rediscache.NewRateLimiterWithClient(redisClient)

	svc := journeys.New(st, rc, cacheTTL, newPlanner(cfg.Planner), alerts.NewHub())

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, consumerGroup)

	app := &journeyAPIApp{
		opts: journeyAPIOpts{
			httpAddr:               httpAddr,
			swaggerPath:            swaggerPath,
			topic:                  topic,
			consumerGroup:          consumerGroup,
			positionLimitPerMinute: int64(positionLimit),
		},
		svc:      svc,
		rl:       rl,
		consumer: consumer,
		closers: []func(){
			func() { _ = consumer.Close() },
			func() { _ = redisClient.Close() },
			st.Close,
		},
	}

	if cfg.MQTT.Broker != "" {
		app.devices = mustConnectMQTT(cfg.MQTT, svc)
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return app
}

func newPlanner(cfg config.PlannerConfig) planner.Client {
	if cfg.BaseURL == "" {
		slog.Info("route planner is not configured, using fake planner")
		return fake.New()
	}
	return httpplanner.New(cfg.BaseURL, cfg.APIKey)
}

func mustConnectMQTT(cfg config.MQTTConfig, svc *journeys.Service) *mqtt.Subscriber {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "journey-api"
	}
	topic := cfg.Topic
	if topic == "" {
		topic = mqtt.DefaultTopic
	}
	client, err := mqtt.NewClient(cfg.Broker, clientID)
	if err != nil {
		panic(fmt.Sprintf("mqtt connect: %v", err))
	}
	return mqtt.NewSubscriber(client, topic, mqttPositionHandler(svc))
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgjourney.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgjourney.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *journeyAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *journeyAPIApp) Run() error {
	var devices deviceSubscriber
	if a.devices != nil {
		devices = a.devices
	}
	return runJourneyAPI(a.ctx, a.opts, a.svc, a.rl, a.consumer, devices)
}
