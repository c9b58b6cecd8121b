package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/JourneyGuard/config"
	"github.com/BearBump/JourneyGuard/internal/broker/kafka"
	"github.com/BearBump/JourneyGuard/internal/broker/rabbitmq"
	"github.com/BearBump/JourneyGuard/internal/cache/rediscache"
	"github.com/BearBump/JourneyGuard/internal/services/relay"
	"github.com/BearBump/JourneyGuard/internal/storage/pgjourney"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	alertSinkKafka    = "kafka"
	alertSinkRabbitMQ = "rabbitmq"
)

type relayFactories struct {
	newStorage     func(cfg *config.Config) (repo relay.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (p relay.Producer, closeFn func(), err error)
	newRateLimiter func(cfg *config.Config) relay.RateLimiter
}

func defaultRelayFactories() relayFactories {
	return relayFactories{
		newStorage: func(cfg *config.Config) (relay.Repository, func(), error) {
			st, err := pgjourney.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (relay.Producer, func(), error) {
			switch alertSink(cfg) {
			case alertSinkRabbitMQ:
				conn, err := amqp.Dial(cfg.RabbitMQ.URL)
				if err != nil {
					return nil, nil, errors.Wrap(err, "rabbitmq dial")
				}
				pub, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQ.Exchange)
				if err != nil {
					_ = conn.Close()
					return nil, nil, err
				}
				return pub, func() {
					_ = pub.Close()
					_ = conn.Close()
				}, nil
			default:
				p := kafka.NewProducer(cfg.Kafka.Brokers())
				return p, func() { _ = p.Close() }, nil
			}
		},
		newRateLimiter: func(cfg *config.Config) relay.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
	}
}

func alertSink(cfg *config.Config) string {
	if cfg.JourneyGuard.AlertSink == alertSinkRabbitMQ {
		return alertSinkRabbitMQ
	}
	return alertSinkKafka
}

func alertsTopic(cfg *config.Config) string {
	if cfg.Kafka.JourneyAlertsTopicName != "" {
		return cfg.Kafka.JourneyAlertsTopicName
	}
	return "journey.alerts"
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newRelay(cfg *config.Config, repo relay.Repository, producer relay.Producer, rl relay.RateLimiter) *relay.Relay {
	jg := cfg.JourneyGuard
	return relay.New(repo, producer, rl, alertsTopic(cfg)).
		WithSettings(
			seconds(jg.RelayPollIntervalSeconds),
			jg.RelayBatchSize,
			jg.RelayConcurrency,
			seconds(jg.RelayLeaseSeconds),
			int64(jg.RelayRateLimitPerMinute),
		).
		WithRetry(relay.RetryConfig{
			Steps: []time.Duration{
				seconds(jg.RelayBackoff1Seconds),
				seconds(jg.RelayBackoff2Seconds),
				seconds(jg.RelayBackoff3Seconds),
				seconds(jg.RelayBackoff4Seconds),
			},
			MaxJitter: seconds(jg.RelayMaxJitterSeconds),
		})
}

// RunJourneyRelay крутит outbox relay; admin HTTP поднимается, только если задан swaggerPath.
func RunJourneyRelay(ctx context.Context, cfg *config.Config, f relayFactories, swaggerPath string) error {
	repo, closeRepo, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		defer closeRepo()
	}

	producer, closeProducer, err := f.newProducer(cfg)
	if err != nil {
		return err
	}
	if closeProducer != nil {
		defer closeProducer()
	}

	var rl relay.RateLimiter
	if cfg.JourneyGuard.RelayRateLimitPerMinute > 0 {
		rl = f.newRateLimiter(cfg)
	}

	r := newRelay(cfg, repo, producer, rl)
	slog.Info("journey relay started", "sink", alertSink(cfg), "topic", alertsTopic(cfg))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	if swaggerPath != "" {
		go func() {
			httpErr <- runRelayHTTPServer(ctx, relayHTTPOpts{
				httpAddr:    cfg.JourneyGuard.RelayHTTPAddr,
				swaggerPath: swaggerPath,
				relay:       r,
				cfg:         cfg,
			})
		}()
	} else {
		slog.Warn("relay admin http is disabled: swaggerPath is empty")
	}

	relayErr := make(chan error, 1)
	go func() { relayErr <- r.Run(ctx) }()

	select {
	case err := <-relayErr:
		return err
	case err := <-httpErr:
		if err != nil {
			return errors.Wrap(err, "relay admin http")
		}
		return <-relayErr
	}
}
