// Package relay publishes journey alerts from the transactional outbox to the
// alert sink. Events of one journey are published strictly in id order; different
// journeys are published in parallel.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimPendingEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.JourneyEvent, error)
	MarkEventPublished(ctx context.Context, id uint64, at time.Time) error
	MarkEventFailed(ctx context.Context, id uint64, nextAttemptAt time.Time, lastErr string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Relay struct {
	repo     Repository
	producer Producer
	rl       RateLimiter

	topic string

	retry *RetrySchedule

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	publishAttempts    int

	triggerCh chan struct{}
	now       func() time.Time

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, topic string) *Relay {
	return &Relay{
		repo: repo, producer: producer, rl: rl, topic: topic,
		retry:             DefaultRetrySchedule(),
		pollInterval:      2 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             120 * time.Second,
		publishAttempts:   3,
		triggerCh:         make(chan struct{}, 1),
		now:               func() time.Time { return time.Now().UTC() },
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Relay {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Relay) WithRetry(cfg RetryConfig) *Relay {
	r.retry = NewRetrySchedule(cfg, nil)
	return r
}

// Trigger forces an immediate relay cycle (best-effort, non-blocking).
func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalPublished: r.totalPublished.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	now := r.now()
	r.lastCycleUnixNano.Store(now.UnixNano())

	events, err := r.repo.ClaimPendingEvents(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim pending events", "error", err.Error())
		r.setLastError(err)
		return
	}
	r.totalClaimed.Add(int64(len(events)))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, batch := range groupByJourney(events) {
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(1)
		go func(batch []*models.JourneyEvent) {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := r.processJourney(ctx, batch); err != nil {
				r.totalErrors.Add(1)
				r.setLastError(err)
				slog.Error("relay journey events", "journey_id", batch[0].JourneyID, "error", err.Error())
			}
		}(batch)
	}
	wg.Wait()
}

// processJourney публикует события одной поездки по порядку и останавливается на первой ошибке,
// чтобы следующие события не обогнали упавшее.
func (r *Relay) processJourney(ctx context.Context, batch []*models.JourneyEvent) error {
	for _, ev := range batch {
		if err := r.publishOne(ctx, ev); err != nil {
			next := r.now().Add(r.retry.Delay(ev.Attempts + 1))
			if markErr := r.repo.MarkEventFailed(ctx, ev.ID, next, err.Error()); markErr != nil {
				slog.Error("mark event failed", "event_id", ev.ID, "error", markErr.Error())
			}
			return errors.Wrapf(err, "publish event %d", ev.ID)
		}
		if err := r.repo.MarkEventPublished(ctx, ev.ID, r.now()); err != nil {
			// событие уйдёт повторно после истечения lease
			return err
		}
		r.totalPublished.Add(1)
	}
	return nil
}

func (r *Relay) publishOne(ctx context.Context, ev *models.JourneyEvent) error {
	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:sink:%s:%s", r.topic, r.now().Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много публикаций в минуту: немного притормозим.
			slog.Warn("sink rate limit exceeded", "topic", r.topic, "count", n)
			if err := sleep(ctx, 500*time.Millisecond); err != nil {
				return err
			}
		}
	}

	b, err := json.Marshal(messages.NewJourneyAlert(ev))
	if err != nil {
		return errors.Wrap(err, "marshal alert")
	}

	key := []byte(ev.JourneyID)
	var pubErr error
	for i := 0; i < r.publishAttempts; i++ {
		if pubErr = r.producer.Publish(ctx, r.topic, key, b); pubErr == nil {
			return nil
		}
		if i+1 < r.publishAttempts {
			if err := sleep(ctx, time.Duration(150*(i+1))*time.Millisecond); err != nil {
				return err
			}
		}
	}
	return pubErr
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

// groupByJourney keeps the claim order inside each journey.
func groupByJourney(events []*models.JourneyEvent) [][]*models.JourneyEvent {
	idx := map[string]int{}
	var out [][]*models.JourneyEvent
	for _, ev := range events {
		i, ok := idx[ev.JourneyID]
		if !ok {
			i = len(out)
			idx[ev.JourneyID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], ev)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
