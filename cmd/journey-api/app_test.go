package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
	"github.com/BearBump/JourneyGuard/internal/models"
	"github.com/BearBump/JourneyGuard/internal/services/journeys"
	"github.com/BearBump/JourneyGuard/internal/storage/pgjourney"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) CreateJourney(ctx context.Context, j *models.Journey) error { return nil }
func (r *fakeRepo) GetJourney(ctx context.Context, id string) (*models.Journey, error) {
	return nil, pgjourney.ErrNotFound
}
func (r *fakeRepo) ApplyEvaluation(ctx context.Context, u pgjourney.EvaluationUpdate) (uint64, error) {
	return 0, nil
}
func (r *fakeRepo) ListJourneyEvents(ctx context.Context, journeyID string, limit, offset int) ([]*models.JourneyEvent, error) {
	return []*models.JourneyEvent{}, nil
}

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingConsumer struct{}

func (c failingConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	return errors.New("broker is gone")
}

type fakeDevices struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (d *fakeDevices) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *fakeDevices) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

type fakeRL struct{}

func (fakeRL) AllowPerMinute(ctx context.Context, scope, subject string, limit int64) (bool, int64, error) {
	return true, 1, nil
}

func writeSwagger(t *testing.T) string {
	t.Helper()
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	return sw
}

func TestRunJourneyAPI_SwaggerAndHealth(t *testing.T) {
	svc := journeys.New(&fakeRepo{}, nil, time.Minute, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := journeyAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   writeSwagger(t),
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	devices := &fakeDevices{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- runJourneyAPI(ctx, opts, svc, fakeRL{}, fakeConsumer{}, devices)
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get("http://" + httpAddr + "/journeys/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting journey-api to stop")
	}

	devices.mu.Lock()
	defer devices.mu.Unlock()
	require.True(t, devices.started)
	require.True(t, devices.stopped)
}

func TestRunJourneyAPI_MissingSwagger(t *testing.T) {
	svc := journeys.New(&fakeRepo{}, nil, time.Minute, nil, nil)
	err := runJourneyAPI(context.Background(), journeyAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	}, svc, fakeRL{}, fakeConsumer{}, nil)
	require.Error(t, err)
}

func TestRunJourneyAPI_ConsumerFailureStops(t *testing.T) {
	svc := journeys.New(&fakeRepo{}, nil, time.Minute, nil, nil)
	err := runJourneyAPI(context.Background(), journeyAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: writeSwagger(t),
	}, svc, fakeRL{}, failingConsumer{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker is gone")
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []messages.PositionUpdated
	errs  []error
}

func (f *fakeApplier) ApplyPositionUpdate(ctx context.Context, msg messages.PositionUpdated) (journeys.EvaluationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	if len(f.errs) == 0 {
		return journeys.EvaluationResult{Status: models.PathStatusSafe}, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return journeys.EvaluationResult{}, err
}

func TestKafkaPositionHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("journey id from key", func(t *testing.T) {
		f := &fakeApplier{}
		h := kafkaPositionHandler(ctx, f)
		require.NoError(t, h([]byte("j-1"), []byte(`{"latitude":1,"longitude":2}`)))
		require.Len(t, f.calls, 1)
		require.Equal(t, "j-1", f.calls[0].JourneyID)
	})

	t.Run("undecodable is skipped", func(t *testing.T) {
		f := &fakeApplier{}
		h := kafkaPositionHandler(ctx, f)
		require.NoError(t, h([]byte("j-1"), []byte(`{`)))
		require.Empty(t, f.calls)
	})

	t.Run("permanent errors are committed", func(t *testing.T) {
		for _, e := range []error{
			errors.Wrap(messages.ErrMalformedPosition, "lat"),
			journeys.ErrJourneyNotFound,
			journeys.ErrJourneyFinished,
			&models.ConfigurationError{Err: models.ErrEmptyPath},
		} {
			f := &fakeApplier{errs: []error{e}}
			h := kafkaPositionHandler(ctx, f)
			require.NoError(t, h(nil, []byte(`{"journey_id":"j-1","latitude":1,"longitude":2}`)))
			require.Len(t, f.calls, 1)
		}
	})

	t.Run("transient error is retried", func(t *testing.T) {
		f := &fakeApplier{errs: []error{errors.New("db down")}}
		h := kafkaPositionHandler(ctx, f)
		require.NoError(t, h(nil, []byte(`{"journey_id":"j-1","latitude":1,"longitude":2}`)))
		require.Len(t, f.calls, 2)
	})

	t.Run("transient error exhausts retries", func(t *testing.T) {
		boom := errors.New("db down")
		f := &fakeApplier{errs: []error{boom, boom, boom}}
		h := kafkaPositionHandler(ctx, f)
		require.ErrorIs(t, h(nil, []byte(`{"journey_id":"j-1","latitude":1,"longitude":2}`)), boom)
		require.Len(t, f.calls, 3)
	})
}

func TestMQTTPositionHandler(t *testing.T) {
	msg := messages.PositionUpdated{JourneyID: "j-1", Latitude: 1, Longitude: 2}

	t.Run("transient error is retried", func(t *testing.T) {
		f := &fakeApplier{errs: []error{errors.New("db down"), errors.New("db down")}}
		require.NoError(t, mqttPositionHandler(f)(context.Background(), msg))
		require.Len(t, f.calls, 3)
	})

	t.Run("permanent error is dropped without retry", func(t *testing.T) {
		f := &fakeApplier{errs: []error{journeys.ErrJourneyFinished}}
		require.NoError(t, mqttPositionHandler(f)(context.Background(), msg))
		require.Len(t, f.calls, 1)
	})

	t.Run("transient error exhausts retries", func(t *testing.T) {
		boom := errors.New("db down")
		f := &fakeApplier{errs: []error{boom, boom, boom}}
		require.ErrorIs(t, mqttPositionHandler(f)(context.Background(), msg), boom)
		require.Len(t, f.calls, 3)
	})

	t.Run("deadline stops retries", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		f := &fakeApplier{errs: []error{errors.New("db down"), errors.New("db down"), errors.New("db down")}}
		err := mqttPositionHandler(f)(ctx, msg)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Len(t, f.calls, 1)
	})
}
