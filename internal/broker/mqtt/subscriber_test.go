package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/JourneyGuard/internal/broker/messages"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestJourneyIDFromTopic(t *testing.T) {
	require.Equal(t, "abc", journeyIDFromTopic("journeys/abc/position"))
	require.Equal(t, "", journeyIDFromTopic("journeys/abc"))
	require.Equal(t, "", journeyIDFromTopic("fleet/abc/position"))
}

func TestSubscriber_HandleMessage_Valid(t *testing.T) {
	var got []messages.PositionUpdated
	s := NewSubscriber(nil, "", func(ctx context.Context, msg messages.PositionUpdated) error {
		got = append(got, msg)
		return nil
	})
	require.Equal(t, DefaultTopic, s.topic)

	s.handleMessage(nil, fakeMessage{
		topic:   "journeys/j1/position",
		payload: []byte(`{"latitude":13.0,"longitude":12.0,"battery_percent":10,"timestamp":1760875200}`),
	})

	require.Len(t, got, 1)
	require.Equal(t, "j1", got[0].JourneyID)
	require.Equal(t, 13.0, got[0].Latitude)
	require.NotNil(t, got[0].BatteryPercent)
	require.Equal(t, 10, *got[0].BatteryPercent)
	require.Equal(t, int64(1760875200), got[0].ReceivedAt.Unix())
}

func TestSubscriber_HandleMessage_RejectsMalformed(t *testing.T) {
	calls := 0
	s := NewSubscriber(nil, "", func(ctx context.Context, msg messages.PositionUpdated) error {
		calls++
		return nil
	})

	s.handleMessage(nil, fakeMessage{topic: "journeys/j1/position", payload: []byte(`not-json`)})
	s.handleMessage(nil, fakeMessage{topic: "journeys/j1/position", payload: []byte(`{"latitude":95,"longitude":1}`)})
	s.handleMessage(nil, fakeMessage{topic: "journeys//position", payload: []byte(`{"latitude":1,"longitude":1}`)})
	require.Zero(t, calls)
}

func TestSubscriber_HandleMessage_HandlerErrorIsLogged(t *testing.T) {
	s := NewSubscriber(nil, "", func(ctx context.Context, msg messages.PositionUpdated) error {
		return errors.New("journey finished")
	})
	require.NotPanics(t, func() {
		s.handleMessage(nil, fakeMessage{topic: "journeys/j1/position", payload: []byte(`{"latitude":1,"longitude":1}`)})
	})
}

func TestSubscriber_HandleMessage_BoundedContext(t *testing.T) {
	var deadline time.Time
	var ok bool
	s := NewSubscriber(nil, "", func(ctx context.Context, msg messages.PositionUpdated) error {
		deadline, ok = ctx.Deadline()
		return nil
	})
	require.Equal(t, DefaultHandlerTimeout, s.timeout)

	start := time.Now()
	s.handleMessage(nil, fakeMessage{topic: "journeys/j1/position", payload: []byte(`{"latitude":1,"longitude":1}`)})
	require.True(t, ok)
	require.WithinDuration(t, start.Add(DefaultHandlerTimeout), deadline, time.Second)
}

func TestSubscriber_HandleMessage_SlowHandlerIsCancelled(t *testing.T) {
	s := NewSubscriber(nil, "", func(ctx context.Context, msg messages.PositionUpdated) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.timeout = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		s.handleMessage(nil, fakeMessage{topic: "journeys/j1/position", payload: []byte(`{"latitude":1,"longitude":1}`)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not cancelled")
	}
}

func TestDecode_MissingTimestampLeavesZero(t *testing.T) {
	upd, err := decode("journeys/j9/position", []byte(`{"latitude":1.5,"longitude":2.5}`))
	require.NoError(t, err)
	require.True(t, upd.ReceivedAt.IsZero())
	require.Nil(t, upd.BatteryPercent)
}
