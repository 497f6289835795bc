package notifyws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T) (*Channel, *fakeTransportFactory, *recordingLogger) {
	t.Helper()
	factory := &fakeTransportFactory{}
	log := newRecordingLogger()
	ch := NewChannel(log, factory.New, DefaultBackoffPolicy(), nil)
	return ch, factory, log
}

func intPtr(i int) *int { return &i }

func TestChannel_StartsIdle(t *testing.T) {
	ch, factory, _ := newTestChannel(t)

	assert.Equal(t, StateDisconnected, ch.State())
	assert.False(t, ch.IsConnected())
	assert.Equal(t, 0, factory.Count())
}

func TestChannel_ConnectIsIdempotent(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	ch.Connect(context.Background())
	ch.Connect(context.Background())

	require.Equal(t, 1, factory.Count())
	assert.Equal(t, 1, factory.Last().opened)
	assert.Equal(t, StateConnecting, ch.State())
	assert.Equal(t, []ConnectionEvent{{Status: StateConnecting}}, rec.ConnectionEvents())
}

func TestChannel_DisconnectWithoutTransportIsNoop(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	assert.NotPanics(t, func() {
		ch.Disconnect()
		ch.Disconnect()
	})
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Empty(t, rec.Events())
}

func TestChannel_DisconnectTearsDownFromAnyState(t *testing.T) {
	signals := map[string]func(h TransportHandler){
		"connecting":   func(TransportHandler) {},
		"connected":    func(h TransportHandler) { h.OnConnect() },
		"reconnecting": func(h TransportHandler) { h.OnConnect(); h.OnDisconnect(nil); h.OnReconnectAttempt(1) },
	}

	for name, drive := range signals {
		t.Run(name, func(t *testing.T) {
			ch, factory, _ := newTestChannel(t)
			ch.Connect(context.Background())
			tr := factory.Last()
			drive(tr.handler)

			rec := &eventRecorder{}
			ch.Subscribe(rec)
			ch.Disconnect()

			assert.True(t, tr.Closed())
			assert.Equal(t, StateDisconnected, ch.State())
			assert.False(t, ch.IsConnected())
			assert.Equal(t, []ConnectionEvent{{Status: StateDisconnected}}, rec.ConnectionEvents())
		})
	}
}

func TestChannel_SignalTable(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	ch.Connect(context.Background())
	h := factory.Last().handler

	h.OnConnect()
	assert.True(t, ch.IsConnected())
	assert.Equal(t, StateConnected, ch.State())

	h.OnNotification([]byte(`{"id":"n1","title":"New appointment"}`))
	assert.Equal(t, StateConnected, ch.State())

	cause := errors.New("boom")
	h.OnError(cause)
	assert.Equal(t, StateConnected, ch.State())

	h.OnDisconnect(ErrConnectionClosed)
	assert.False(t, ch.IsConnected())
	assert.Equal(t, StateDisconnected, ch.State())

	h.OnReconnectAttempt(1)
	assert.Equal(t, StateReconnecting, ch.State())

	events := rec.Events()
	require.Len(t, events, 6)
	assert.Equal(t, ConnectionEvent{Status: StateConnecting}, events[0])
	assert.Equal(t, ConnectionEvent{Status: StateConnected}, events[1])
	assert.Equal(t, NotificationEvent{Payload: json.RawMessage(`{"id":"n1","title":"New appointment"}`)}, events[2])
	assert.Equal(t, ErrorEvent{Message: "boom", Cause: cause}, events[3])
	assert.Equal(t, ConnectionEvent{Status: StateDisconnected}, events[4])
	assert.Equal(t, ConnectionEvent{Status: StateReconnecting, Attempt: intPtr(1)}, events[5])
}

func TestChannel_BackoffDelayTracksAttemptsAndResets(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	ch.Connect(context.Background())
	h := factory.Last().handler

	assert.Equal(t, time.Second, ch.ReconnectDelay())

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	for i, d := range want {
		h.OnReconnectAttempt(i + 1)
		assert.Equal(t, d, ch.ReconnectDelay(), "attempt %d", i+1)
	}

	h.OnConnect()
	assert.Equal(t, time.Second, ch.ReconnectDelay())
}

func TestChannel_ReconnectFailedSequence(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	ch.Connect(context.Background())
	tr := factory.Last()

	rec := &eventRecorder{}
	ch.Subscribe(rec)

	tr.handler.OnReconnectAttempt(1)
	tr.handler.OnReconnectAttempt(2)
	tr.handler.OnReconnectFailed(ErrReconnectExhausted)

	assert.Equal(t, StateFailed, ch.State())
	assert.False(t, ch.IsConnected())

	got := rec.ConnectionEvents()
	require.Len(t, got, 3)
	assert.Equal(t, StateReconnecting, got[0].Status)
	assert.Equal(t, intPtr(1), got[0].Attempt)
	assert.Equal(t, StateReconnecting, got[1].Status)
	assert.Equal(t, intPtr(2), got[1].Attempt)
	assert.Equal(t, StateFailed, got[2].Status)
	assert.Nil(t, got[2].Attempt)
	assert.NotEmpty(t, got[2].Message)

	// the exhausted transport is released and nothing it says matters anymore
	assert.True(t, tr.Closed())
	tr.handler.OnReconnectFailed(ErrReconnectExhausted)
	tr.handler.OnReconnectAttempt(3)
	assert.Len(t, rec.ConnectionEvents(), 3)
	assert.Equal(t, StateFailed, ch.State())
}

func TestChannel_ConnectAfterFailedBuildsNewTransport(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	ch.Connect(context.Background())
	factory.Last().handler.OnReconnectFailed(nil)
	require.Equal(t, StateFailed, ch.State())

	ch.Connect(context.Background())

	assert.Equal(t, 2, factory.Count())
	assert.Equal(t, StateConnecting, ch.State())

	factory.Last().handler.OnConnect()
	assert.True(t, ch.IsConnected())
}

func TestChannel_ReusableAfterDisconnect(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	ch.Connect(context.Background())
	factory.Last().handler.OnConnect()
	ch.Disconnect()
	ch.Connect(context.Background())
	factory.Last().handler.OnConnect()

	assert.Equal(t, 2, factory.Count())
	assert.Equal(t, []ConnectionEvent{
		{Status: StateConnecting},
		{Status: StateConnected},
		{Status: StateDisconnected},
		{Status: StateConnecting},
		{Status: StateConnected},
	}, rec.ConnectionEvents())
}

func TestChannel_FanOutIsolatesFaultyListener(t *testing.T) {
	ch, factory, log := newTestChannel(t)

	ch.SubscribeFunc(func(Event) {
		panic("listener exploded")
	})
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	assert.NotPanics(t, func() {
		ch.Connect(context.Background())
		factory.Last().handler.OnConnect()
	})

	assert.Len(t, rec.ConnectionEvents(), 2)
	assert.True(t, ch.IsConnected())
	assert.True(t, log.Contains("ERROR", "listener exploded"))
}

func TestChannel_FanOutReachesEveryListener(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	ch.Connect(context.Background())
	factory.Last().handler.OnConnect()

	payload := []byte(`{"id":"42"}`)
	want := NotificationEvent{Payload: json.RawMessage(payload)}

	listeners := []*mockListener{{}, {}, {}}
	for _, l := range listeners {
		l.On("HandleEvent", want).Once()
		ch.Subscribe(l)
	}

	factory.Last().handler.OnNotification(payload)

	for _, l := range listeners {
		l.AssertExpectations(t)
	}
}

func TestChannel_NotificationPayloadIsCopied(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)
	ch.Connect(context.Background())
	factory.Last().handler.OnConnect()

	buf := []byte(`{"id":"1"}`)
	factory.Last().handler.OnNotification(buf)
	copy(buf, `{"id":"2"}`)

	events := rec.Events()
	assert.JSONEq(t, `{"id":"1"}`, string(events[len(events)-1].(NotificationEvent).Payload))
}

func TestChannel_Unsubscribe(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	other := &eventRecorder{}

	unsubscribe := ch.Subscribe(rec)
	ch.Subscribe(other)

	ch.Connect(context.Background())
	unsubscribe()
	factory.Last().handler.OnConnect()

	assert.Len(t, rec.Events(), 1)
	assert.Len(t, other.Events(), 2)

	assert.NotPanics(t, func() { unsubscribe() })
	assert.Equal(t, 1, ch.listeners.len())
}

func TestChannel_SubscribeSameListenerOnce(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}

	ch.Subscribe(rec)
	ch.Subscribe(rec)
	ch.Connect(context.Background())
	factory.Last().handler.OnConnect()

	assert.Len(t, rec.Events(), 2)
}

func TestChannel_SubscribeNil(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	assert.NotPanics(t, func() {
		ch.Subscribe(nil)()
		ch.SubscribeFunc(nil)()
	})
	assert.Equal(t, 0, ch.listeners.len())
}

func TestChannel_ListenersSurviveReconnectCycles(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	for i := 0; i < 3; i++ {
		ch.Connect(context.Background())
		factory.Last().handler.OnConnect()
		ch.Disconnect()
	}

	assert.Len(t, rec.ConnectionEvents(), 9)
}

func TestChannel_NoBufferingAcrossDisconnect(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}
	ch.Subscribe(rec)

	ch.Connect(context.Background())
	tr := factory.Last()
	tr.handler.OnConnect()

	t.Run("transport reports disconnect", func(t *testing.T) {
		rec.Reset()
		tr.handler.OnDisconnect(ErrConnectionClosed)
		tr.handler.OnNotification([]byte(`{"lost":true}`))

		assert.Equal(t, []Event{ConnectionEvent{Status: StateDisconnected}}, rec.Events())
	})

	t.Run("late signal from a torn down transport", func(t *testing.T) {
		tr.handler.OnConnect()
		ch.Disconnect()
		rec.Reset()

		tr.handler.OnNotification([]byte(`{"lost":true}`))
		tr.handler.OnError(errors.New("late"))
		tr.handler.OnConnect()

		assert.Empty(t, rec.Events())
		assert.False(t, ch.IsConnected())
	})

	t.Run("nothing replayed on the next connection", func(t *testing.T) {
		ch.Connect(context.Background())
		factory.Last().handler.OnConnect()

		for _, e := range rec.Events() {
			assert.IsType(t, ConnectionEvent{}, e)
		}
	})
}

func TestChannel_ReentrantListener(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	rec := &eventRecorder{}

	// A listener that gives up on the first connection, from inside delivery.
	ch.SubscribeFunc(func(e Event) {
		if ce, ok := e.(ConnectionEvent); ok && ce.Status == StateConnected {
			ch.Disconnect()
		}
	})
	ch.Subscribe(rec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Connect(context.Background())
		factory.Last().handler.OnConnect()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-entrant Disconnect deadlocked")
	}

	assert.Equal(t, []ConnectionEvent{
		{Status: StateConnecting},
		{Status: StateConnected},
		{Status: StateDisconnected},
	}, rec.ConnectionEvents())
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannel_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	factory := &fakeTransportFactory{}
	ch := NewChannel(nil, factory.New, DefaultBackoffPolicy(), metrics)
	ch.SubscribeFunc(func(e Event) {
		if e.Kind() == KindNotification {
			panic("bad listener")
		}
	})

	ch.Connect(context.Background())
	h := factory.Last().handler
	h.OnConnect()
	h.OnNotification([]byte(`{}`))
	h.OnDisconnect(nil)
	h.OnNotification([]byte(`{}`))
	h.OnReconnectAttempt(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues(string(KindNotification))))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.events.WithLabelValues(string(KindConnection))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.listenerFaults))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reconnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dropped))
	assert.Equal(t, float64(StateReconnecting), testutil.ToFloat64(metrics.state))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice on the same registry")
}

func TestChannel_ConcurrentSubscribersAndSignals(t *testing.T) {
	ch, factory, _ := newTestChannel(t)
	ch.Connect(context.Background())
	h := factory.Last().handler
	h.OnConnect()

	counter := &mockListener{}
	counter.On("HandleEvent", mock.Anything).Return()
	ch.Subscribe(counter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			unsubscribe := ch.SubscribeFunc(func(Event) {})
			unsubscribe()
		}
	}()

	for i := 0; i < 100; i++ {
		h.OnNotification([]byte(`{}`))
	}
	<-done

	counter.AssertNumberOfCalls(t, "HandleEvent", 100)
}
