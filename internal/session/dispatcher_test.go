package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidewire/tidewire/internal/result"
	"github.com/tidewire/tidewire/internal/subscription"
	"github.com/tidewire/tidewire/internal/wire"
)

type stateRecorder struct {
	mu       sync.Mutex
	states   []State
	started  int
	failures int
}

func (r *stateRecorder) setState(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) onStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *stateRecorder) onFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() ([]State, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, len(r.states))
	copy(states, r.states)
	return states, r.started, r.failures
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry, *subscription.Engine, *stateRecorder) {
	t.Helper()
	registry := NewRegistry()
	engine := subscription.NewEngine(subscription.NewInterner(), 64, nil)
	engine.Start()
	t.Cleanup(engine.Stop)
	rec := &stateRecorder{}
	d := NewDispatcher(registry, engine, nil, rec.setState, rec.onStarted, rec.onFailure)
	return d, registry, engine, rec
}

func sessionStatusEvent(statuses ...string) wire.Event {
	msgs := make([]wire.Message, 0, len(statuses))
	for _, status := range statuses {
		msgs = append(msgs, wire.Message{Correlation: "", Type: status, Body: nil})
	}
	return wire.Event{Kind: wire.KindSessionStatus, Messages: msgs}
}

func TestDispatcherLifecycleVocabulary(t *testing.T) {
	d, _, _, rec := newTestDispatcher(t)

	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionStarted")))
	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionConnectionDown")))
	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionConnectionUp")))
	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionTerminated")))

	states, started, failures := rec.snapshot()
	require.Equal(t, []State{StateStarted, StateConnectionDown, StateConnectionUp, StateTerminated}, states)
	require.Equal(t, 1, started)
	require.Equal(t, 0, failures)
}

func TestDispatcherStartedCallbackFiresOnce(t *testing.T) {
	d, _, _, rec := newTestDispatcher(t)
	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionStarted", "SessionStarted")))
	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionStarted")))

	_, started, _ := rec.snapshot()
	require.Equal(t, 1, started)
}

func TestDispatcherUnknownStatusIgnored(t *testing.T) {
	d, _, _, rec := newTestDispatcher(t)
	require.NoError(t, d.ProcessEvent(sessionStatusEvent("SessionClockSkew")))
	states, _, _ := rec.snapshot()
	require.Empty(t, states)
}

func TestDispatcherPartialThenTerminalScenario(t *testing.T) {
	d, registry, _, _ := newTestDispatcher(t)
	acc := NewAccumulator("K", result.KindReference)
	registry.Register("K", acc)

	require.NoError(t, d.ProcessEvent(wire.Event{
		Kind: wire.KindPartialResponse,
		Messages: []wire.Message{{
			Correlation: "K",
			Type:        "ReferenceDataResponse",
			Body:        referenceBody("IBM US Equity", wire.Scalar("PX_LAST", wire.TypeFloat64, 100.5)),
		}},
	}))
	require.NoError(t, d.ProcessEvent(wire.Event{
		Kind: wire.KindResponse,
		Messages: []wire.Message{{
			Correlation: "K",
			Type:        "ReferenceDataResponse",
			Body:        referenceBody("IBM US Equity", wire.Scalar("PX_LAST", wire.TypeFloat64, 100.7)),
		}},
	}))

	table, err := acc.ResultTimeout(time.Second)
	require.NoError(t, err)
	require.Equal(t, []any{100.5, 100.7}, table.Values("IBM US Equity", "PX_LAST"))
	require.Equal(t, 0, registry.Len())
}

func TestDispatcherUnmatchedPartialDropped(t *testing.T) {
	d, registry, _, _ := newTestDispatcher(t)
	require.NoError(t, d.ProcessEvent(wire.Event{
		Kind:     wire.KindPartialResponse,
		Messages: []wire.Message{{Correlation: "missing", Type: "ReferenceDataResponse"}},
	}))
	require.Equal(t, 0, registry.Len())
}

func TestDispatcherTerminalFragmentsSealOnce(t *testing.T) {
	d, registry, _, _ := newTestDispatcher(t)
	acc := NewAccumulator("K", result.KindReference)
	registry.Register("K", acc)

	terminal := wire.Event{
		Kind:     wire.KindResponse,
		Messages: []wire.Message{{Correlation: "K", Type: "ReferenceDataResponse"}},
	}
	require.NoError(t, d.ProcessEvent(terminal))
	// A duplicate terminal event finds nothing to seal and must not panic or error.
	require.NoError(t, d.ProcessEvent(terminal))

	_, err := acc.ResultTimeout(time.Second)
	require.NoError(t, err)
}

func TestDispatcherSubscriptionDataReachesListener(t *testing.T) {
	d, _, engine, _ := newTestDispatcher(t)
	listener := &recordingListener{events: make(chan subscription.DataEvent, 1)}
	engine.Track("S", "IBM US Equity")
	engine.Register("S", "BID", listener)

	require.NoError(t, d.ProcessEvent(wire.Event{
		Kind: wire.KindSubscriptionData,
		Messages: []wire.Message{{
			Correlation: "S",
			Type:        "MarketDataEvents",
			Body: wire.Sequence("MarketDataEvents",
				wire.Scalar("BID", wire.TypeFloat64, 99.5),
				wire.Scalar("STALE", wire.TypeNull, nil),
			),
		}},
	}))

	select {
	case evt := <-listener.events:
		require.Equal(t, "BID", evt.Field)
		require.Equal(t, 99.5, evt.New)
		require.Equal(t, "IBM US Equity", evt.Security)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription data")
	}
}

func TestDispatcherSubscriptionStatusConversion(t *testing.T) {
	d, _, engine, _ := newTestDispatcher(t)
	errListener := &recordingErrorListener{errors: make(chan subscription.Error, 2)}
	engine.Track("S", "IBM US Equity")
	engine.RegisterErrorListener("S", errListener)

	// Healthy statuses carry no error.
	require.NoError(t, d.ProcessEvent(wire.Event{
		Kind:     wire.KindSubscriptionStatus,
		Messages: []wire.Message{{Correlation: "S", Type: "SubscriptionStarted"}},
	}))
	require.NoError(t, d.ProcessEvent(wire.Event{
		Kind: wire.KindSubscriptionStatus,
		Messages: []wire.Message{{
			Correlation: "S",
			Type:        "SubscriptionFailure",
			Body: wire.Sequence("SubscriptionFailure",
				wire.Sequence("reason",
					wire.Scalar("errorCode", wire.TypeInt32, int32(101)),
					wire.Scalar("category", wire.TypeString, "BAD_TOPIC"),
					wire.Scalar("description", wire.TypeString, "No such topic"),
				),
			),
		}},
	}))

	select {
	case err := <-errListener.errors:
		require.Equal(t, "SubscriptionFailure", err.Status)
		require.True(t, err.Failure)
		require.Equal(t, int64(101), err.Code)
		require.Equal(t, "BAD_TOPIC", err.Category)
		require.Equal(t, "No such topic", err.Description)
		require.Equal(t, "IBM US Equity", err.Security)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription error")
	}
	select {
	case err := <-errListener.errors:
		t.Fatalf("healthy status produced an error: %+v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherIgnoresUnrecognizedKinds(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	require.NoError(t, d.ProcessEvent(wire.Event{Kind: wire.KindAdmin, Messages: nil}))
	require.NoError(t, d.ProcessEvent(wire.Event{Kind: wire.KindTimeout, Messages: nil}))
}

type recordingListener struct {
	events chan subscription.DataEvent
}

func (l *recordingListener) OnDataChange(evt subscription.DataEvent) { l.events <- evt }

type recordingErrorListener struct {
	errors chan subscription.Error
}

func (l *recordingErrorListener) OnSubscriptionError(err subscription.Error) { l.errors <- err }
