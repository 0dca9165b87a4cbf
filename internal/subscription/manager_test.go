package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/wire"
)

type fakeConn struct {
	mu           sync.Mutex
	subscribes   [][]wire.SubscriptionEntry
	resubscribes [][]wire.SubscriptionEntry
}

func (f *fakeConn) OpenService(context.Context, string) (bool, error) { return true, nil }

func (f *fakeConn) SendRequest(context.Context, wire.Request, wire.CorrelationID) error {
	return nil
}

func (f *fakeConn) Subscribe(_ context.Context, entries []wire.SubscriptionEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, entries)
	return nil
}

func (f *fakeConn) Resubscribe(_ context.Context, entries []wire.SubscriptionEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resubscribes = append(f.resubscribes, entries)
	return nil
}

func (f *fakeConn) Cancel(context.Context, wire.CorrelationID) error { return nil }

func (f *fakeConn) Close(context.Context) error { return nil }

func (f *fakeConn) calls() (subs, resubs [][]wire.SubscriptionEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.resubscribes
}

func newTestManager(t *testing.T, connected bool) (*Manager, *fakeConn, *Engine) {
	t.Helper()
	conn := &fakeConn{}
	engine := NewEngine(NewInterner(), 64, nil)
	m := NewManager(conn, engine, func() bool { return connected })
	return m, conn, engine
}

func TestSubscribeFailsFastWhenNotConnected(t *testing.T) {
	m, conn, _ := newTestManager(t, false)
	err := m.Subscribe(context.Background(), Spec{Securities: []string{"IBM US Equity"}, Fields: []string{"BID"}})
	require.Error(t, err)
	require.True(t, errs.IsInvalidState(err))
	subs, resubs := conn.calls()
	require.Empty(t, subs)
	require.Empty(t, resubs)
}

func TestSubscribeThenResubscribeMergesFields(t *testing.T) {
	m, conn, _ := newTestManager(t, true)
	listener := newChanListener()

	err := m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity"},
		Fields:     []string{"BID"},
		Listeners:  []DataListener{listener},
	})
	require.NoError(t, err)

	err = m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity"},
		Fields:     []string{"ASK"},
		Listeners:  []DataListener{listener},
		Throttle:   5 * time.Second,
	})
	require.NoError(t, err)

	subs, resubs := conn.calls()
	require.Len(t, subs, 1)
	require.Len(t, subs[0], 1)
	require.Equal(t, []string{"BID"}, subs[0][0].Fields)

	require.Len(t, resubs, 1)
	require.Len(t, resubs[0], 1)
	require.Equal(t, []string{"BID", "ASK"}, resubs[0][0].Fields)
	require.Equal(t, 5*time.Second, resubs[0][0].Throttle)
	require.Equal(t, subs[0][0].Correlation, resubs[0][0].Correlation)
}

func TestSubscribePartitionsNewAndExisting(t *testing.T) {
	m, conn, _ := newTestManager(t, true)

	require.NoError(t, m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity"},
		Fields:     []string{"BID"},
	}))
	require.NoError(t, m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity", "MSFT US Equity"},
		Fields:     []string{"ASK"},
	}))

	subs, resubs := conn.calls()
	require.Len(t, subs, 2)
	require.Len(t, subs[1], 1)
	require.Equal(t, "MSFT US Equity", subs[1][0].Security)
	require.Len(t, resubs, 1)
	require.Equal(t, "IBM US Equity", resubs[0][0].Security)
}

func TestTrackedAndActiveEntries(t *testing.T) {
	m, _, _ := newTestManager(t, true)
	require.NoError(t, m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity"},
		Fields:     []string{"BID"},
	}))

	corr, ok := m.Tracked("IBM US Equity")
	require.True(t, ok)
	require.NotEmpty(t, corr)

	entries := m.ActiveEntries()
	require.Len(t, entries, 1)
	require.Equal(t, corr, entries[0].Correlation)

	_, ok = m.Tracked("MSFT US Equity")
	require.False(t, ok)
}

func TestFailurePurgeMakesResubscribeBrandNew(t *testing.T) {
	m, conn, engine := newTestManager(t, true)
	engine.Start()
	t.Cleanup(engine.Stop)

	require.NoError(t, m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity"},
		Fields:     []string{"BID"},
	}))
	corr, ok := m.Tracked("IBM US Equity")
	require.True(t, ok)

	subErr := Error{Correlation: corr, Status: "SubscriptionFailure", Failure: true}
	require.NoError(t, engine.Enqueue(Entry{Correlation: corr, Err: &subErr}))

	require.Eventually(t, func() bool {
		_, tracked := m.Tracked("IBM US Equity")
		return !tracked
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Subscribe(context.Background(), Spec{
		Securities: []string{"IBM US Equity"},
		Fields:     []string{"BID"},
	}))
	subs, _ := conn.calls()
	require.Len(t, subs, 2)
	require.NotEqual(t, subs[0][0].Correlation, subs[1][0].Correlation)
}
