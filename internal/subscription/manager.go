package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/wire"
)

type trackingState struct {
	correlation   wire.CorrelationID
	security      string
	fields        []string
	fieldSet      map[string]struct{}
	listeners     map[DataListener]struct{}
	errorListener ErrorListener
	throttle      time.Duration
}

func (st *trackingState) mergeFields(fields []string) {
	for _, field := range fields {
		canonical := CanonicalField(field)
		if canonical == "" {
			continue
		}
		if _, ok := st.fieldSet[canonical]; ok {
			continue
		}
		st.fieldSet[canonical] = struct{}{}
		st.fields = append(st.fields, canonical)
	}
}

func (st *trackingState) mergeListeners(listeners []DataListener) {
	for _, listener := range listeners {
		if listener != nil {
			st.listeners[listener] = struct{}{}
		}
	}
}

// Manager owns the security→subscription tracking state. It decides whether
// an incoming subscribe call opens a brand-new subscription or merges into an
// existing one, and issues the corresponding batches to the connection.
type Manager struct {
	mu            sync.Mutex
	conn          wire.Connection
	engine        *Engine
	connected     func() bool
	bySecurity    map[string]*trackingState
	byCorrelation map[wire.CorrelationID]*trackingState
}

// NewManager constructs a subscription manager bound to the connection and
// conflation engine. The connected probe gates subscribe calls until the
// session is established.
func NewManager(conn wire.Connection, engine *Engine, connected func() bool) *Manager {
	m := &Manager{
		mu:            sync.Mutex{},
		conn:          conn,
		engine:        engine,
		connected:     connected,
		bySecurity:    make(map[string]*trackingState),
		byCorrelation: make(map[wire.CorrelationID]*trackingState),
	}
	engine.SetFailureHook(m.removeFailed)
	return m
}

// Subscribe partitions the requested securities into new subscriptions and
// resubscriptions, registers listeners with the conflation engine, and issues
// the two batches as separate connection calls. The protocol distinguishes
// fresh subscriptions from resubscriptions, so the batches are never mixed.
func (m *Manager) Subscribe(ctx context.Context, spec Spec) error {
	if m.connected != nil && !m.connected() {
		return errs.New("subscription/manager", errs.CodeInvalidState,
			errs.WithMessage("session not established"))
	}

	m.mu.Lock()
	var newEntries, resubEntries []wire.SubscriptionEntry
	for _, security := range spec.Securities {
		st, exists := m.bySecurity[security]
		if !exists {
			st = &trackingState{
				correlation:   wire.NewCorrelationID(),
				security:      security,
				fields:        nil,
				fieldSet:      make(map[string]struct{}),
				listeners:     make(map[DataListener]struct{}),
				errorListener: spec.ErrorListener,
				throttle:      spec.Throttle,
			}
			st.mergeFields(spec.Fields)
			st.mergeListeners(spec.Listeners)
			m.bySecurity[security] = st
			m.byCorrelation[st.correlation] = st
			m.engine.Track(st.correlation, security)
			m.registerListeners(st)
			newEntries = append(newEntries, m.entry(st))
			continue
		}
		st.mergeFields(spec.Fields)
		st.mergeListeners(spec.Listeners)
		st.throttle = spec.Throttle
		if spec.ErrorListener != nil {
			st.errorListener = spec.ErrorListener
		}
		m.registerListeners(st)
		resubEntries = append(resubEntries, m.entry(st))
	}
	m.mu.Unlock()

	if len(newEntries) > 0 {
		if err := m.conn.Subscribe(ctx, newEntries); err != nil {
			return fmt.Errorf("subscribe batch: %w", err)
		}
	}
	if len(resubEntries) > 0 {
		if err := m.conn.Resubscribe(ctx, resubEntries); err != nil {
			return fmt.Errorf("resubscribe batch: %w", err)
		}
	}
	return nil
}

// Tracked reports whether the security has an active subscription, and under
// which correlation.
func (m *Manager) Tracked(security string) (wire.CorrelationID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.bySecurity[security]
	if !ok {
		return "", false
	}
	return st.correlation, true
}

// ActiveEntries snapshots every tracked subscription as a batch, used to
// restore state after a transport reconnect.
func (m *Manager) ActiveEntries() []wire.SubscriptionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]wire.SubscriptionEntry, 0, len(m.bySecurity))
	for _, st := range m.bySecurity {
		entries = append(entries, m.entry(st))
	}
	return entries
}

// registerListeners is idempotent: the engine dedupes by listener identity.
// Callers hold m.mu.
func (m *Manager) registerListeners(st *trackingState) {
	for _, field := range st.fields {
		for listener := range st.listeners {
			m.engine.Register(st.correlation, field, listener)
		}
	}
	if st.errorListener != nil {
		m.engine.RegisterErrorListener(st.correlation, st.errorListener)
	}
}

// entry builds the outbound batch entry for the state. Callers hold m.mu.
func (m *Manager) entry(st *trackingState) wire.SubscriptionEntry {
	fields := make([]string, len(st.fields))
	copy(fields, st.fields)
	return wire.SubscriptionEntry{
		Correlation: st.correlation,
		Security:    st.security,
		Fields:      fields,
		Throttle:    st.throttle,
	}
}

// removeFailed purges tracking for a security after an unrecoverable
// subscription failure so a later subscribe is treated as brand-new. Invoked
// from the conflation goroutine via the engine failure hook.
func (m *Manager) removeFailed(corr wire.CorrelationID, security string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.byCorrelation[corr]; ok {
		delete(m.bySecurity, st.security)
	} else if security != "" {
		delete(m.bySecurity, security)
	}
	delete(m.byCorrelation, corr)
}
