package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidewire/tidewire/config"
	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/result"
	"github.com/tidewire/tidewire/internal/subscription"
	"github.com/tidewire/tidewire/internal/telemetry"
	"github.com/tidewire/tidewire/internal/wire"
)

// Option configures a session.
type Option func(*Session)

// WithStateListener registers a callback fired on every lifecycle transition.
func WithStateListener(listener func(State)) Option {
	return func(s *Session) { s.stateListener = listener }
}

// WithMetrics attaches engine instruments to the session.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *Session) { s.metrics = metrics }
}

// Session is the caller-facing facade over the dispatch and conflation
// engine. It implements wire.EventHandler so the connection can feed events
// straight into the dispatcher.
type Session struct {
	cfg  config.SessionConfig
	conn wire.Connection

	registry   *Registry
	dispatcher *Dispatcher
	interner   *subscription.Interner
	engine     *subscription.Engine
	subs       *subscription.Manager
	metrics    *telemetry.Metrics

	state         atomic.Int32
	startCalled   atomic.Bool
	stateListener func(State)

	started       chan struct{}
	startupFailed chan struct{}
	stopOnce      sync.Once
}

// New builds a session over the connection. The connection must deliver its
// events to this session's ProcessEvent.
func New(cfg config.SessionConfig, conn wire.Connection, opts ...Option) *Session {
	s := &Session{
		cfg:           cfg,
		conn:          conn,
		registry:      NewRegistry(),
		dispatcher:    nil,
		interner:      subscription.NewInterner(),
		engine:        nil,
		subs:          nil,
		metrics:       nil,
		state:         atomic.Int32{},
		startCalled:   atomic.Bool{},
		stateListener: nil,
		started:       make(chan struct{}),
		startupFailed: make(chan struct{}),
		stopOnce:      sync.Once{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine = subscription.NewEngine(s.interner, cfg.QueueSize, s.metrics)
	s.subs = subscription.NewManager(conn, s.engine, func() bool { return s.State().Usable() })
	s.dispatcher = NewDispatcher(s.registry, s.engine, s.metrics,
		s.applyState,
		func() { close(s.started) },
		func() { close(s.startupFailed) },
	)
	s.state.Store(int32(StateNew))
	return s
}

// ProcessEvent implements wire.EventHandler.
func (s *Session) ProcessEvent(evt wire.Event) error {
	return s.dispatcher.ProcessEvent(evt)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) applyState(state State) {
	s.state.Store(int32(state))
	if s.stateListener != nil {
		s.stateListener(state)
	}
}

// Start launches the conflation engine, waits for the daemon's started
// signal, and opens the configured services. Valid exactly once. The daemon
// may deliver its started status before Start runs; the one-shot channels
// make the wait below immediate in that case.
func (s *Session) Start(ctx context.Context) error {
	if !s.startCalled.CompareAndSwap(false, true) {
		return errs.New("session", errs.CodeInvalidState,
			errs.WithMessage(fmt.Sprintf("start from %s", s.State())))
	}
	if s.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) && s.stateListener != nil {
		s.stateListener(StateStarting)
	}
	s.engine.Start()

	select {
	case <-s.started:
	case <-s.startupFailed:
		return errs.New("session", errs.CodeUnavailable,
			errs.WithMessage("session startup failed"))
	case <-ctx.Done():
		return fmt.Errorf("await session start: %w", ctx.Err())
	}

	for _, service := range []string{s.cfg.ReferenceService, s.cfg.MarketDataService} {
		if service == "" {
			continue
		}
		opened, err := s.conn.OpenService(ctx, service)
		if err != nil {
			return fmt.Errorf("open service %s: %w", service, err)
		}
		if !opened {
			return errs.New("session", errs.CodeUnavailable,
				errs.WithMessage(fmt.Sprintf("service %s not opened", service)))
		}
	}
	return nil
}

// Stop terminates the session: pending callers are released with a
// cancellation error, the conflation engine halts, and the connection closes.
func (s *Session) Stop(ctx context.Context) error {
	var closeErr error
	s.stopOnce.Do(func() {
		s.applyState(StateTerminated)
		stopErr := errs.New("session", errs.CodeCancelled,
			errs.WithMessage("session stopped"))
		for _, acc := range s.registry.Drain() {
			acc.Fail(stopErr)
		}
		s.engine.Stop()
		closeErr = s.conn.Close(ctx)
	})
	if closeErr != nil {
		return fmt.Errorf("close connection: %w", closeErr)
	}
	return nil
}

// Submit registers a fresh correlation and hands the request to the
// connection. The returned handle blocks on the terminal response.
func (s *Session) Submit(ctx context.Context, req wire.Request, kind result.Kind) (*Pending, error) {
	if !s.State().Usable() {
		return nil, errs.New("session", errs.CodeInvalidState,
			errs.WithMessage(fmt.Sprintf("submit while %s", s.State())))
	}
	corr := wire.NewCorrelationID()
	acc := NewAccumulator(corr, kind)
	s.registry.Register(corr, acc)
	if err := s.conn.SendRequest(ctx, req, corr); err != nil {
		s.registry.Remove(corr)
		return nil, fmt.Errorf("send request: %w", err)
	}
	return &Pending{session: s, acc: acc, cancelOnce: sync.Once{}}, nil
}

// Subscribe issues the subscription batches. It blocks until the batches are
// handed to the connection, not until data arrives.
func (s *Session) Subscribe(ctx context.Context, spec subscription.Spec) error {
	return s.subs.Subscribe(ctx, spec)
}

// Subscriptions exposes the subscription manager, mainly so transports can
// restore active entries after a reconnect.
func (s *Session) Subscriptions() *subscription.Manager { return s.subs }

// DefaultTimeout returns the configured result-wait timeout.
func (s *Session) DefaultTimeout() time.Duration { return s.cfg.DefaultTimeout }

// Pending is the caller's handle on one in-flight request.
type Pending struct {
	session    *Session
	acc        *Accumulator
	cancelOnce sync.Once
}

// Correlation returns the request's correlation id.
func (p *Pending) Correlation() wire.CorrelationID { return p.acc.Correlation() }

// Result blocks until the terminal response arrives and returns the parsed
// table. Context cancellation translates into a cancellation-class error and
// also cancels the underlying request; a deadline surfaces a timeout error
// and leaves the request in flight.
func (p *Pending) Result(ctx context.Context) (*result.Table, error) {
	table, err := p.acc.Result(ctx)
	if err != nil && errs.IsCancelled(err) {
		p.cancelUnderlying()
	}
	return table, err
}

// ResultTimeout is the timeout-bounded variant of Result.
func (p *Pending) ResultTimeout(d time.Duration) (*result.Table, error) {
	return p.acc.ResultTimeout(d)
}

// Cancel aborts the request: waiters are released with a cancellation error
// and the connection-level operation is cancelled.
func (p *Pending) Cancel() {
	p.acc.Fail(errs.New("session", errs.CodeCancelled,
		errs.WithMessage("request cancelled"),
		errs.WithCorrelation(p.acc.Correlation().String())))
	p.cancelUnderlying()
}

func (p *Pending) cancelUnderlying() {
	p.cancelOnce.Do(func() {
		corr := p.acc.Correlation()
		p.session.registry.Remove(corr)
		if err := p.session.conn.Cancel(context.Background(), corr); err != nil {
			// Cancellation is best-effort once the caller has been released.
			_ = err
		}
	})
}
