package subscription

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/observability"
	"github.com/tidewire/tidewire/internal/telemetry"
	"github.com/tidewire/tidewire/internal/wire"
)

// Engine drains the subscription queue on a single dedicated goroutine,
// conflates repeated identical values per (correlation, field) key, and fans
// changed values out to the registered listeners. The single consumer is what
// guarantees per-key delivery order.
type Engine struct {
	interner  *Interner
	queue     chan Entry
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
	metrics   *telemetry.Metrics

	mu             sync.Mutex
	listeners      map[*EventsKey]map[DataListener]struct{}
	last           map[*EventsKey]any
	errorListeners map[wire.CorrelationID]ErrorListener
	securities     map[wire.CorrelationID]string
	onFailure      func(corr wire.CorrelationID, security string)
}

// NewEngine constructs a conflation engine with the given queue depth.
func NewEngine(interner *Interner, queueSize int, metrics *telemetry.Metrics) *Engine {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if interner == nil {
		interner = NewInterner()
	}
	return &Engine{
		interner:       interner,
		queue:          make(chan Entry, queueSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		startOnce:      sync.Once{},
		stopOnce:       sync.Once{},
		running:        atomic.Bool{},
		metrics:        metrics,
		mu:             sync.Mutex{},
		listeners:      make(map[*EventsKey]map[DataListener]struct{}),
		last:           make(map[*EventsKey]any),
		errorListeners: make(map[wire.CorrelationID]ErrorListener),
		securities:     make(map[wire.CorrelationID]string),
		onFailure:      nil,
	}
}

// SetFailureHook registers the callback invoked on the dispatch goroutine
// when an unrecoverable subscription failure purges a correlation.
func (e *Engine) SetFailureHook(fn func(corr wire.CorrelationID, security string)) {
	e.mu.Lock()
	e.onFailure = fn
	e.mu.Unlock()
}

// Start launches the dispatch goroutine. Subsequent calls are no-ops.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.running.Store(true)
		go e.run()
	})
}

// Stop halts dispatch and waits for the goroutine to exit. Entries still
// queued are discarded; no listener fires after Stop returns.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	if e.running.Load() {
		<-e.done
	}
}

// Enqueue blocks until the entry is queued or the engine has stopped.
func (e *Engine) Enqueue(entry Entry) error {
	select {
	case <-e.stop:
		return errs.New("subscription/engine", errs.CodeUnavailable,
			errs.WithMessage("engine stopped"),
			errs.WithCorrelation(entry.Correlation.String()))
	case e.queue <- entry:
		e.metrics.QueueDepthAdd(context.Background(), 1)
		return nil
	}
}

// Track associates a correlation with its security so data events and errors
// carry the originating security for context.
func (e *Engine) Track(corr wire.CorrelationID, security string) {
	e.mu.Lock()
	e.securities[corr] = security
	e.mu.Unlock()
}

// Register subscribes a listener to value changes for (correlation, field).
// Registration is idempotent per listener identity.
func (e *Engine) Register(corr wire.CorrelationID, field string, listener DataListener) *EventsKey {
	key := e.interner.Intern(corr, field)
	if listener == nil {
		return key
	}
	e.mu.Lock()
	set, ok := e.listeners[key]
	if !ok {
		set = make(map[DataListener]struct{})
		e.listeners[key] = set
	}
	set[listener] = struct{}{}
	e.mu.Unlock()
	return key
}

// RegisterErrorListener sets the error listener for a correlation.
func (e *Engine) RegisterErrorListener(corr wire.CorrelationID, listener ErrorListener) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	e.errorListeners[corr] = listener
	e.mu.Unlock()
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case entry := <-e.queue:
			e.metrics.QueueDepthAdd(context.Background(), -1)
			e.process(entry)
		}
	}
}

func (e *Engine) process(entry Entry) {
	if entry.Err != nil {
		e.processError(entry.Correlation, *entry.Err)
		return
	}
	for field, value := range entry.Values {
		e.processUpdate(entry.Correlation, field, value)
	}
}

func (e *Engine) processUpdate(corr wire.CorrelationID, field string, value any) {
	key := e.interner.Intern(corr, field)

	e.mu.Lock()
	set := e.listeners[key]
	if len(set) == 0 {
		e.mu.Unlock()
		return
	}
	old, known := e.last[key]
	if known && reflect.DeepEqual(old, value) {
		e.mu.Unlock()
		e.metrics.UpdateSuppressed(context.Background())
		return
	}
	e.last[key] = value
	security := e.securities[corr]
	targets := make([]DataListener, 0, len(set))
	for listener := range set {
		targets = append(targets, listener)
	}
	e.mu.Unlock()

	var oldValue any
	if known {
		oldValue = old
	}
	evt := DataEvent{
		Correlation: corr,
		Security:    security,
		Field:       key.Field,
		Old:         oldValue,
		New:         value,
	}

	start := time.Now()
	if len(targets) == 1 {
		e.deliver(targets[0], evt)
	} else {
		p := pool.New().WithMaxGoroutines(len(targets))
		for _, listener := range targets {
			l := listener
			p.Go(func() { e.deliver(l, evt) })
		}
		p.Wait()
	}
	e.metrics.FanoutObserved(context.Background(), time.Since(start), len(targets))
}

func (e *Engine) deliver(listener DataListener, evt DataEvent) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("data listener panic",
				observability.Field{Key: "correlation", Value: evt.Correlation.String()},
				observability.Field{Key: "field", Value: evt.Field},
				observability.Field{Key: "panic", Value: r},
			)
		}
	}()
	listener.OnDataChange(evt)
}

func (e *Engine) processError(corr wire.CorrelationID, subErr Error) {
	e.mu.Lock()
	listener := e.errorListeners[corr]
	security := e.securities[corr]
	e.mu.Unlock()

	if subErr.Security == "" {
		subErr.Security = security
	}
	if listener != nil {
		listener.OnSubscriptionError(subErr)
	}
	if !subErr.Failure {
		return
	}

	e.mu.Lock()
	hook := e.onFailure
	delete(e.errorListeners, corr)
	delete(e.securities, corr)
	for key := range e.listeners {
		if key.Correlation == corr {
			delete(e.listeners, key)
		}
	}
	for key := range e.last {
		if key.Correlation == corr {
			delete(e.last, key)
		}
	}
	e.mu.Unlock()

	if hook != nil {
		hook(corr, subErr.Security)
	}
}
