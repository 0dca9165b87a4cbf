package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidewire/tidewire/internal/decode"
	"github.com/tidewire/tidewire/internal/observability"
	"github.com/tidewire/tidewire/internal/subscription"
	"github.com/tidewire/tidewire/internal/telemetry"
	"github.com/tidewire/tidewire/internal/wire"
)

// subscriptionActive names the subscription-status vocabulary that indicates
// a healthy subscription and therefore carries no error to report.
var subscriptionActive = map[string]struct{}{
	"SubscriptionStarted":          {},
	"SubscriptionStreamsActivated": {},
}

// subscriptionTerminal names the status vocabulary classified as an
// unrecoverable subscription failure, which purges tracking state.
var subscriptionTerminal = map[string]struct{}{
	"SubscriptionFailure":    {},
	"SubscriptionTerminated": {},
}

// Dispatcher is the single entry point for events delivered by the
// connection. It may be invoked concurrently from multiple connection
// threads; messages within one event are processed sequentially.
type Dispatcher struct {
	registry *Registry
	engine   *subscription.Engine
	metrics  *telemetry.Metrics

	setState  func(State)
	onStarted func()
	onFailure func()

	startedOnce sync.Once
	failureOnce sync.Once
}

// NewDispatcher wires the dispatcher to the registry, the conflation engine
// queue, and the lifecycle callbacks.
func NewDispatcher(registry *Registry, engine *subscription.Engine, metrics *telemetry.Metrics,
	setState func(State), onStarted, onFailure func()) *Dispatcher {
	if setState == nil {
		setState = func(State) {}
	}
	if onStarted == nil {
		onStarted = func() {}
	}
	if onFailure == nil {
		onFailure = func() {}
	}
	return &Dispatcher{
		registry:    registry,
		engine:      engine,
		metrics:     metrics,
		setState:    setState,
		onStarted:   onStarted,
		onFailure:   onFailure,
		startedOnce: sync.Once{},
		failureOnce: sync.Once{},
	}
}

// ProcessEvent classifies and routes one inbound event. Errors are logged
// before returning so the hosting connection always has visibility; they are
// never swallowed here.
func (d *Dispatcher) ProcessEvent(evt wire.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("dispatcher panic",
				observability.Field{Key: "kind", Value: evt.Kind.String()},
				observability.Field{Key: "panic", Value: r},
			)
			panic(r)
		}
		if err != nil {
			observability.Log().Error("dispatch failed",
				observability.Field{Key: "kind", Value: evt.Kind.String()},
				observability.Field{Key: "error", Value: err.Error()},
			)
		}
	}()

	d.metrics.EventDispatched(context.Background(), evt.Kind.String())

	switch evt.Kind {
	case wire.KindSessionStatus:
		d.processSessionStatus(evt)
		return nil
	case wire.KindPartialResponse:
		d.processPartialResponse(evt)
		return nil
	case wire.KindResponse, wire.KindRequestStatus, wire.KindAuthorizationStatus:
		d.processTerminalResponse(evt)
		return nil
	case wire.KindSubscriptionData:
		return d.processSubscriptionData(evt)
	case wire.KindSubscriptionStatus:
		return d.processSubscriptionStatus(evt)
	default:
		observability.Log().Debug("ignoring event",
			observability.Field{Key: "kind", Value: evt.Kind.String()},
			observability.Field{Key: "messages", Value: len(evt.Messages)},
		)
		return nil
	}
}

func (d *Dispatcher) processSessionStatus(evt wire.Event) {
	for _, msg := range evt.Messages {
		state, known := lifecycleStates[msg.Type]
		if !known {
			observability.Log().Debug("unknown session status",
				observability.Field{Key: "status", Value: msg.Type})
			continue
		}
		switch state {
		case StateStarted:
			d.startedOnce.Do(d.onStarted)
		case StateStartupFailure:
			d.failureOnce.Do(d.onFailure)
		}
		d.setState(state)
	}
}

func (d *Dispatcher) processPartialResponse(evt wire.Event) {
	for _, msg := range evt.Messages {
		d.appendMessage(msg)
	}
}

// processTerminalResponse appends each message, then removes and seals every
// correlation seen in the event. Removal happens exactly once per id even if
// terminal messages are fragmented across events: the registry remove is
// atomic, and a second event simply finds nothing to seal.
func (d *Dispatcher) processTerminalResponse(evt wire.Event) {
	seen := make(map[wire.CorrelationID]struct{}, len(evt.Messages))
	for _, msg := range evt.Messages {
		d.appendMessage(msg)
		seen[msg.Correlation] = struct{}{}
	}
	for corr := range seen {
		acc, ok := d.registry.Remove(corr)
		if !ok {
			continue
		}
		if err := acc.Seal(); err != nil {
			observability.Log().Error("seal failed",
				observability.Field{Key: "correlation", Value: corr.String()},
				observability.Field{Key: "error", Value: err.Error()},
			)
		}
	}
}

// appendMessage routes one response message to its pending accumulator.
// Unmatched correlations are dropped: the request may have completed or been
// cancelled already.
func (d *Dispatcher) appendMessage(msg wire.Message) {
	acc, ok := d.registry.Lookup(msg.Correlation)
	if !ok {
		d.metrics.MessageDropped(context.Background())
		observability.Log().Debug("dropping message for unknown correlation",
			observability.Field{Key: "correlation", Value: msg.Correlation.String()},
			observability.Field{Key: "type", Value: msg.Type},
		)
		return
	}
	if err := acc.AddMessage(msg); err != nil {
		d.metrics.MessageDropped(context.Background())
		observability.Log().Debug("accumulator rejected message",
			observability.Field{Key: "correlation", Value: msg.Correlation.String()},
			observability.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	d.metrics.MessageRouted(context.Background())
}

// processSubscriptionData flattens each message's non-null fields and queues
// the record for the conflation engine. A stopped engine aborts the remaining
// messages of the event rather than dropping them silently.
func (d *Dispatcher) processSubscriptionData(evt wire.Event) error {
	for _, msg := range evt.Messages {
		entry := subscription.Entry{
			Correlation: msg.Correlation,
			Values:      decode.Flatten(msg.Body),
			Err:         nil,
		}
		if err := d.engine.Enqueue(entry); err != nil {
			return fmt.Errorf("enqueue subscription data: %w", err)
		}
	}
	return nil
}

// processSubscriptionStatus converts non-healthy status messages into
// structured subscription errors and queues them like data entries.
func (d *Dispatcher) processSubscriptionStatus(evt wire.Event) error {
	for _, msg := range evt.Messages {
		if _, active := subscriptionActive[msg.Type]; active {
			continue
		}
		subErr := buildSubscriptionError(msg)
		entry := subscription.Entry{
			Correlation: msg.Correlation,
			Values:      nil,
			Err:         &subErr,
		}
		if err := d.engine.Enqueue(entry); err != nil {
			return fmt.Errorf("enqueue subscription status: %w", err)
		}
	}
	return nil
}

// buildSubscriptionError extracts the structured reason from a status
// message, defaulting to best-effort fields when the expected shape is
// absent.
func buildSubscriptionError(msg wire.Message) subscription.Error {
	_, terminal := subscriptionTerminal[msg.Type]
	subErr := subscription.Error{
		Correlation: msg.Correlation,
		Security:    "",
		Status:      msg.Type,
		Code:        0,
		Category:    "",
		Description: msg.Type,
		Failure:     terminal,
	}
	reason, ok := msg.Element("reason")
	if !ok {
		return subErr
	}
	if el, found := reason.Lookup("errorCode"); found {
		if code, isInt := decode.Value(el).(int64); isInt {
			subErr.Code = code
		} else if code32, isInt32 := decode.Value(el).(int32); isInt32 {
			subErr.Code = int64(code32)
		}
	}
	if el, found := reason.Lookup("category"); found {
		subErr.Category = el.Text()
	}
	if el, found := reason.Lookup("description"); found {
		subErr.Description = el.Text()
	}
	if el, found := reason.Lookup("security"); found {
		subErr.Security = el.Text()
	}
	return subErr
}
