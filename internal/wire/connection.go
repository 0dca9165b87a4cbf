package wire

import (
	"context"
	"time"
)

// Request is the opaque outbound query assembled by a request builder. The
// session layer only needs the target service and operation; the connection
// owns the encoding of the body.
type Request interface {
	Service() string
	Operation() string
	Body() *Element
}

// SubscriptionEntry describes one security within a subscription batch.
type SubscriptionEntry struct {
	Correlation CorrelationID
	Security    string
	Fields      []string
	Throttle    time.Duration
}

// EventHandler receives every inbound event from the connection. Invoked
// possibly concurrently from multiple connection threads; a returned error
// must be surfaced by the connection, not swallowed.
type EventHandler interface {
	ProcessEvent(evt Event) error
}

// Connection is the black-box daemon link. Requests and subscriptions are
// fire-and-forget; responses arrive later through the EventHandler.
type Connection interface {
	OpenService(ctx context.Context, service string) (bool, error)
	SendRequest(ctx context.Context, req Request, corr CorrelationID) error
	Subscribe(ctx context.Context, entries []SubscriptionEntry) error
	Resubscribe(ctx context.Context, entries []SubscriptionEntry) error
	Cancel(ctx context.Context, corr CorrelationID) error
	Close(ctx context.Context) error
}
