package subscription

import (
	"time"

	"github.com/tidewire/tidewire/internal/wire"
)

// DataEvent notifies a listener that a subscribed field changed value. Old is
// nil on the first delivery for a key. Security identifies the originating
// subscription for context and plays no part in conflation.
type DataEvent struct {
	Correlation wire.CorrelationID
	Security    string
	Field       string
	Old         any
	New         any
}

// DataListener receives value-change notifications on the conflation thread.
// Implementations must be cheap or hand off; they block the dispatch loop.
// Registration dedupes by listener identity, so implementations must be
// comparable (use a pointer receiver, not a func type).
type DataListener interface {
	OnDataChange(evt DataEvent)
}

// Error describes an out-of-band subscription problem. Failure marks the
// unrecoverable class that terminates tracking for the security.
type Error struct {
	Correlation wire.CorrelationID
	Security    string
	Status      string
	Code        int64
	Category    string
	Description string
	Failure     bool
}

// ErrorListener receives subscription errors on the conflation thread.
type ErrorListener interface {
	OnSubscriptionError(err Error)
}

// Entry is one unit queued between the dispatcher and the conflation engine:
// either a flattened data record or a subscription error.
type Entry struct {
	Correlation wire.CorrelationID
	Values      map[string]any
	Err         *Error
}

// Spec describes one subscribe call: the requested securities, the fields to
// watch, the listeners to notify, and the delivery throttle.
type Spec struct {
	Securities    []string
	Fields        []string
	Listeners     []DataListener
	ErrorListener ErrorListener
	Throttle      time.Duration
}
