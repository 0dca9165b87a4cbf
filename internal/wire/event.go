package wire

import "fmt"

// EventKind classifies an event delivered by the connection.
type EventKind int

const (
	// KindUnknown marks events outside the recognized vocabulary.
	KindUnknown EventKind = iota
	// KindSessionStatus carries session lifecycle transitions.
	KindSessionStatus
	// KindServiceStatus carries service open/close notifications.
	KindServiceStatus
	// KindAdmin carries administrative notices such as slow-consumer warnings.
	KindAdmin
	// KindPartialResponse carries a non-terminal fragment of a request response.
	KindPartialResponse
	// KindResponse carries the terminal fragment of a request response.
	KindResponse
	// KindRequestStatus carries terminal request-level status (e.g. failure).
	KindRequestStatus
	// KindAuthorizationStatus carries terminal authorization outcomes.
	KindAuthorizationStatus
	// KindSubscriptionData carries real-time field updates for a subscription.
	KindSubscriptionData
	// KindSubscriptionStatus carries subscription lifecycle and error notices.
	KindSubscriptionStatus
	// KindTimeout is emitted by the connection when its event queue idles.
	KindTimeout
)

func (k EventKind) String() string {
	switch k {
	case KindSessionStatus:
		return "SESSION_STATUS"
	case KindServiceStatus:
		return "SERVICE_STATUS"
	case KindAdmin:
		return "ADMIN"
	case KindPartialResponse:
		return "PARTIAL_RESPONSE"
	case KindResponse:
		return "RESPONSE"
	case KindRequestStatus:
		return "REQUEST_STATUS"
	case KindAuthorizationStatus:
		return "AUTHORIZATION_STATUS"
	case KindSubscriptionData:
		return "SUBSCRIPTION_DATA"
	case KindSubscriptionStatus:
		return "SUBSCRIPTION_STATUS"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

// Terminal reports whether the event kind seals the correlations it carries.
func (k EventKind) Terminal() bool {
	switch k {
	case KindResponse, KindRequestStatus, KindAuthorizationStatus:
		return true
	default:
		return false
	}
}

// Message is one unit within an event: a type name (response shape or status
// vocabulary word), the correlation it belongs to, and the element tree for
// data-bearing messages.
type Message struct {
	Correlation CorrelationID
	Type        string
	Body        *Element
}

// Element returns the named top-level element of the message body.
func (m Message) Element(name string) (*Element, bool) {
	return m.Body.Lookup(name)
}

// Event is the unit the connection hands to the dispatcher: a classification
// tag plus an ordered sequence of messages.
type Event struct {
	Kind     EventKind
	Messages []Message
}
