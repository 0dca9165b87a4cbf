package wire

import "github.com/google/uuid"

// CorrelationID is the opaque token linking an outbound request or
// subscription to its inbound events. Minted once at submission time and
// compared by value everywhere.
type CorrelationID string

// NewCorrelationID mints a fresh unique correlation identifier.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

func (c CorrelationID) String() string { return string(c) }
