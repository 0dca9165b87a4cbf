// Package subscription tracks real-time subscriptions, conflates duplicate
// updates, and fans changed values out to registered listeners.
package subscription

import (
	"strings"
	"sync"

	"github.com/tidewire/tidewire/internal/wire"
)

// EventsKey is the canonical (correlation, field) pair used for listener
// registration and conflation. Instances are interned, so pointer identity
// comparison is valid.
type EventsKey struct {
	Correlation wire.CorrelationID
	Field       string
}

type internKey struct {
	correlation wire.CorrelationID
	field       string
}

// Interner canonicalises EventsKey instances. It is owned by the session so
// its lifetime, and therefore its growth, is bounded to one session rather
// than the whole process.
type Interner struct {
	mu   sync.Mutex
	keys map[internKey]*EventsKey
}

// NewInterner returns an empty interning table.
func NewInterner() *Interner {
	return &Interner{mu: sync.Mutex{}, keys: make(map[internKey]*EventsKey)}
}

// Intern returns the canonical EventsKey for (correlation, field), creating
// it on first use. Field mnemonics are canonicalised to upper case.
func (in *Interner) Intern(corr wire.CorrelationID, field string) *EventsKey {
	k := internKey{correlation: corr, field: CanonicalField(field)}
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.keys[k]; ok {
		return existing
	}
	key := &EventsKey{Correlation: k.correlation, Field: k.field}
	in.keys[k] = key
	return key
}

// CanonicalField normalises a field mnemonic for keying purposes.
func CanonicalField(field string) string {
	return strings.ToUpper(strings.TrimSpace(field))
}
