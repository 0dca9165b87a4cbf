package decode

// Record is an ordered string-keyed mapping of decoded values. Iteration
// order follows wire field order, which Go maps cannot guarantee on their
// own.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{keys: nil, values: make(map[string]any)}
}

func (r *Record) put(key string, value any) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Len returns the number of entries.
func (r *Record) Len() int { return len(r.keys) }
