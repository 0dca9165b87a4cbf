// Package result holds decoded query results and the closed set of response
// shapes the session can parse.
package result

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidewire/tidewire/internal/decode"
)

// SecurityError records a partial failure scoped to one security.
type SecurityError struct {
	Security string
	Category string
	Message  string
}

// FieldError records a per-field exception within an otherwise valid security.
type FieldError struct {
	Security string
	Field    string
	Category string
	Message  string
}

type rowKey struct {
	security string
	field    string
	date     string
}

// Table is the decoded result of one request: values keyed by
// (security, field, optional date), plus security-level and field-level error
// sets. It is mutated only by the owning accumulator during its single parse
// pass and is read-only to callers thereafter, so access needs no locking.
type Table struct {
	values         map[rowKey][]any
	order          []rowKey
	securityErrors []SecurityError
	fieldErrors    []FieldError
}

// NewTable returns an empty result table.
func NewTable() *Table {
	return &Table{
		values:         make(map[rowKey][]any),
		order:          nil,
		securityErrors: nil,
		fieldErrors:    nil,
	}
}

// Add appends a decoded value for (security, field) in arrival order.
func (t *Table) Add(security, field string, value any) {
	t.add(rowKey{security: security, field: field, date: ""}, value)
}

// AddDated appends a decoded value for (security, field, date).
func (t *Table) AddDated(security, field string, date decode.Date, value any) {
	t.add(rowKey{security: security, field: field, date: date.String()}, value)
}

func (t *Table) add(key rowKey, value any) {
	if _, exists := t.values[key]; !exists {
		t.order = append(t.order, key)
	}
	t.values[key] = append(t.values[key], value)
}

// Values returns every value recorded for (security, field), in arrival order.
func (t *Table) Values(security, field string) []any {
	return t.values[rowKey{security: security, field: field, date: ""}]
}

// Get returns the first value recorded for (security, field).
func (t *Table) Get(security, field string) (any, bool) {
	vs := t.Values(security, field)
	if len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

// GetDated returns the first value recorded for (security, field, date).
func (t *Table) GetDated(security, field string, date decode.Date) (any, bool) {
	vs := t.values[rowKey{security: security, field: field, date: date.String()}]
	if len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

// Float64 returns the value for (security, field) as a float64.
func (t *Table) Float64(security, field string) (float64, bool) {
	v, ok := t.Get(security, field)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	default:
		return 0, false
	}
}

// Decimal returns the value for (security, field) as a decimal.
func (t *Table) Decimal(security, field string) (decimal.Decimal, bool) {
	v, ok := t.Get(security, field)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, ok := v.(decimal.Decimal)
	return d, ok
}

// String returns the value for (security, field) as a string.
func (t *Table) String(security, field string) (string, bool) {
	v, ok := t.Get(security, field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Time returns the value for (security, field) as a timestamp.
func (t *Table) Time(security, field string) (time.Time, bool) {
	v, ok := t.Get(security, field)
	if !ok {
		return time.Time{}, false
	}
	ts, ok := v.(time.Time)
	return ts, ok
}

// Len returns the number of distinct (security, field, date) rows.
func (t *Table) Len() int { return len(t.order) }

// AddSecurityError records a security-scoped partial failure.
func (t *Table) AddSecurityError(err SecurityError) {
	t.securityErrors = append(t.securityErrors, err)
}

// HasSecurityErrors reports whether any security failed.
func (t *Table) HasSecurityErrors() bool { return len(t.securityErrors) > 0 }

// SecurityErrors returns the recorded security failures.
func (t *Table) SecurityErrors() []SecurityError { return t.securityErrors }

// SecurityFailed reports whether the given security has a recorded error.
func (t *Table) SecurityFailed(security string) bool {
	for _, e := range t.securityErrors {
		if e.Security == security {
			return true
		}
	}
	return false
}

// AddFieldError records a field-scoped exception.
func (t *Table) AddFieldError(err FieldError) {
	t.fieldErrors = append(t.fieldErrors, err)
}

// HasFieldErrors reports whether any field exception was recorded.
func (t *Table) HasFieldErrors() bool { return len(t.fieldErrors) > 0 }

// FieldErrors returns the recorded field exceptions.
func (t *Table) FieldErrors() []FieldError { return t.fieldErrors }
