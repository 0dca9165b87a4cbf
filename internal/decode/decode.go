// Package decode converts wire element trees into host values.
package decode

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidewire/tidewire/internal/wire"
)

// Date is a calendar date without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// TimeOfDay is a time without a date component. Offset is seconds east of
// UTC; values arriving without zone information default to UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
	Nanos  int
	Offset int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Value converts a single wire element into the most specific host value.
// Well-formed input never fails; malformed payloads surface as the textual
// fallback rather than an error.
func Value(el *wire.Element) any {
	if el.IsNull() {
		return nil
	}
	switch el.Type {
	case wire.TypeBool:
		if v, ok := el.Value.(bool); ok {
			return v
		}
	case wire.TypeChar:
		switch v := el.Value.(type) {
		case rune:
			return v
		case string:
			if v != "" {
				return []rune(v)[0]
			}
		}
	case wire.TypeInt32:
		if v, ok := asInt64(el.Value); ok {
			return int32(v)
		}
	case wire.TypeInt64:
		if v, ok := asInt64(el.Value); ok {
			return v
		}
	case wire.TypeFloat32:
		if v, ok := asFloat64(el.Value); ok {
			return float32(v)
		}
	case wire.TypeFloat64:
		if v, ok := asFloat64(el.Value); ok {
			return v
		}
	case wire.TypeDecimal:
		if v, ok := el.Value.(decimal.Decimal); ok {
			return v
		}
		if v, err := decimal.NewFromString(el.Text()); err == nil {
			return v
		}
	case wire.TypeString, wire.TypeEnumeration:
		return el.Text()
	case wire.TypeDate:
		if dt, ok := el.Value.(wire.Datetime); ok {
			return Date{Year: dt.Year, Month: dt.Month, Day: dt.Day}
		}
	case wire.TypeTime:
		if dt, ok := el.Value.(wire.Datetime); ok {
			return timeOfDay(dt)
		}
	case wire.TypeDatetime:
		if dt, ok := el.Value.(wire.Datetime); ok {
			// Some upstream fields are typed DATETIME but carry no date part;
			// degrade to a time-of-day value instead of fabricating a date.
			if !dt.HasDate {
				return timeOfDay(dt)
			}
			return timestamp(dt)
		}
	case wire.TypeArray:
		out := make([]any, 0, len(el.Children))
		for _, child := range el.Children {
			out = append(out, Value(child))
		}
		return out
	case wire.TypeSequence, wire.TypeChoice:
		record := NewRecord()
		for _, child := range el.Children {
			record.put(child.Name, Value(child))
		}
		return record
	}
	return el.Text()
}

// Flatten decodes the non-null top-level children of a message body into a
// flat name→value map, the shape queued for subscription data entries.
func Flatten(body *wire.Element) map[string]any {
	children := body.Elements()
	out := make(map[string]any, len(children))
	for _, child := range children {
		if child == nil || child.IsNull() {
			continue
		}
		out[child.Name] = Value(child)
	}
	return out
}

func timeOfDay(dt wire.Datetime) TimeOfDay {
	offset := 0
	if dt.Offset != nil {
		offset = *dt.Offset
	}
	return TimeOfDay{
		Hour:   dt.Hour,
		Minute: dt.Minute,
		Second: dt.Second,
		Nanos:  dt.Nanos,
		Offset: offset,
	}
}

func timestamp(dt wire.Datetime) time.Time {
	loc := time.UTC
	if dt.Offset != nil && *dt.Offset != 0 {
		loc = time.FixedZone("", *dt.Offset)
	}
	return time.Date(dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute, dt.Second, dt.Nanos, loc)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
