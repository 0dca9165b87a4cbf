// Package transport implements the wire.Connection contract over a websocket
// link to the local communication daemon.
package transport

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tidewire/tidewire/internal/wire"
)

// frame is the JSON envelope exchanged with the daemon.
type frame struct {
	Op          string      `json:"op"`
	ID          uint64      `json:"id,omitempty"`
	OK          bool        `json:"ok,omitempty"`
	Service     string      `json:"service,omitempty"`
	Operation   string      `json:"operation,omitempty"`
	Correlation string      `json:"correlation,omitempty"`
	Body        *element    `json:"body,omitempty"`
	Entries     []entry     `json:"entries,omitempty"`
	Event       *eventFrame `json:"event,omitempty"`
}

const (
	opOpenService = "open_service"
	opAck         = "ack"
	opRequest     = "request"
	opSubscribe   = "subscribe"
	opResubscribe = "resubscribe"
	opCancel      = "cancel"
	opEvent       = "event"
)

type entry struct {
	Correlation string   `json:"correlation"`
	Security    string   `json:"security"`
	Fields      []string `json:"fields"`
	ThrottleMS  int64    `json:"throttleMs,omitempty"`
}

type eventFrame struct {
	Kind     string         `json:"kind"`
	Messages []messageFrame `json:"messages"`
}

type messageFrame struct {
	Correlation string   `json:"correlation"`
	Type        string   `json:"type"`
	Body        *element `json:"body,omitempty"`
}

type element struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Value    any        `json:"value,omitempty"`
	Datetime *timestamp `json:"datetime,omitempty"`
	Children []*element `json:"children,omitempty"`
}

// timestamp carries date/time payloads: date as 2006-01-02, time as
// 15:04:05.999999999, offset in seconds east of UTC when present.
type timestamp struct {
	Date   string `json:"date,omitempty"`
	Time   string `json:"time,omitempty"`
	Offset *int   `json:"offset,omitempty"`
}

var kindNames = map[string]wire.EventKind{
	"SESSION_STATUS":       wire.KindSessionStatus,
	"SERVICE_STATUS":       wire.KindServiceStatus,
	"ADMIN":                wire.KindAdmin,
	"PARTIAL_RESPONSE":     wire.KindPartialResponse,
	"RESPONSE":             wire.KindResponse,
	"REQUEST_STATUS":       wire.KindRequestStatus,
	"AUTHORIZATION_STATUS": wire.KindAuthorizationStatus,
	"SUBSCRIPTION_DATA":    wire.KindSubscriptionData,
	"SUBSCRIPTION_STATUS":  wire.KindSubscriptionStatus,
	"TIMEOUT":              wire.KindTimeout,
}

var datatypeNames = map[string]wire.Datatype{
	"NULL":        wire.TypeNull,
	"BOOL":        wire.TypeBool,
	"CHAR":        wire.TypeChar,
	"INT32":       wire.TypeInt32,
	"INT64":       wire.TypeInt64,
	"FLOAT32":     wire.TypeFloat32,
	"FLOAT64":     wire.TypeFloat64,
	"DECIMAL":     wire.TypeDecimal,
	"STRING":      wire.TypeString,
	"DATE":        wire.TypeDate,
	"TIME":        wire.TypeTime,
	"DATETIME":    wire.TypeDatetime,
	"ENUMERATION": wire.TypeEnumeration,
	"SEQUENCE":    wire.TypeSequence,
	"CHOICE":      wire.TypeChoice,
	"ARRAY":       wire.TypeArray,
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	return f, nil
}

func encodeFrame(f frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

func toWireEvent(ef *eventFrame) wire.Event {
	if ef == nil {
		return wire.Event{Kind: wire.KindUnknown, Messages: nil}
	}
	kind, ok := kindNames[ef.Kind]
	if !ok {
		kind = wire.KindUnknown
	}
	messages := make([]wire.Message, 0, len(ef.Messages))
	for _, mf := range ef.Messages {
		messages = append(messages, wire.Message{
			Correlation: wire.CorrelationID(mf.Correlation),
			Type:        mf.Type,
			Body:        toWireElement(mf.Body),
		})
	}
	return wire.Event{Kind: kind, Messages: messages}
}

func toWireElement(el *element) *wire.Element {
	if el == nil {
		return nil
	}
	typ, ok := datatypeNames[el.Type]
	if !ok {
		typ = wire.TypeString
	}
	out := &wire.Element{Name: el.Name, Type: typ, Value: nil, Children: nil}
	switch typ {
	case wire.TypeSequence, wire.TypeChoice, wire.TypeArray:
		out.Children = make([]*wire.Element, 0, len(el.Children))
		for _, child := range el.Children {
			out.Children = append(out.Children, toWireElement(child))
		}
	case wire.TypeDate, wire.TypeTime, wire.TypeDatetime:
		out.Value = toWireDatetime(el.Datetime)
	case wire.TypeInt32, wire.TypeInt64:
		if n, isNum := el.Value.(float64); isNum {
			out.Value = int64(n)
			if typ == wire.TypeInt32 {
				out.Value = int32(n)
			}
		}
	case wire.TypeFloat32:
		if n, isNum := el.Value.(float64); isNum {
			out.Value = float32(n)
		}
	default:
		out.Value = el.Value
	}
	return out
}

func toWireDatetime(ts *timestamp) wire.Datetime {
	dt := wire.Datetime{
		HasDate: false, HasTime: false,
		Year: 0, Month: 0, Day: 0,
		Hour: 0, Minute: 0, Second: 0, Nanos: 0,
		Offset: nil,
	}
	if ts == nil {
		return dt
	}
	if ts.Date != "" {
		if parsed, err := time.Parse("2006-01-02", ts.Date); err == nil {
			dt.HasDate = true
			dt.Year, dt.Month, dt.Day = parsed.Year(), parsed.Month(), parsed.Day()
		}
	}
	if ts.Time != "" {
		if parsed, err := time.Parse("15:04:05.999999999", ts.Time); err == nil {
			dt.HasTime = true
			dt.Hour, dt.Minute, dt.Second = parsed.Hour(), parsed.Minute(), parsed.Second()
			dt.Nanos = parsed.Nanosecond()
		}
	}
	dt.Offset = ts.Offset
	return dt
}

func fromWireElement(el *wire.Element) *element {
	if el == nil {
		return nil
	}
	out := &element{
		Name:     el.Name,
		Type:     el.Type.String(),
		Value:    nil,
		Datetime: nil,
		Children: nil,
	}
	switch el.Type {
	case wire.TypeSequence, wire.TypeChoice, wire.TypeArray:
		for _, child := range el.Children {
			out.Children = append(out.Children, fromWireElement(child))
		}
	case wire.TypeDate, wire.TypeTime, wire.TypeDatetime:
		if dt, ok := el.Value.(wire.Datetime); ok {
			out.Datetime = fromWireDatetime(dt)
		}
	default:
		out.Value = el.Value
	}
	return out
}

func fromWireDatetime(dt wire.Datetime) *timestamp {
	ts := &timestamp{Date: "", Time: "", Offset: dt.Offset}
	if dt.HasDate {
		ts.Date = fmt.Sprintf("%04d-%02d-%02d", dt.Year, int(dt.Month), dt.Day)
	}
	if dt.HasTime {
		ts.Time = time.Date(0, 1, 1, dt.Hour, dt.Minute, dt.Second, dt.Nanos, time.UTC).
			Format("15:04:05.999999999")
	}
	return ts
}

func toEntries(entries []wire.SubscriptionEntry) []entry {
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{
			Correlation: e.Correlation.String(),
			Security:    e.Security,
			Fields:      e.Fields,
			ThrottleMS:  e.Throttle.Milliseconds(),
		})
	}
	return out
}
