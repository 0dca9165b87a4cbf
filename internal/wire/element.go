// Package wire defines the abstract boundary to the market-data daemon: typed
// element trees, events, messages, correlation identifiers, and the connection
// contract. The session engine consumes this shape and never sees the actual
// wire encoding.
package wire

import (
	"fmt"
	"time"
)

// Datatype tags the payload carried by an element.
type Datatype int

const (
	// TypeNull marks an element with no value.
	TypeNull Datatype = iota
	// TypeBool carries a boolean.
	TypeBool
	// TypeChar carries a single character.
	TypeChar
	// TypeInt32 carries a 32-bit integer.
	TypeInt32
	// TypeInt64 carries a 64-bit integer.
	TypeInt64
	// TypeFloat32 carries a 32-bit float.
	TypeFloat32
	// TypeFloat64 carries a 64-bit float.
	TypeFloat64
	// TypeDecimal carries an exact decimal rendered as its string form.
	TypeDecimal
	// TypeString carries a string.
	TypeString
	// TypeDate carries a calendar date without a time component.
	TypeDate
	// TypeTime carries a time of day without a date component.
	TypeTime
	// TypeDatetime carries a combined date and time.
	TypeDatetime
	// TypeEnumeration carries a named enumeration constant rendered as a string.
	TypeEnumeration
	// TypeSequence carries an ordered record of named child elements.
	TypeSequence
	// TypeChoice carries exactly one selected child element.
	TypeChoice
	// TypeArray carries an ordered list of homogeneous child elements.
	TypeArray
)

func (d Datatype) String() string {
	switch d {
	case TypeNull:
		return "NULL"
	case TypeBool:
		return "BOOL"
	case TypeChar:
		return "CHAR"
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeFloat32:
		return "FLOAT32"
	case TypeFloat64:
		return "FLOAT64"
	case TypeDecimal:
		return "DECIMAL"
	case TypeString:
		return "STRING"
	case TypeDate:
		return "DATE"
	case TypeTime:
		return "TIME"
	case TypeDatetime:
		return "DATETIME"
	case TypeEnumeration:
		return "ENUMERATION"
	case TypeSequence:
		return "SEQUENCE"
	case TypeChoice:
		return "CHOICE"
	case TypeArray:
		return "ARRAY"
	default:
		return fmt.Sprintf("DATATYPE(%d)", int(d))
	}
}

// Datetime is the wire representation of date/time payloads. The daemon may
// populate only the date part, only the time part, or both; Offset is nil when
// the value carries no zone information.
type Datetime struct {
	HasDate bool
	HasTime bool

	Year  int
	Month time.Month
	Day   int

	Hour   int
	Minute int
	Second int
	Nanos  int

	// Offset is seconds east of UTC, nil when absent.
	Offset *int
}

// Element is one node of the typed field tree attached to a message. Leaf
// elements carry Value; sequence and choice elements carry Children in wire
// order.
type Element struct {
	Name     string
	Type     Datatype
	Value    any
	Children []*Element
}

// IsNull reports whether the element is absent or carries no value.
func (e *Element) IsNull() bool {
	if e == nil {
		return true
	}
	if e.Type == TypeNull {
		return true
	}
	if e.Type == TypeSequence || e.Type == TypeChoice || e.Type == TypeArray {
		return false
	}
	return e.Value == nil
}

// Lookup returns the first child element with the given name.
func (e *Element) Lookup(name string) (*Element, bool) {
	if e == nil {
		return nil, false
	}
	for _, child := range e.Children {
		if child != nil && child.Name == name {
			return child, true
		}
	}
	return nil, false
}

// Has reports whether a child with the given name exists.
func (e *Element) Has(name string) bool {
	_, ok := e.Lookup(name)
	return ok
}

// Elements returns the children in wire order.
func (e *Element) Elements() []*Element {
	if e == nil {
		return nil
	}
	return e.Children
}

// Text renders the element's scalar payload as a string. Used as the decode
// fallback for unrecognized datatypes.
func (e *Element) Text() string {
	if e == nil || e.Value == nil {
		return ""
	}
	if s, ok := e.Value.(string); ok {
		return s
	}
	return fmt.Sprint(e.Value)
}

// Scalar builds a leaf element.
func Scalar(name string, typ Datatype, value any) *Element {
	return &Element{Name: name, Type: typ, Value: value, Children: nil}
}

// Sequence builds an ordered container element.
func Sequence(name string, children ...*Element) *Element {
	return &Element{Name: name, Type: TypeSequence, Value: nil, Children: children}
}

// Choice builds a single-selection container element.
func Choice(name string, selected *Element) *Element {
	return &Element{Name: name, Type: TypeChoice, Value: nil, Children: []*Element{selected}}
}

// Array builds an ordered list element.
func Array(name string, children ...*Element) *Element {
	return &Element{Name: name, Type: TypeArray, Value: nil, Children: children}
}
