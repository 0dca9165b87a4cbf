package decode

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tidewire/tidewire/internal/wire"
)

func TestValueScalars(t *testing.T) {
	tests := []struct {
		name string
		el   *wire.Element
		want any
	}{
		{name: "bool", el: wire.Scalar("x", wire.TypeBool, true), want: true},
		{name: "char", el: wire.Scalar("x", wire.TypeChar, "A"), want: 'A'},
		{name: "int32", el: wire.Scalar("x", wire.TypeInt32, int32(7)), want: int32(7)},
		{name: "int64", el: wire.Scalar("x", wire.TypeInt64, int64(42)), want: int64(42)},
		{name: "float32", el: wire.Scalar("x", wire.TypeFloat32, float32(1.5)), want: float32(1.5)},
		{name: "float64", el: wire.Scalar("x", wire.TypeFloat64, 100.5), want: 100.5},
		{name: "string", el: wire.Scalar("x", wire.TypeString, "IBM US"), want: "IBM US"},
		{name: "enumeration", el: wire.Scalar("x", wire.TypeEnumeration, "TRADE"), want: "TRADE"},
		{name: "null", el: wire.Scalar("x", wire.TypeNull, nil), want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Value(tc.el))
		})
	}
}

func TestValueDecimal(t *testing.T) {
	got := Value(wire.Scalar("px", wire.TypeDecimal, "100.50"))
	d, ok := got.(decimal.Decimal)
	require.True(t, ok)
	require.True(t, d.Equal(decimal.RequireFromString("100.50")))
}

func TestValueDate(t *testing.T) {
	el := wire.Scalar("d", wire.TypeDate, wire.Datetime{
		HasDate: true, Year: 2024, Month: time.March, Day: 15,
	})
	require.Equal(t, Date{Year: 2024, Month: time.March, Day: 15}, Value(el))
}

func TestValueTimeDefaultsToUTC(t *testing.T) {
	el := wire.Scalar("t", wire.TypeTime, wire.Datetime{
		HasTime: true, Hour: 9, Minute: 30, Second: 1,
	})
	require.Equal(t, TimeOfDay{Hour: 9, Minute: 30, Second: 1, Nanos: 0, Offset: 0}, Value(el))
}

func TestValueDatetime(t *testing.T) {
	offset := 3600
	el := wire.Scalar("ts", wire.TypeDatetime, wire.Datetime{
		HasDate: true, HasTime: true,
		Year: 2024, Month: time.March, Day: 15,
		Hour: 9, Minute: 30, Second: 0,
		Offset: &offset,
	})
	got, ok := Value(el).(time.Time)
	require.True(t, ok)
	want := time.Date(2024, time.March, 15, 9, 30, 0, 0, time.FixedZone("", 3600))
	require.True(t, got.Equal(want))
}

func TestValueDatetimeWithoutDateDegradesToTime(t *testing.T) {
	el := wire.Scalar("ts", wire.TypeDatetime, wire.Datetime{
		HasTime: true, Hour: 14, Minute: 5, Second: 9,
	})
	require.Equal(t, TimeOfDay{Hour: 14, Minute: 5, Second: 9, Nanos: 0, Offset: 0}, Value(el))
}

func TestValueArray(t *testing.T) {
	el := wire.Array("xs",
		wire.Scalar("", wire.TypeInt64, int64(1)),
		wire.Scalar("", wire.TypeInt64, int64(2)),
	)
	require.Equal(t, []any{int64(1), int64(2)}, Value(el))
}

func TestValueSequencePreservesOrder(t *testing.T) {
	el := wire.Sequence("row",
		wire.Scalar("zeta", wire.TypeString, "z"),
		wire.Scalar("alpha", wire.TypeString, "a"),
		wire.Scalar("mid", wire.TypeFloat64, 10.0),
	)
	record, ok := Value(el).(*Record)
	require.True(t, ok)
	require.Equal(t, []string{"zeta", "alpha", "mid"}, record.Keys())
	v, ok := record.Get("mid")
	require.True(t, ok)
	require.Equal(t, 10.0, v)
}

func TestValueUnknownTypeFallsBackToText(t *testing.T) {
	el := wire.Scalar("x", wire.Datatype(99), 12345)
	require.Equal(t, "12345", Value(el))
}

func TestFlattenSkipsNullFields(t *testing.T) {
	body := wire.Sequence("",
		wire.Scalar("BID", wire.TypeFloat64, 99.5),
		wire.Scalar("ASK", wire.TypeNull, nil),
		wire.Scalar("LAST_PRICE", wire.TypeFloat64, 100.0),
	)
	got := Flatten(body)
	require.Equal(t, map[string]any{"BID": 99.5, "LAST_PRICE": 100.0}, got)
}
