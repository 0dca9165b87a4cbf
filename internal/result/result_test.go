package result

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidewire/tidewire/internal/decode"
	"github.com/tidewire/tidewire/internal/wire"
)

func TestTableArrivalOrderMultiValue(t *testing.T) {
	tbl := NewTable()
	tbl.Add("IBM", "PX_LAST", 100.5)
	tbl.Add("IBM", "PX_LAST", 100.7)

	require.Equal(t, []any{100.5, 100.7}, tbl.Values("IBM", "PX_LAST"))
	first, ok := tbl.Get("IBM", "PX_LAST")
	require.True(t, ok)
	require.Equal(t, 100.5, first)
	require.Equal(t, 1, tbl.Len())
}

func TestTableTypedGetters(t *testing.T) {
	tbl := NewTable()
	tbl.Add("IBM", "PX_LAST", 100.5)
	tbl.Add("IBM", "NAME", "Intl Business Machines")
	tbl.Add("IBM", "LAST_TRADE", time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC))

	f, ok := tbl.Float64("IBM", "PX_LAST")
	require.True(t, ok)
	require.Equal(t, 100.5, f)

	s, ok := tbl.String("IBM", "NAME")
	require.True(t, ok)
	require.Equal(t, "Intl Business Machines", s)

	ts, ok := tbl.Time("IBM", "LAST_TRADE")
	require.True(t, ok)
	require.Equal(t, 16, ts.Hour())

	_, ok = tbl.Float64("IBM", "MISSING")
	require.False(t, ok)
}

func referenceMessage(security string, fields ...*wire.Element) wire.Message {
	item := []*wire.Element{wire.Scalar("security", wire.TypeString, security)}
	item = append(item, wire.Sequence("fieldData", fields...))
	return wire.Message{
		Correlation: "c1",
		Type:        "ReferenceDataResponse",
		Body: wire.Sequence("ReferenceDataResponse",
			wire.Array("securityData", wire.Sequence("securityData", item...)),
		),
	}
}

func TestParseReference(t *testing.T) {
	tbl := NewTable()
	msg := referenceMessage("IBM US Equity",
		wire.Scalar("PX_LAST", wire.TypeFloat64, 188.2),
		wire.Scalar("NAME", wire.TypeString, "IBM"),
	)
	require.NoError(t, KindReference.Parser()(tbl, msg))

	v, ok := tbl.Get("IBM US Equity", "PX_LAST")
	require.True(t, ok)
	require.Equal(t, 188.2, v)
	v, ok = tbl.Get("IBM US Equity", "NAME")
	require.True(t, ok)
	require.Equal(t, "IBM", v)
	require.False(t, tbl.HasSecurityErrors())
}

func TestParseReferenceSecurityError(t *testing.T) {
	tbl := NewTable()
	msg := wire.Message{
		Correlation: "c1",
		Type:        "ReferenceDataResponse",
		Body: wire.Sequence("ReferenceDataResponse",
			wire.Array("securityData",
				wire.Sequence("securityData",
					wire.Scalar("security", wire.TypeString, "BOGUS"),
					wire.Sequence("securityError",
						wire.Scalar("category", wire.TypeString, "BAD_SEC"),
						wire.Scalar("message", wire.TypeString, "Unknown security"),
					),
				),
			),
		),
	}
	require.NoError(t, KindReference.Parser()(tbl, msg))
	require.True(t, tbl.HasSecurityErrors())
	require.True(t, tbl.SecurityFailed("BOGUS"))
	require.Equal(t, 0, tbl.Len())
}

func TestParseReferenceFieldExceptions(t *testing.T) {
	tbl := NewTable()
	msg := wire.Message{
		Correlation: "c1",
		Type:        "ReferenceDataResponse",
		Body: wire.Sequence("ReferenceDataResponse",
			wire.Array("securityData",
				wire.Sequence("securityData",
					wire.Scalar("security", wire.TypeString, "IBM US Equity"),
					wire.Array("fieldExceptions",
						wire.Sequence("fieldException",
							wire.Scalar("fieldId", wire.TypeString, "NOT_A_FIELD"),
							wire.Sequence("errorInfo",
								wire.Scalar("category", wire.TypeString, "BAD_FLD"),
								wire.Scalar("message", wire.TypeString, "Field not valid"),
							),
						),
					),
					wire.Sequence("fieldData",
						wire.Scalar("PX_LAST", wire.TypeFloat64, 188.2),
					),
				),
			),
		),
	}
	require.NoError(t, KindReference.Parser()(tbl, msg))
	require.True(t, tbl.HasFieldErrors())
	require.Len(t, tbl.FieldErrors(), 1)
	require.Equal(t, "NOT_A_FIELD", tbl.FieldErrors()[0].Field)
	require.Equal(t, "BAD_FLD", tbl.FieldErrors()[0].Category)
	_, ok := tbl.Get("IBM US Equity", "PX_LAST")
	require.True(t, ok)
}

func TestParseHistorical(t *testing.T) {
	tbl := NewTable()
	msg := wire.Message{
		Correlation: "c1",
		Type:        "HistoricalDataResponse",
		Body: wire.Sequence("HistoricalDataResponse",
			wire.Sequence("securityData",
				wire.Scalar("security", wire.TypeString, "IBM US Equity"),
				wire.Array("fieldData",
					wire.Sequence("point",
						wire.Scalar("date", wire.TypeDate, wire.Datetime{
							HasDate: true, Year: 2024, Month: time.March, Day: 14,
						}),
						wire.Scalar("PX_LAST", wire.TypeFloat64, 187.0),
					),
					wire.Sequence("point",
						wire.Scalar("date", wire.TypeDate, wire.Datetime{
							HasDate: true, Year: 2024, Month: time.March, Day: 15,
						}),
						wire.Scalar("PX_LAST", wire.TypeFloat64, 188.2),
					),
				),
			),
		),
	}
	require.NoError(t, KindHistorical.Parser()(tbl, msg))

	d14 := decode.Date{Year: 2024, Month: time.March, Day: 14}
	d15 := decode.Date{Year: 2024, Month: time.March, Day: 15}
	v, ok := tbl.GetDated("IBM US Equity", "PX_LAST", d14)
	require.True(t, ok)
	require.Equal(t, 187.0, v)
	v, ok = tbl.GetDated("IBM US Equity", "PX_LAST", d15)
	require.True(t, ok)
	require.Equal(t, 188.2, v)
	require.Equal(t, 2, tbl.Len())
}

func TestParseInstrumentLookup(t *testing.T) {
	tbl := NewTable()
	msg := wire.Message{
		Correlation: "c1",
		Type:        "InstrumentListResponse",
		Body: wire.Sequence("InstrumentListResponse",
			wire.Array("results",
				wire.Sequence("result",
					wire.Scalar("security", wire.TypeString, "IBM US Equity"),
					wire.Scalar("description", wire.TypeString, "International Business Machines"),
				),
			),
		),
	}
	require.NoError(t, KindInstrumentLookup.Parser()(tbl, msg))
	v, ok := tbl.Get("IBM US Equity", "description")
	require.True(t, ok)
	require.Equal(t, "International Business Machines", v)
}

func TestParseIntradayBar(t *testing.T) {
	tbl := NewTable()
	msg := wire.Message{
		Correlation: "c1",
		Type:        "IntradayBarResponse",
		Body: wire.Sequence("IntradayBarResponse",
			wire.Sequence("barData",
				wire.Array("barTickData",
					wire.Sequence("bar",
						wire.Scalar("open", wire.TypeFloat64, 187.1),
						wire.Scalar("close", wire.TypeFloat64, 187.9),
						wire.Scalar("volume", wire.TypeInt64, int64(12000)),
					),
				),
			),
		),
	}
	require.NoError(t, KindIntradayBar.Parser()(tbl, msg))
	v, ok := tbl.Get("", "close")
	require.True(t, ok)
	require.Equal(t, 187.9, v)
	vol, ok := tbl.Get("", "volume")
	require.True(t, ok)
	require.Equal(t, int64(12000), vol)
}
