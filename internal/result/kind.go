package result

import (
	"fmt"

	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/decode"
	"github.com/tidewire/tidewire/internal/wire"
)

// Kind names one of the response shapes the session can decode. Each kind
// pairs a per-message parse routine with the table layout it produces; the
// kind is chosen at request-submission time and threaded through the
// accumulator.
type Kind int

const (
	// KindReference decodes ReferenceDataResponse messages.
	KindReference Kind = iota
	// KindHistorical decodes HistoricalDataResponse messages.
	KindHistorical
	// KindIntradayBar decodes IntradayBarResponse messages.
	KindIntradayBar
	// KindIntradayTick decodes IntradayTickResponse messages.
	KindIntradayTick
	// KindInstrumentLookup decodes InstrumentListResponse messages.
	KindInstrumentLookup
	// KindPortfolio decodes PortfolioDataResponse messages.
	KindPortfolio
)

func (k Kind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindHistorical:
		return "historical"
	case KindIntradayBar:
		return "intraday_bar"
	case KindIntradayTick:
		return "intraday_tick"
	case KindInstrumentLookup:
		return "instrument_lookup"
	case KindPortfolio:
		return "portfolio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseFunc decodes one response message into the table.
type ParseFunc func(tbl *Table, msg wire.Message) error

// Parser returns the parse routine for the kind.
func (k Kind) Parser() ParseFunc {
	switch k {
	case KindHistorical:
		return parseHistorical
	case KindIntradayBar:
		return parseIntradayBar
	case KindIntradayTick:
		return parseIntradayTick
	case KindInstrumentLookup:
		return parseInstrumentLookup
	case KindReference, KindPortfolio:
		return parseReference
	default:
		kind := k
		return func(*Table, wire.Message) error {
			return errs.New("result", errs.CodeRequestInvalid,
				errs.WithMessage(fmt.Sprintf("no parser for %s", kind)))
		}
	}
}

// parseReference handles per-security records carrying a flat fieldData
// sequence: securityData[] -> {security, securityError?, fieldExceptions[], fieldData}.
func parseReference(tbl *Table, msg wire.Message) error {
	securityData, ok := msg.Element("securityData")
	if !ok {
		return nil
	}
	for _, item := range securityData.Elements() {
		security := childText(item, "security")
		if errEl, found := item.Lookup("securityError"); found {
			tbl.AddSecurityError(SecurityError{
				Security: security,
				Category: childText(errEl, "category"),
				Message:  childText(errEl, "message"),
			})
			continue
		}
		recordFieldExceptions(tbl, item, security)
		if fieldData, found := item.Lookup("fieldData"); found {
			for _, field := range fieldData.Elements() {
				if field.IsNull() {
					continue
				}
				tbl.Add(security, field.Name, decode.Value(field))
			}
		}
	}
	return nil
}

// parseHistorical handles a single-security record whose fieldData is an
// array of dated points: securityData -> {security, fieldData[] -> {date, fields...}}.
func parseHistorical(tbl *Table, msg wire.Message) error {
	securityData, ok := msg.Element("securityData")
	if !ok {
		return nil
	}
	security := childText(securityData, "security")
	if errEl, found := securityData.Lookup("securityError"); found {
		tbl.AddSecurityError(SecurityError{
			Security: security,
			Category: childText(errEl, "category"),
			Message:  childText(errEl, "message"),
		})
		return nil
	}
	recordFieldExceptions(tbl, securityData, security)
	fieldData, found := securityData.Lookup("fieldData")
	if !found {
		return nil
	}
	for _, point := range fieldData.Elements() {
		dateEl, hasDate := point.Lookup("date")
		if !hasDate {
			continue
		}
		date, ok := decode.Value(dateEl).(decode.Date)
		if !ok {
			continue
		}
		for _, field := range point.Elements() {
			if field.Name == "date" || field.IsNull() {
				continue
			}
			tbl.AddDated(security, field.Name, date, decode.Value(field))
		}
	}
	return nil
}

// parseIntradayBar handles barData -> barTickData[] -> {time, open, high, low,
// close, volume, numEvents}. Bar responses do not echo the security; rows are
// keyed by the security element when the daemon includes one, empty otherwise.
func parseIntradayBar(tbl *Table, msg wire.Message) error {
	barData, ok := msg.Element("barData")
	if !ok {
		return nil
	}
	security := childText(msg.Body, "security")
	ticks, found := barData.Lookup("barTickData")
	if !found {
		return nil
	}
	for _, bar := range ticks.Elements() {
		for _, field := range bar.Elements() {
			if field.IsNull() {
				continue
			}
			tbl.Add(security, field.Name, decode.Value(field))
		}
	}
	return nil
}

// parseIntradayTick handles tickData -> tickData[] -> {time, type, value, size}.
func parseIntradayTick(tbl *Table, msg wire.Message) error {
	outer, ok := msg.Element("tickData")
	if !ok {
		return nil
	}
	security := childText(msg.Body, "security")
	inner, found := outer.Lookup("tickData")
	if !found {
		return nil
	}
	for _, tick := range inner.Elements() {
		for _, field := range tick.Elements() {
			if field.IsNull() {
				continue
			}
			tbl.Add(security, field.Name, decode.Value(field))
		}
	}
	return nil
}

// parseInstrumentLookup handles results[] -> {security, description}.
func parseInstrumentLookup(tbl *Table, msg wire.Message) error {
	results, ok := msg.Element("results")
	if !ok {
		return nil
	}
	for _, item := range results.Elements() {
		security := childText(item, "security")
		if desc, found := item.Lookup("description"); found && !desc.IsNull() {
			tbl.Add(security, "description", decode.Value(desc))
		}
	}
	return nil
}

func recordFieldExceptions(tbl *Table, item *wire.Element, security string) {
	exceptions, found := item.Lookup("fieldExceptions")
	if !found {
		return
	}
	for _, exc := range exceptions.Elements() {
		fieldErr := FieldError{
			Security: security,
			Field:    childText(exc, "fieldId"),
			Category: "",
			Message:  "",
		}
		if info, ok := exc.Lookup("errorInfo"); ok {
			fieldErr.Category = childText(info, "category")
			fieldErr.Message = childText(info, "message")
		}
		tbl.AddFieldError(fieldErr)
	}
}

func childText(el *wire.Element, name string) string {
	child, ok := el.Lookup(name)
	if !ok {
		return ""
	}
	return child.Text()
}
