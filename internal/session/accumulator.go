package session

import (
	"context"
	"sync"
	"time"

	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/result"
	"github.com/tidewire/tidewire/internal/wire"
)

type accumulatorState int

const (
	stateOpen accumulatorState = iota
	stateSealed
	stateResolved
)

// Accumulator buffers response messages for one correlation, detects the
// terminal signal, parses the buffered messages exactly once, and provides
// blocking retrieval of the typed result. Safe for a single producer and any
// number of concurrent consumers.
type Accumulator struct {
	corr  wire.CorrelationID
	kind  result.Kind
	parse result.ParseFunc

	mu       sync.Mutex
	state    accumulatorState
	messages []wire.Message
	sealed   chan struct{}
	table    *result.Table
	err      error
}

// NewAccumulator creates an open accumulator for the correlation, using the
// parse routine selected by the result kind at submission time.
func NewAccumulator(corr wire.CorrelationID, kind result.Kind) *Accumulator {
	return &Accumulator{
		corr:     corr,
		kind:     kind,
		parse:    kind.Parser(),
		mu:       sync.Mutex{},
		state:    stateOpen,
		messages: nil,
		sealed:   make(chan struct{}),
		table:    nil,
		err:      nil,
	}
}

// Correlation returns the correlation id this accumulator serves.
func (a *Accumulator) Correlation() wire.CorrelationID { return a.corr }

// Kind returns the result kind selected at submission.
func (a *Accumulator) Kind() result.Kind { return a.kind }

// AddMessage appends a response message in arrival order. Appending after the
// terminal signal is an invalid-state error; no message is silently accepted
// post-seal.
func (a *Accumulator) AddMessage(msg wire.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateOpen {
		return errs.New("session/accumulator", errs.CodeInvalidState,
			errs.WithMessage("message after seal"),
			errs.WithCorrelation(a.corr.String()))
	}
	a.messages = append(a.messages, msg)
	return nil
}

// Seal marks that no further messages will arrive. Exactly one call
// succeeds; any repeat fails with an invalid-state error regardless of
// thread.
func (a *Accumulator) Seal() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateOpen {
		return errs.New("session/accumulator", errs.CodeInvalidState,
			errs.WithMessage("already sealed"),
			errs.WithCorrelation(a.corr.String()))
	}
	a.state = stateSealed
	close(a.sealed)
	return nil
}

// Fail seals the accumulator with a terminal error, releasing any waiters.
// Used for cancellation and shutdown; a no-op once sealed.
func (a *Accumulator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateOpen {
		return
	}
	a.state = stateResolved
	a.err = err
	close(a.sealed)
}

// Result blocks until the terminal signal arrives, then parses the buffered
// messages exactly once and returns the cached table on every call. Context
// expiry surfaces a timeout error for deadlines and a cancellation error
// otherwise; neither affects the pending request itself.
func (a *Accumulator) Result(ctx context.Context) (*result.Table, error) {
	select {
	case <-a.sealed:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.New("session/accumulator", errs.CodeTimeout,
				errs.WithMessage("result wait timed out"),
				errs.WithCorrelation(a.corr.String()))
		}
		return nil, errs.New("session/accumulator", errs.CodeCancelled,
			errs.WithMessage("result wait cancelled"),
			errs.WithCorrelation(a.corr.String()))
	}
	return a.resolve()
}

// ResultTimeout is the timeout-bounded variant of Result.
func (a *Accumulator) ResultTimeout(d time.Duration) (*result.Table, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return a.Result(ctx)
}

// resolve performs the one-shot parse under the same lock used for appends,
// so a concurrent second caller observes the cached result instead of
// re-parsing.
func (a *Accumulator) resolve() (*result.Table, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateResolved {
		return a.table, a.err
	}
	table, err := a.parseAll()
	a.state = stateResolved
	if err != nil {
		a.table, a.err = nil, err
		return nil, err
	}
	a.table, a.err = table, nil
	return table, nil
}

// parseAll iterates the buffered messages in arrival order. A response-level
// error classified as security-scoped (BAD_SEC) is recorded and parsing
// continues; any other category aborts the whole parse with a fatal
// request-invalid error.
func (a *Accumulator) parseAll() (*result.Table, error) {
	table := result.NewTable()
	for _, msg := range a.messages {
		if respErr, ok := msg.Element("responseError"); ok {
			category := elementText(respErr, "category")
			if category == securityErrorCategory {
				table.AddSecurityError(result.SecurityError{
					Security: elementText(respErr, "security"),
					Category: category,
					Message:  elementText(respErr, "message"),
				})
				continue
			}
			return nil, errs.New("session/accumulator", errs.CodeRequestInvalid,
				errs.WithMessage(elementText(respErr, "message")),
				errs.WithCorrelation(a.corr.String()))
		}
		if err := a.parse(table, msg); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// securityErrorCategory is the only response-error category that does not
// abort the parse. The upstream classification criteria beyond this marker
// are unspecified, so no other category is treated as security-scoped.
const securityErrorCategory = "BAD_SEC"

func elementText(el *wire.Element, name string) string {
	child, ok := el.Lookup(name)
	if !ok {
		return ""
	}
	return child.Text()
}
