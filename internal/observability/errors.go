package observability

import (
	"errors"
	"fmt"

	"github.com/tidewire/tidewire/errs"
)

// AggregateErrors folds the non-nil failures of a multi-step teardown into a
// single unavailable-class envelope, logging each failure first. A slice of
// all-nil entries yields nil, so callers can pass one slot per step.
func AggregateErrors(component string, failures []error, fields ...Field) error {
	kept := make([]error, 0, len(failures))
	messages := make([]string, 0, len(failures))
	for _, err := range failures {
		if err == nil {
			continue
		}
		kept = append(kept, err)
		messages = append(messages, err.Error())
	}
	if len(kept) == 0 {
		return nil
	}
	Log().Error("teardown failed", append(fields,
		Field{Key: "component", Value: component},
		Field{Key: "errors", Value: messages},
	)...)
	return errs.New(component, errs.CodeUnavailable,
		errs.WithMessage(fmt.Sprintf("%d of %d teardown steps failed", len(kept), len(failures))),
		errs.WithCause(errors.Join(kept...)))
}
