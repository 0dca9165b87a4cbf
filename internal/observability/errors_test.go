package observability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidewire/tidewire/errs"
)

func TestAggregateErrorsNilWhenClean(t *testing.T) {
	require.NoError(t, AggregateErrors("transport", nil))
	require.NoError(t, AggregateErrors("transport", []error{nil, nil}))
}

func TestAggregateErrorsWrapsEnvelope(t *testing.T) {
	closeErr := errors.New("close websocket: broken pipe")
	drainErr := errors.New("drain dispatch: context deadline exceeded")

	err := AggregateErrors("transport", []error{closeErr, nil, drainErr})
	require.Error(t, err)

	var envelope *errs.E
	require.True(t, errors.As(err, &envelope))
	require.Equal(t, errs.CodeUnavailable, envelope.Code)
	require.Equal(t, "transport", envelope.Component)
	require.ErrorIs(t, err, closeErr)
	require.ErrorIs(t, err, drainErr)
}
