package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksWrapChain(t *testing.T) {
	base := New(KindTransient, "dial timeout")
	wrapped := fmt.Errorf("place order: %w", base)

	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsFatal(wrapped))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindFatal, nil))
}

func TestUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "validation_rejected", KindValidation.String())
	assert.Equal(t, "sizing_infeasible", KindSizingInfeasible.String())
	assert.Equal(t, "exchange_rejected", KindExchangeRejected.String())
	assert.Equal(t, "fatal", KindFatal.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestWrapPreservesMessage(t *testing.T) {
	inner := errors.New("code=-2015 invalid api key")
	err := Wrap(KindFatal, inner)
	assert.EqualError(t, err, "code=-2015 invalid api key")
	assert.True(t, errors.Is(err, inner))
}
