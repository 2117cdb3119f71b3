package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor_KnownCode(t *testing.T) {
	meta := MetadataFor(CodeBusinessRule)
	assert.Equal(t, http.StatusUnprocessableEntity, meta.HTTPStatus)
	assert.True(t, meta.DetailsAllowed)
	assert.False(t, meta.Retryable)
}

func TestMetadataFor_UnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestError_ReasonAndDetails(t *testing.T) {
	err := New(CodeBusinessRule, "insufficient stock").
		WithReason("Stock.OutOfStock").
		WithDetail("variant_id", "abc")

	require.Equal(t, CodeBusinessRule, err.Code())
	assert.Equal(t, "Stock.OutOfStock", err.Reason())
	assert.Equal(t, "abc", err.Details()["variant_id"])
	assert.Contains(t, err.Error(), "Stock.OutOfStock")
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(CodeDependency, cause, "gateway call failed")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, As(err).Code())
}

func TestAs_NestedError(t *testing.T) {
	inner := New(CodeConcurrency, "row version mismatch")
	wrapped := fmt.Errorf("while saving: %w", inner)

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeConcurrency, typed.Code())
	assert.True(t, IsCode(wrapped, CodeConcurrency))
}

func TestHasReason(t *testing.T) {
	err := New(CodeStateConflict, "cannot cancel").WithReason("Order.CannotCancelWithCapturedPayment")
	assert.True(t, HasReason(err, "Order.CannotCancelWithCapturedPayment"))
	assert.False(t, HasReason(err, "Order.Other"))
}
