package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := NotFound("trustee-gateway", "trustee 42 not found")
	wrapped := fmt.Errorf("failed to load trustee: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.True(t, errors.Is(wrapped, NotFoundError))
	assert.False(t, errors.Is(wrapped, ConnectionError))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Wrap(KindConnection, "orders-gateway", "source unreachable", errors.New("dial tcp"))))
	assert.False(t, IsRetryable(New(KindRequest, "orders-gateway", "syntax error")))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindRequest, "cases-gateway", "query rejected", errors.New("relation missing"))
	assert.Equal(t, "cases-gateway [REQUEST_FAILURE]: query rejected: relation missing", err.Error())
	assert.Equal(t, "cases-gateway [NOT_FOUND]: gone", NotFound("cases-gateway", "gone").Error())
}

func TestFrom(t *testing.T) {
	original := New(KindValidation, "trustee", "bad chapter")
	assert.Same(t, original, From("activity", fmt.Errorf("x: %w", original)))

	converted := From("activity", errors.New("boom"))
	assert.Equal(t, KindInternal, converted.Kind)
	assert.Equal(t, "activity", converted.Module)
}

func TestSummaryOmitsCause(t *testing.T) {
	err := Wrap(KindRequest, "cases-gateway", "query rejected", errors.New("relation \"secret_table\" missing"))
	assert.Equal(t, "cases-gateway [REQUEST_FAILURE]: query rejected", err.Summary())

	assert.Equal(t, "activity [INTERNAL]: unexpected failure", Describe("activity", errors.New("dial tcp 10.0.0.5:5432")))
	assert.Equal(t, "cases-gateway [REQUEST_FAILURE]: query rejected", Describe("activity", fmt.Errorf("wrap: %w", err)))
}

func TestIsConflict(t *testing.T) {
	err := fmt.Errorf("failed to save migration state: %w", New(KindConflict, "document-store", "migration state run-1 changed since version 2"))
	assert.True(t, IsConflict(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsConflict(NotFound("document-store", "gone")))
}
