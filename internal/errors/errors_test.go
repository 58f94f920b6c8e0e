package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, ErrCodeUnavailable, "redis unreachable")

	assert.Equal(t, "redis unreachable: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "whatever"))
	assert.Nil(t, Wrapf(nil, ErrCodeInternal, "whatever %d", 1))
}

func TestCodePredicates(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
	}{
		{NotFound("run not found"), IsNotFound},
		{Conflict("duplicate external id"), IsConflict},
		{Validation("bad region"), IsValidation},
		{Unavailable("provider down"), IsUnavailable},
	}

	for _, tt := range tests {
		assert.True(t, tt.check(tt.err))
		assert.False(t, tt.check(errors.New("plain")))
	}
}

func TestCodePredicates_ThroughWrapping(t *testing.T) {
	inner := Conflict("duplicate external id")
	outer := fmt.Errorf("upsert chunk 3: %w", inner)

	assert.True(t, IsConflict(outer))
	assert.Equal(t, ErrCodeConflict, GetCode(outer))
}

func TestValidationField(t *testing.T) {
	err := ValidationField("external_id", "must not be empty")
	require.True(t, IsValidation(err))
	assert.Equal(t, "external_id", GetField(err))
}

func TestGetCode_NonAppError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, "", GetField(errors.New("plain")))
}
