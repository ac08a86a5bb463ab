package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, detailsOK: true},
		{code: CodeInsufficientBalance, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeConcurrency, status: http.StatusConflict, retryable: true},
		{code: CodePersistence, status: http.StatusServiceUnavailable, retryable: true},
		{code: "SOMETHING_UNKNOWN", status: http.StatusInternalServerError, retryable: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			meta := MetadataFor(tt.code)
			assert.Equal(t, tt.status, meta.HTTPStatus)
			assert.Equal(t, tt.retryable, meta.Retryable)
			assert.Equal(t, tt.detailsOK, meta.DetailsAllowed)
			assert.NotEmpty(t, meta.PublicMessage)
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodePersistence, cause, "append entry")
	require.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "PERSISTENCE_ERROR: append entry: boom", wrapped.Error())
	assert.Equal(t, "NOT_FOUND: account 7 missing", Newf(CodeNotFound, "account %d missing", 7).Error())
}

func TestDetailsMerge(t *testing.T) {
	err := New(CodeRateLimit, "slow down").WithReason("login_locked").WithDetail("retry_after_seconds", int64(30))
	assert.Equal(t, map[string]any{"reason": "login_locked", "retry_after_seconds": int64(30)}, err.Details())

	fixed := New(CodeValidation, "bad").WithDetails(map[string]string{"field": "amount"}).WithReason("ignored")
	assert.Equal(t, map[string]string{"field": "amount"}, fixed.Details())
	assert.Empty(t, Reason(fixed))
}

func TestReasonAndIsCode(t *testing.T) {
	err := fmt.Errorf("create referral: %w", New(CodeRateLimit, "too many referrals").WithReason("max_referrals_per_ip"))
	assert.True(t, IsCode(err, CodeRateLimit))
	assert.False(t, IsCode(err, CodeForbidden))
	assert.Equal(t, "max_referrals_per_ip", Reason(err))
	assert.Empty(t, Reason(stdErrors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(stdErrors.New("untyped")))
	assert.True(t, Retryable(fmt.Errorf("outer: %w", New(CodeConcurrency, "busy"))))
	assert.False(t, Retryable(New(CodeValidation, "bad input")))
}

func TestAs(t *testing.T) {
	got := As(New(CodeForbidden, "no entry"))
	require.NotNil(t, got)
	assert.Equal(t, CodeForbidden, got.Code())
	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}
