package apperr

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_StatusMapping(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{KindUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{KindForbidden, http.StatusForbidden, "FORBIDDEN"},
		{KindNotFound, http.StatusNotFound, "NOT_FOUND"},
		{KindConflict, http.StatusConflict, "CONFLICT"},
		{KindRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{KindTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{KindInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{KindUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.status, tc.kind.Status())
			assert.Equal(t, tc.code, tc.kind.Code())
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("passes through", func(t *testing.T) {
		orig := Conflict("email already registered")
		wrapped := errors.Wrap(orig, "register")

		got := From(wrapped)
		require.NotNil(t, got)
		assert.Same(t, orig, got)
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		got := From(errors.Wrap(context.DeadlineExceeded, "query"))
		assert.Equal(t, KindTimeout, got.Kind)
		assert.Equal(t, http.StatusGatewayTimeout, got.Status())
	})

	t.Run("unknown becomes internal", func(t *testing.T) {
		got := From(errors.New("boom"))
		assert.Equal(t, KindInternal, got.Kind)
		assert.Equal(t, "internal server error", got.Message)
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, From(nil))
	})
}

func TestMachineCodeOverride(t *testing.T) {
	err := Unavailable("RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", errors.New("dial tcp"))
	assert.Equal(t, "RATE_LIMIT_UNAVAILABLE", err.MachineCode())
	assert.Equal(t, http.StatusServiceUnavailable, err.Status())
	assert.True(t, IsKind(err, KindUnavailable))
}

func TestRateLimited(t *testing.T) {
	err := RateLimited("rate limit exceeded", 30*time.Second)
	assert.Equal(t, 30*time.Second, err.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, err.Status())
}
