package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/octohub/internal/apperr"
	"github.com/xenking/octohub/internal/domain/paging"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	withStart(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, http.StatusCreated, EncoderFunc(func(e *jx.Encoder) { e.Str("ok") }), "done")
	})).ServeHTTP(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true,"data":"ok","message":"done"}`, w.Body.String())
	assert.True(t, strings.HasSuffix(w.Header().Get(headerResponseTime), "ms"))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestWritePage(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	page := paging.Page{Number: 2, PerPage: 2}
	WritePage(w, r, []int{3, 4}, func(e *jx.Encoder, v int) { e.Int(v) }, page, 5)

	assert.Equal(t, "5", w.Header().Get(headerTotalCount))
	assert.JSONEq(t, `{
		"success": true,
		"data": [3, 4],
		"pagination": {"page": 2, "perPage": 2, "totalItems": 5, "totalPages": 3}
	}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	cause := errors.New("pq: connection reset by peer")

	for _, tt := range []struct {
		name        string
		err         *apperr.Error
		showDetails bool
		want        string
	}{
		{
			name: "Validation",
			err:  apperr.Validation("validation failed", FieldErrors{"email": "is required"}),
			want: `{"success":false,"error":{"code":"VALIDATION_ERROR","message":"validation failed","details":{"email":"is required"}}}`,
		},
		{
			name: "InternalHidden",
			err:  apperr.Internal(cause).WithDetails(map[string]any{"query": "select"}),
			want: `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`,
		},
		{
			name:        "InternalShown",
			err:         apperr.Internal(cause),
			showDetails: true,
			want:        `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"internal server error","details":"pq: connection reset by peer"}}`,
		},
		{
			name: "UnavailableHidden",
			err:  apperr.Unavailable("RATE_LIMIT_UNAVAILABLE", "rate limiting is temporarily unavailable", cause),
			want: `{"success":false,"error":{"code":"RATE_LIMIT_UNAVAILABLE","message":"rate limiting is temporarily unavailable"}}`,
		},
		{
			name: "RateLimited",
			err:  apperr.RateLimited("too many requests", 1500*time.Millisecond),
			want: `{"success":false,"error":{"code":"RATE_LIMITED","message":"too many requests","retryAfter":2}}`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, tt.showDetails)
			assert.Equal(t, tt.err.Status(), w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
			assert.NotContains(t, w.Body.String(), "stack")
		})
	}

	t.Run("RetryAfterHeader", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), apperr.RateLimited("slow down", 90*time.Second), false)
		assert.Equal(t, "90", w.Header().Get(headerRetryAfter))
	})
}

func TestEncodeAny(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	encodeAny(e, map[string]any{
		"b":    true,
		"n":    int64(3),
		"f":    1.5,
		"s":    []string{"x"},
		"t":    ts,
		"nil":  nil,
		"list": []any{"a", 1},
		"err":  errors.New("boom"),
	})
	var got map[string]any
	require.NoError(t, json.Unmarshal(e.Bytes(), &got))
	assert.Equal(t, map[string]any{
		"b":    true,
		"n":    float64(3),
		"f":    1.5,
		"s":    []any{"x"},
		"t":    "2026-01-02T03:04:05Z",
		"nil":  nil,
		"list": []any{"a", float64(1)},
		"err":  "boom",
	}, got)
}
