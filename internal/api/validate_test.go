package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/octohub/internal/apperr"
)

func fieldErrors(t *testing.T, err error) FieldErrors {
	t.Helper()
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "got %v", err)
	require.Equal(t, apperr.KindValidation, ae.Kind)
	fe, ok := ae.Details.(FieldErrors)
	require.True(t, ok, "details are %T", ae.Details)
	return fe
}

func TestDecodeBody(t *testing.T) {
	newReq := func(body string) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}

	t.Run("OK", func(t *testing.T) {
		b, err := DecodeBody[RegisterBody](newReq(`{"email":" a@b.com ","password":"longenough1","name":"Octo"}`))
		require.NoError(t, err)
		assert.Equal(t, "Octo", b.Name)
		assert.Equal(t, "longenough1", b.Password)
	})
	t.Run("EveryFieldReported", func(t *testing.T) {
		_, err := DecodeBody[CreateTokenBody](newReq(`{"name":1,"scopes":"repo:read","rateLimit":"many"}`))
		fe := fieldErrors(t, err)
		assert.Contains(t, fe, "name")
		assert.Contains(t, fe, "scopes")
		assert.Contains(t, fe, "rateLimit")
	})
	t.Run("Malformed", func(t *testing.T) {
		_, err := DecodeBody[LoginBody](newReq(`{"email":"a@b.com",`))
		require.True(t, apperr.IsKind(err, apperr.KindValidation))
	})
	t.Run("TooLarge", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		_, err := DecodeBody[CreateTokenBody](newReq(body))
		require.True(t, apperr.IsKind(err, apperr.KindValidation))
	})
}

func TestUpdateTokenBody_Decode(t *testing.T) {
	var b UpdateTokenBody
	require.NoError(t, b.Decode(jx.DecodeStr(`{"name":"n","scopes":null,"allowedIps":[],"expiresAt":null}`)))
	require.NotNil(t, b.Name)
	assert.Equal(t, "n", *b.Name)
	assert.Nil(t, b.Scopes, "null keeps the current scopes")
	assert.NotNil(t, b.AllowedIPs, "empty array clears the allow-list")
	assert.Empty(t, b.AllowedIPs)
	assert.Nil(t, b.ExpiresAt)
	assert.True(t, b.ClearExpiresAt, "null clears the expiry")
	assert.False(t, b.ClearRateLimit, "absent keeps the quota")

	b = UpdateTokenBody{}
	require.NoError(t, b.Decode(jx.DecodeStr(`{"rateLimit":null,"expiresAt":"2030-01-02T03:04:05Z"}`)))
	assert.True(t, b.ClearRateLimit)
	assert.False(t, b.ClearExpiresAt)
	require.NotNil(t, b.ExpiresAt)
}

func TestDecodeQuery(t *testing.T) {
	for _, tt := range []struct {
		query  string
		want   ListQuery
		fields []string
	}{
		{query: "", want: ListQuery{}},
		{query: "page=2&perPage=50", want: ListQuery{Page: 2, PerPage: 50}},
		{query: "page=1&page=3", want: ListQuery{Page: 3}},
		{query: "page=x&perPage=1.5", fields: []string{"page", "perPage"}},
		{query: "perPage=-1", fields: []string{"perPage"}},
		{query: "page=922337203685477580&perPage=100", fields: []string{"page"}},
	} {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			got, err := DecodeQuery[ListQuery](r)
			if len(tt.fields) > 0 {
				fe := fieldErrors(t, err)
				for _, f := range tt.fields {
					assert.Contains(t, fe, f)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBindQuery_Kinds(t *testing.T) {
	var dst struct {
		Tags    []string `query:"tags"`
		Verbose bool     `query:"verbose"`
		Ratio   float64  `query:"ratio"`
		Limit   uint     `query:"limit"`
		Skipped string
	}
	q := map[string][]string{
		"tags":    {"a, b,,c"},
		"verbose": {"true"},
		"ratio":   {"0.5"},
		"limit":   {"7"},
		"Skipped": {"x"},
	}
	require.NoError(t, bindQuery(&dst, q))
	assert.Equal(t, []string{"a", "b", "c"}, dst.Tags)
	assert.True(t, dst.Verbose)
	assert.Equal(t, 0.5, dst.Ratio)
	assert.Equal(t, uint(7), dst.Limit)
	assert.Empty(t, dst.Skipped)

	require.Error(t, bindQuery(dst, q))
}

func TestValidateBody_StopsPipeline(t *testing.T) {
	var failed error
	called := false
	h := ValidateBody[LoginBody](func(w http.ResponseWriter, r *http.Request, err error) {
		failed = err
		w.WriteHeader(http.StatusBadRequest)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"bad"}`))
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.False(t, called)
	fe := fieldErrors(t, failed)
	assert.Contains(t, fe, "email")
	assert.Contains(t, fe, "password")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com","password":"p"}`))
	h = ValidateBody[LoginBody](nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "a@b.com", Body[LoginBody](r).Email)
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, called)
}
