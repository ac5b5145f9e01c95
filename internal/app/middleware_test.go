package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/octohub/pkg/httpmiddleware"
)

func TestGlobalMiddlewares_PanicIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := &Config{CORS: CORSConfig{Origins: []string{"*"}}}
	onPanic := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	h := httpmiddleware.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), globalMiddlewares(zap.New(core), cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), onPanic)...)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	requestID := w.Header().Get(httpmiddleware.RequestIDHeader)
	require.NotEmpty(t, requestID)

	panics := logs.FilterMessage("Panic recovered").All()
	require.Len(t, panics, 1)
	assert.Equal(t, requestID, panics[0].ContextMap()["request_id"])

	failed := logs.FilterMessage("Request failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, int64(http.StatusInternalServerError), failed[0].ContextMap()["status"])
}

func TestGlobalMiddlewares_Preflight(t *testing.T) {
	cfg := &Config{CORS: CORSConfig{Origins: []string{"https://app.example.com"}}}
	h := httpmiddleware.Wrap(http.NotFoundHandler(),
		globalMiddlewares(zap.NewNop(), cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), nil)...)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/me", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(httpmiddleware.RequestIDHeader))
}
