//go:build integration

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.PortEndpoint(ctx, port, "")
	require.NoError(t, err)
	return addr
}

func newTestService(t *testing.T) *httptest.Server {
	t.Helper()
	pgAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "octohub",
			"POSTGRES_PASSWORD": "octohub",
			"POSTGRES_DB":       "octohub",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432/tcp")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379/tcp")

	cfg := &Config{
		Environment:   "development",
		DatabaseURL:   fmt.Sprintf("postgres://octohub:octohub@%s/octohub?sslmode=disable", pgAddr),
		RedisURL:      "redis://" + redisAddr + "/0",
		SessionSecret: "0123456789abcdef0123456789abcdef",
		SessionTTL:    time.Hour,
		SessionCookie: "octohub_session",
		TokenPepper:   "integration-pepper",
		Timeouts:      TimeoutConfig{Request: 5 * time.Second, Auth: 10 * time.Second, Audit: time.Second},
		RateLimit: RateLimitConfig{
			Default:     RuleConfig{Name: "default", Limit: 1000, Window: time.Hour},
			Rules:       []RuleConfig{{Name: "login", Endpoint: "/api/v1/auth/login", Method: "POST", Limit: 3, Window: time.Hour}},
			RedisPrefix: "it:",
		},
		CORS: CORSConfig{Origins: []string{"*"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := build(ctx, zaptest.NewLogger(t), cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	svc.Health.Start(ctx, 100*time.Millisecond)
	svc.Health.SetReady(true)
	t.Cleanup(svc.Health.Stop)

	srv := httptest.NewServer(svc.Handler)
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func call(t *testing.T, c *http.Client, method, url, body, bearer string) (*http.Response, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &env), string(data))
	}
	return resp, env
}

func TestService(t *testing.T) {
	srv := newTestService(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}
	api := srv.URL + "/api/v1"

	t.Run("HealthEndpoints", func(t *testing.T) {
		require.Eventually(t, func() bool {
			resp, _ := call(t, client, http.MethodGet, srv.URL+"/readyz", "", "")
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 100*time.Millisecond)

		resp, _ := call(t, client, http.MethodGet, srv.URL+"/livez", "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	var secret string
	t.Run("SessionThenToken", func(t *testing.T) {
		resp, _ := call(t, client, http.MethodPost, api+"/auth/register", `{"email":"octo@example.com","password":"correct horse"}`, "")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

		resp, _ = call(t, client, http.MethodPost, api+"/auth/login", `{"email":"octo@example.com","password":"correct horse"}`, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, env := call(t, client, http.MethodPost, api+"/tokens", `{"name":"ci","scopes":["repo:read","audit:read"]}`, "")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var tok struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &tok))
		secret = tok.Token

		bare := &http.Client{Timeout: 10 * time.Second}
		resp, _ = call(t, bare, http.MethodGet, api+"/me", "", secret)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))

		resp, env = call(t, bare, http.MethodGet, api+"/audit-logs", "", secret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "3", resp.Header.Get("X-Total-Count"))

		resp, env = call(t, bare, http.MethodGet, api+"/tokens", "", secret)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})

	t.Run("RedisRateLimit", func(t *testing.T) {
		bare := &http.Client{Timeout: 10 * time.Second}
		var last *http.Response
		for range 4 {
			last, _ = call(t, bare, http.MethodPost, api+"/auth/login", `{"email":"octo@example.com","password":"wrong password"}`, "")
		}
		assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
		assert.NotEmpty(t, last.Header.Get("Retry-After"))
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := client.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("CORS", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, api+"/me", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		resp, err := client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
