package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/api"
	"github.com/xenking/octohub/internal/domain/audit"
	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/passwords"
	"github.com/xenking/octohub/internal/domain/session"
	"github.com/xenking/octohub/internal/domain/token"
	"github.com/xenking/octohub/internal/domain/user"
	"github.com/xenking/octohub/internal/ratelimit"
	"github.com/xenking/octohub/internal/storage/postgres"
	"github.com/xenking/octohub/pkg/health"
	"github.com/xenking/octohub/pkg/httpmiddleware"
)

const serviceName = "octohub-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("environment", cfg.Environment),
	)

	svc, err := build(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer svc.Close()

	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Timeouts.Auth + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.Handler,
	}

	svc.Health.Start(ctx, 10*time.Second)
	svc.Health.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.Health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// service is the wired application without its listener.
type service struct {
	Handler http.Handler
	Health  *health.Registry
	closers []func()
}

// Close releases connections in reverse creation order.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func build(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (_ *service, rerr error) {
	svc := &service{Health: health.New()}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	svc.Health.Add(health.Readiness, health.Check{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Func:    health.PingCheck("postgres", pool.Ping),
	})
	svc.Health.Add(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := newRateLimitStore(ctx, lg, cfg, svc)
	if err != nil {
		return nil, err
	}
	var limiter ratelimit.Checker = ratelimit.NewLimiter(store,
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
	)
	if cfg.RateLimit.DenialCacheTTL > 0 {
		limiter = ratelimit.NewCachedLimiter(limiter, cfg.RateLimit.DenialCacheTTL)
	}

	var denylist user.Denylist
	if cfg.DenylistPath != "" {
		d, err := passwords.Load(cfg.DenylistPath)
		if err != nil {
			return nil, errors.Wrap(err, "load password denylist")
		}
		lg.Info("Password denylist loaded", zap.Uint32("approx_size", d.ApproximateSize()))
		denylist = d
	}

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	tokenRepo := postgres.NewTokenRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	// Domain services.
	userSvc := user.NewService(userRepo, denylist)
	sessionSvc := session.NewService(sessionRepo, userRepo, []byte(cfg.SessionSecret), cfg.SessionTTL)
	resolver, err := auth.NewResolver(auth.ResolverConfig{
		Pepper:        []byte(cfg.TokenPepper),
		SessionCookie: cfg.SessionCookie,
		TokenCacheTTL: cfg.TokenCacheTTL,
		MeterProvider: mp,
	}, tokenRepo, sessionSvc)
	if err != nil {
		return nil, errors.Wrap(err, "create resolver")
	}
	tokenSvc := token.NewService(token.Config{
		Pepper:     []byte(cfg.TokenPepper),
		DefaultTTL: cfg.TokenDefaultTTL,
	}, tokenRepo, resolver)
	auditLog := audit.NewLogger(auditRepo, cfg.Timeouts.Audit)

	server := api.NewServer(api.Config{
		Development:   cfg.Development(),
		SessionCookie: cfg.SessionCookie,
		SecureCookies: cfg.SecureCookies,
		RateLimits:    cfg.RateLimit.Table(),
		Timeout:       cfg.Timeouts.Request,
		AuthTimeout:   cfg.Timeouts.Auth,
	}, userSvc, sessionSvc, tokenSvc, auditLog, resolver, limiter)

	mux := http.NewServeMux()
	mux.Handle("/livez", svc.Health.Handler(health.Liveness))
	mux.Handle("/readyz", svc.Health.Handler(health.Readiness))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/api/", server.Handler())

	svc.Handler = httpmiddleware.Wrap(mux, globalMiddlewares(lg, cfg, tp, mp, server.PanicHandler)...)
	return svc, nil
}

// globalMiddlewares returns the chain applied to every route, outermost
// first. The request logger is injected before LogRequests and Recovery so a
// recovered panic is logged and its 500 still gets a request log line.
func globalMiddlewares(
	lg *zap.Logger,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	onPanic http.HandlerFunc,
) []httpmiddleware.Middleware {
	return []httpmiddleware.Middleware{
		httpmiddleware.RequestID(),
		httpmiddleware.RealIP(cfg.TrustProxy),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LogRequests(),
		httpmiddleware.Recovery(onPanic),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    exposedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	}
}

var exposedHeaders = []string{
	httpmiddleware.RequestIDHeader,
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
	"X-Total-Count",
	"X-Response-Time",
}

// newRateLimitStore returns a Redis store shared by every instance when
// RedisURL is set, and a process-local store otherwise.
func newRateLimitStore(ctx context.Context, lg *zap.Logger, cfg *Config, svc *service) (ratelimit.Store, error) {
	if cfg.RedisURL == "" {
		lg.Warn("REDIS_URL not set, rate limits are per instance")
		store := ratelimit.NewMemoryStore()
		store.StartCleanup(ctx, time.Minute)
		return store, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	svc.closers = append(svc.closers, func() {
		if err := client.Close(); err != nil {
			lg.Warn("Close redis", zap.Error(err))
		}
	})

	svc.Health.Add(health.Readiness, health.Check{
		Name:    "redis",
		Timeout: 2 * time.Second,
		Func: health.PingCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
	})
	return ratelimit.NewRedisStore(client, cfg.RateLimit.RedisPrefix), nil
}
