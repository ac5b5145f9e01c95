package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/octohub/internal/ratelimit"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (OCTOHUB_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Environment string `default:"production" usage:"development exposes internal error details"`
	DatabaseURL string `usage:"PostgreSQL connection URL (OCTOHUB_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis URL for shared rate-limit counters; in-memory when empty" flag:"redis-url"`

	SessionSecret string        `usage:"HMAC secret signing session cookies" flag:"session-secret"`
	SessionTTL    time.Duration `default:"168h" usage:"Session lifetime" flag:"session-ttl"`
	SessionCookie string        `default:"octohub_session" usage:"Session cookie name" flag:"session-cookie"`
	SecureCookies bool          `default:"true" usage:"Mark the session cookie Secure" flag:"secure-cookies"`

	TokenPepper     string        `usage:"HMAC pepper for API token hashing" flag:"token-pepper"`
	TokenDefaultTTL time.Duration `default:"0s" usage:"Expiry for tokens created without one; zero never expires" flag:"token-default-ttl"`
	TokenCacheTTL   time.Duration `default:"0s" usage:"Resolver token cache TTL; zero disables caching" flag:"token-cache-ttl"`

	DenylistPath string `usage:"Compressed breached-password filter built by password-denylist" flag:"denylist"`
	TrustProxy   bool   `default:"false" usage:"Trust X-Forwarded-For and X-Real-IP" flag:"trust-proxy"`

	Timeouts  TimeoutConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// TimeoutConfig bounds request handling.
type TimeoutConfig struct {
	Request time.Duration `default:"10s" usage:"Deadline for ordinary routes"`
	Auth    time.Duration `default:"15s" usage:"Deadline for register and login"`
	Audit   time.Duration `default:"2s"  usage:"Deadline for one audit write"`
}

// RateLimitConfig is the single rate-limit table for every route.
type RateLimitConfig struct {
	Default RuleConfig
	// Rules override Default for matching endpoints, most specific first.
	Rules []RuleConfig `env:"-" flag:"-"`
	// DenialCacheTTL serves repeat denials without a store round trip.
	DenialCacheTTL time.Duration `default:"1s" usage:"Cache rate-limit denials; zero disables"`
	RedisPrefix    string        `default:"octohub:rl:" usage:"Redis key prefix for rate-limit counters"`
}

// RuleConfig mirrors ratelimit.Rule for configuration files.
type RuleConfig struct {
	Name        string
	Endpoint    string
	Method      string
	Limit       int
	Window      time.Duration
	BlockFor    time.Duration
	TokenLimit  int
	TokenWindow time.Duration
}

func (r RuleConfig) rule() ratelimit.Rule {
	return ratelimit.Rule{
		Name:        r.Name,
		Endpoint:    r.Endpoint,
		Method:      r.Method,
		Limit:       r.Limit,
		Window:      r.Window,
		BlockFor:    r.BlockFor,
		TokenLimit:  r.TokenLimit,
		TokenWindow: r.TokenWindow,
	}
}

// defaultRules applies when the configuration names none.
var defaultRules = RateLimitConfig{
	Default: RuleConfig{Name: "default", Limit: 100, Window: time.Hour, TokenLimit: 5000},
	Rules: []RuleConfig{
		{Name: "register", Endpoint: "/api/v1/auth/register", Method: "POST", Limit: 5, Window: time.Hour, BlockFor: time.Hour},
		{Name: "login", Endpoint: "/api/v1/auth/login", Method: "POST", Limit: 10, Window: 15 * time.Minute, BlockFor: 15 * time.Minute},
		{Name: "token-write", Endpoint: "/api/v1/tokens*", Method: "POST", Limit: 30, Window: time.Hour, TokenLimit: 300},
	},
}

// Table returns the configured table, falling back to defaultRules.
func (c RateLimitConfig) Table() ratelimit.Rules {
	src := c
	if src.Default.Limit <= 0 || src.Default.Window <= 0 {
		src.Default = defaultRules.Default
	}
	if len(src.Rules) == 0 {
		src.Rules = defaultRules.Rules
	}
	rules := ratelimit.Rules{Default: src.Default.rule()}
	for _, r := range src.Rules {
		rules.Specific = append(rules.Specific, r.rule())
	}
	return rules
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Development reports whether internal details may reach clients.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// LoadConfig loads configuration from .env, environment variables, YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		Args:      args,
		EnvPrefix: "OCTOHUB",
		Files:     []string{"config.yaml", "/etc/octohub/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set OCTOHUB_DATABASE_URL or DATABASE_URL")
	case len(c.SessionSecret) < 32:
		return errors.New("session secret must be at least 32 bytes: set OCTOHUB_SESSION_SECRET")
	case len(c.TokenPepper) < 16:
		return errors.New("token pepper must be at least 16 bytes: set OCTOHUB_TOKEN_PEPPER")
	case c.SessionTTL <= 0:
		return errors.New("session TTL must be positive")
	}
	return c.RateLimit.validate()
}

// validate rejects specific rules that would share store keys with another
// rule. Keys are built from rule names.
func (c RateLimitConfig) validate() error {
	defaultName := c.Default.Name
	if defaultName == "" {
		defaultName = "default"
	}
	seen := map[string]struct{}{defaultName: {}}
	for i, r := range c.Rules {
		switch {
		case r.Name == "":
			return errors.Errorf("rate limit rule %d: name is required", i)
		case r.Limit <= 0 || r.Window <= 0:
			return errors.Errorf("rate limit rule %q: limit and window must be positive", r.Name)
		}
		if _, ok := seen[r.Name]; ok {
			return errors.Errorf("rate limit rule %q: duplicate name", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's OCTOHUB_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
