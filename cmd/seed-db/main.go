// Command seed-db creates an administrator account and prints a fresh
// admin API token for it. Running it again reuses the account.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/octohub/internal/domain/auth"
	"github.com/xenking/octohub/internal/domain/scope"
	"github.com/xenking/octohub/internal/domain/token"
	"github.com/xenking/octohub/internal/domain/user"
	"github.com/xenking/octohub/internal/storage/postgres"
)

type options struct {
	databaseURL string
	email       string
	password    string
	pepper      string
	tokenName   string
}

func envOr(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.email, "email", "", "admin email (or OCTOHUB_SEED_EMAIL env)")
	flag.StringVar(&opts.password, "password", "", "admin password (or OCTOHUB_SEED_PASSWORD env)")
	flag.StringVar(&opts.pepper, "token-pepper", "", "HMAC pepper for API token hashing (or OCTOHUB_TOKEN_PEPPER env)")
	flag.StringVar(&opts.tokenName, "token-name", "seed admin", "name of the issued token")
	flag.Parse()

	opts.databaseURL = envOr(envOr(opts.databaseURL, "OCTOHUB_DATABASE_URL"), "DATABASE_URL")
	opts.email = envOr(opts.email, "OCTOHUB_SEED_EMAIL")
	opts.password = envOr(opts.password, "OCTOHUB_SEED_PASSWORD")
	opts.pepper = envOr(opts.pepper, "OCTOHUB_TOKEN_PEPPER")

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	switch {
	case opts.databaseURL == "":
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	case opts.email == "" || opts.password == "":
		lg.Fatal("Admin credentials are required: set --email and --password")
	case opts.pepper == "":
		lg.Fatal("Token pepper is required: set --token-pepper or OCTOHUB_TOKEN_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	issued, err := run(ctx, lg, opts)
	if err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed",
		zap.String("token_id", issued.Token.ID),
		zap.String("token_prefix", issued.Token.Prefix),
	)
	// The secret goes to stdout alone so scripts can capture it.
	fmt.Println(issued.Secret)
}

func run(ctx context.Context, lg *zap.Logger, opts options) (*token.Issued, error) {
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	users := user.NewService(postgres.NewUserRepository(pool), nil)
	admin, err := users.Register(ctx, user.RegisterRequest{
		Email:    opts.email,
		Password: opts.password,
		Name:     "Administrator",
	})
	switch {
	case errors.Is(err, user.ErrEmailTaken):
		lg.Info("Admin exists, reusing", zap.String("email", user.NormalizeEmail(opts.email)))
		admin, err = users.Authenticate(ctx, opts.email, opts.password)
		if err != nil {
			return nil, errors.Wrap(err, "authenticate existing admin")
		}
	case err != nil:
		return nil, errors.Wrap(err, "register admin")
	default:
		lg.Info("Admin created", zap.String("user_id", admin.ID))
	}

	tokens := token.NewService(token.Config{Pepper: []byte(opts.pepper)}, postgres.NewTokenRepository(pool), nil)
	issued, err := tokens.Issue(ctx, &auth.SessionContext{User: admin}, token.IssueRequest{
		Name:   opts.tokenName,
		Type:   scope.TokenAdvanced,
		Scopes: scope.AdminScopes.Strings(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "issue admin token")
	}
	return issued, nil
}
