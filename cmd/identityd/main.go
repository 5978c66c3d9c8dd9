// Command identityd serves the identity core over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/httpapi"
	"github.com/goliatone/go-identity/invites"
	"github.com/goliatone/go-identity/projects"
	"github.com/goliatone/go-identity/ratelimit"
	"github.com/goliatone/go-identity/relay"
	"github.com/goliatone/go-identity/strategy"
)

const shutdownTimeout = 10 * time.Second

type loggers struct{}

func (loggers) GetLogger(name string) identity.Logger {
	return identity.ResolveLogger(name, nil, nil)
}

func main() {
	logger := identity.ResolveLogger("identityd", nil, nil)

	if err := run(logger); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && len(richErr.Metadata) > 0 {
			logger.Error("identityd stopped", "error", err, "details", print.MaybePrettyJSON(richErr.Metadata))
		} else {
			logger.Error("identityd stopped", "error", err)
		}
		os.Exit(1)
	}
}

func run(logger identity.Logger) error {
	cfg, err := identity.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := identity.OpenDB(cfg.Database)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database")
	}
	defer db.Close()

	if err := identity.Migrate(ctx, db); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to migrate database")
	}

	provider := loggers{}

	bus := identity.NewAsyncEventBus(
		identity.WithEventMaxAttempts(cfg.Events.MaxAttempts),
		identity.WithEventLogger(provider.GetLogger("events")),
	)

	if cfg.Events.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Events.RedisURL)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid events redis url")
		}
		client := redis.NewClient(opts)
		defer client.Close()

		detach := relay.New(client, cfg.Events.RedisChannel, provider.GetLogger("relay")).Attach(bus)
		defer detach()
	}

	projectStore := projects.NewStore(db, provider.GetLogger("projects"))
	inviteStore := invites.NewStore(db, provider.GetLogger("invites"))

	svc := identity.NewService(db, cfg,
		identity.WithLoggerProvider(provider),
		identity.WithProjects(projectStore),
		identity.WithInvites(inviteStore),
		identity.WithEvents(bus),
	)

	tokens, err := identity.NewTokenService(cfg.Token, provider.GetLogger("tokens"))
	if err != nil {
		return err
	}

	limiter, err := ratelimit.FromConfig(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	switch l := limiter.(type) {
	case *ratelimit.Memory:
		l.Start(ctx, time.Minute)
		defer l.Stop()
	case *ratelimit.Redis:
		defer l.Close()
	}

	registry, err := strategy.NewRegistry(cfg.Strategies, strategy.Deps{
		Users:          svc,
		Tokens:         tokens,
		Limiter:        limiter,
		Invites:        inviteStore,
		Config:         cfg,
		LoggerProvider: provider,
		PublicURL:      cfg.PublicURL,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	for _, m := range registry.Strategies() {
		logger.Info("strategy enabled", "id", m.ID, "type", m.Kind)
	}

	app := httpapi.NewApp(provider.GetLogger("http"))
	httpapi.NewController(registry, svc, tokens,
		httpapi.WithInviter(inviteStore),
		httpapi.WithLogger(provider.GetLogger("http")),
	).Register(app)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errc <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := bus.Wait(shutdownCtx); err != nil {
		logger.Warn("event delivery did not drain", "error", err)
	}
	return nil
}
