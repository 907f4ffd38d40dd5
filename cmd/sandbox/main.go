// Command sandbox runs a development auth backend that speaks the portal
// session HTTP contract.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gomongo "go.mongodb.org/mongo-driver/mongo"

	"github.com/healthbridge/portal-session/internal/api"
	"github.com/healthbridge/portal-session/internal/core/ports"
	"github.com/healthbridge/portal-session/internal/core/service"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/memory"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/mongo"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/redis"
	"github.com/healthbridge/portal-session/internal/pkg/config"
	"github.com/healthbridge/portal-session/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Options{
		Service: "sandbox",
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("sandbox stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	var (
		accounts    ports.AccountRepository = memory.NewAccountRepository()
		revocations ports.TokenRevocations  = memory.NewTokenRevocations()
		resets      ports.ResetTokens       = memory.NewResetTokens()
		db          *gomongo.Database
		rdb         *goredis.Client
	)

	if cfg.Sandbox.AccountsDriver == "mongo" {
		client, database, err := mongo.Connect(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			AppName:  cfg.Mongo.AppName,
		})
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()

		repo := mongo.NewAccountRepository(database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		accounts, db = repo, database
		log.Info().Str("database", cfg.Mongo.Database).Msg("accounts stored in mongodb")
	}

	if cfg.Sandbox.TokensDriver == "redis" {
		client, err := redis.Connect(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		revocations, resets, rdb = redis.NewTokenRevocations(client), redis.NewResetTokens(client), client
		log.Info().Str("addr", cfg.Redis.Addr).Msg("tokens stored in redis")
	}

	svc := service.NewAccountService(accounts, revocations, resets, service.TokenSettings{
		Secret:     cfg.Sandbox.JWTSecret,
		AccessTTL:  cfg.Sandbox.AccessTTL,
		RefreshTTL: cfg.Sandbox.RefreshTTL,
		ResetTTL:   cfg.Sandbox.ResetTTL,
	}, log)

	e := api.NewRouter(api.Dependencies{
		Accounts: svc,
		Mongo:    db,
		Redis:    rdb,
		Log:      log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Sandbox.Port).Str("env", cfg.Env).Msg("sandbox listening")
		if err := e.Start(":" + cfg.Sandbox.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
