// Command portalctl drives a patient portal session from the terminal. The
// session survives between runs in the configured credential store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
	"github.com/healthbridge/portal-session/internal/core/service"
	"github.com/healthbridge/portal-session/internal/infrastructure/apiclient"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/file"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/memory"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/mongo"
	"github.com/healthbridge/portal-session/internal/infrastructure/db/redis"
	"github.com/healthbridge/portal-session/internal/pkg/config"
	"github.com/healthbridge/portal-session/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.Init(logger.Options{
		Service: "portalctl",
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, log, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string, stdout, stderr io.Writer) int {
	deps, cleanup, err := connect(ctx, cfg, log)
	if err != nil {
		writeError(stderr, err)
		return 1
	}
	defer cleanup()

	api := apiclient.New(cfg.Client.APIBaseURL, cfg.Client.APITimeout, log)
	a := &app{
		manager:     service.NewSessionManager(api, deps.store, log),
		dedup:       deps.dedup,
		refreshSkew: cfg.Client.RefreshSkew,
		log:         log,
		out:         stdout,
	}
	if err := a.execute(ctx, args); err != nil {
		writeError(stderr, err)
		return 1
	}
	return 0
}

type backends struct {
	store ports.CredentialStore
	dedup service.DedupChecker
}

// connect builds the credential store selected by STORE_DRIVER. Push
// deduplication shares the Redis connection when one is configured.
func connect(ctx context.Context, cfg *config.Config, log zerolog.Logger) (backends, func(), error) {
	noop := func() {}
	switch cfg.Store.Driver {
	case "memory":
		return backends{store: memory.NewCredentialStore(), dedup: memory.NewDedupChecker()}, noop, nil

	case "file":
		path := cfg.Store.File
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return backends{}, noop, fmt.Errorf("resolve config dir: %w", err)
			}
			path = filepath.Join(dir, "portal-session", "credentials-"+cfg.Store.Namespace+".json")
		}
		log.Debug().Str("path", path).Msg("using file credential store")
		return backends{store: file.NewCredentialStore(path), dedup: memory.NewDedupChecker()}, noop, nil

	case "redis":
		client, err := redis.Connect(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return backends{}, noop, err
		}
		return backends{
			store: redis.NewCredentialStore(client, cfg.Store.Namespace),
			dedup: redis.NewDedupChecker(client),
		}, func() { _ = client.Close() }, nil

	case "mongo":
		client, db, err := mongo.Connect(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			AppName:  cfg.Mongo.AppName,
		})
		if err != nil {
			return backends{}, noop, err
		}
		return backends{
			store: mongo.NewCredentialStore(db, cfg.Store.Namespace),
			dedup: memory.NewDedupChecker(),
		}, func() { _ = client.Disconnect(context.Background()) }, nil
	}
	return backends{}, noop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

type errorOutput struct {
	Error *domain.ErrorInfo `json:"error"`
}

func writeError(w io.Writer, err error) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(errorOutput{Error: domain.NewErrorInfo(err)})
}
