// Package app assembles the invoicer components from a Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"invoicer/internal/auth"
	"invoicer/internal/config"
	"invoicer/internal/db"
	"invoicer/internal/engine"
	"invoicer/internal/logger"
	"invoicer/internal/migrate"
	"invoicer/internal/notify"
	"invoicer/internal/repo"
	"invoicer/internal/server"
)

type App struct {
	Config   *config.Config
	DB       *sql.DB
	Dialect  db.Dialect
	Repo     repo.Repo
	Registry *notify.Registry
	Redis    *notify.Redis
	Sessions auth.Sessions
	Engine   engine.Engine
	Log      *logger.Logger
}

// Open connects to the configured database, applies migrations and wires
// the engine with its revalidation fan-out. With Redis configured the local
// registry is fed from the channel (see FollowRevalidations) instead of
// directly, so every instance observes the same generations.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		Workspace: cfg.Database.Workspace,
		DSN:       cfg.Database.DSN,
	})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{
		Config:   cfg,
		DB:       conn,
		Dialect:  dialect,
		Repo:     repo.New(conn, dialect),
		Registry: notify.NewRegistry(),
		Sessions: auth.Sessions{Secret: cfg.Auth.JWTSecret, TTL: cfg.Auth.SessionTTL},
		Log:      log,
	}

	var fanout notify.Multi
	if cfg.Notify.RedisAddr != "" {
		rdb, err := notify.NewRedis(ctx, cfg.Notify.RedisAddr, cfg.Notify.RedisChannel, log)
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.Redis = rdb
		fanout = append(fanout, rdb)
	} else {
		fanout = append(fanout, a.Registry)
	}
	if len(cfg.Notify.Webhooks) > 0 {
		fanout = append(fanout, notify.NewWebhook(cfg.Notify.Webhooks, log))
	}

	svc := auth.Service{
		Providers: map[string]auth.Provider{
			auth.ProviderCredentials: auth.Credentials{Users: a.Repo},
		},
		Sessions: a.Sessions,
	}
	a.Engine = engine.New(a.Repo, fanout, svc, log)
	return a, nil
}

// FollowRevalidations mirrors the Redis channel into the local registry
// until ctx is done. It is a no-op without Redis.
func (a *App) FollowRevalidations(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Subscribe(ctx, func(path string) {
		a.Registry.Revalidate(ctx, path)
	})
}

// Handler builds the HTTP API over this app.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:     a.Engine,
		Queries:    a.Repo,
		Sessions:   a.Sessions,
		CookieName: a.Config.Auth.CookieName,
		BasePath:   a.Config.Server.BasePath,
		Registry:   a.Registry,
		Logger:     a.Log.With("service", "HTTP"),
	})
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
