package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/imtompeel/swiftToHear-sub002/internal/config"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/participant"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/phase"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
	"github.com/imtompeel/swiftToHear-sub002/internal/janitor"
	"github.com/imtompeel/swiftToHear-sub002/internal/mcp"
	"github.com/imtompeel/swiftToHear-sub002/internal/sqlite"
	"github.com/imtompeel/swiftToHear-sub002/internal/transport"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/do/v2"
)

func setupDI(cfg *config.Config, logger *slog.Logger, transportMode string) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	registerStorage(injector)
	registerDomain(injector)
	registerSurface(injector, transportMode)

	return injector
}

func registerStorage(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*sqlite.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		db, err := sqlite.New(cfg.DB.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return db, nil
	})
	do.Provide(injector, func(i do.Injector) (*sqlite.SessionRepository, error) {
		return sqlite.NewSessionRepository(do.MustInvoke[*sqlite.DB](i), do.MustInvoke[*slog.Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*sqlite.SignalingRepository, error) {
		return sqlite.NewSignalingRepository(do.MustInvoke[*sqlite.DB](i), do.MustInvoke[*slog.Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*sqlite.EmailRepository, error) {
		return sqlite.NewEmailRepository(do.MustInvoke[*sqlite.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*sqlite.APIKeyRepository, error) {
		return sqlite.NewAPIKeyRepository(do.MustInvoke[*sqlite.DB](i)), nil
	})
}

func registerDomain(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*signaling.Relay, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return signaling.NewRelay(do.MustInvoke[*sqlite.SignalingRepository](i), signaling.Options{
			TTL:        cfg.Signaling.TTL,
			FetchLimit: cfg.Signaling.FetchLimit,
		}, do.MustInvoke[*slog.Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*session.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return session.NewService(
			do.MustInvoke[*sqlite.SessionRepository](i),
			do.MustInvoke[*signaling.Relay](i),
			session.Options{
				DefaultMinParticipants: cfg.Session.DefaultMinParticipants,
				DefaultMaxParticipants: cfg.Session.DefaultMaxParticipants,
				DefaultRoundDuration:   cfg.Session.DefaultRoundDuration,
				CleanupDelay:           cfg.Session.CleanupDelay,
			},
			do.MustInvoke[*slog.Logger](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*participant.Service, error) {
		return participant.NewService(
			do.MustInvoke[*sqlite.SessionRepository](i),
			do.MustInvoke[*session.Service](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*phase.Service, error) {
		return phase.NewService(
			do.MustInvoke[*sqlite.SessionRepository](i),
			do.MustInvoke[*session.Service](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*signup.Service, error) {
		return signup.NewService(do.MustInvoke[*sqlite.EmailRepository](i), do.MustInvoke[*slog.Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*janitor.Janitor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return janitor.New(
			do.MustInvoke[*signaling.Relay](i),
			do.MustInvoke[*session.Service](i),
			janitor.Options{
				Interval:  cfg.Session.SweepInterval,
				Retention: cfg.Session.CompletedRetention,
			},
			do.MustInvoke[*slog.Logger](i),
		), nil
	})
}

func registerSurface(injector do.Injector, transportMode string) {
	do.Provide(injector, func(i do.Injector) (*mcp.Handler, error) {
		return mcp.NewHandler(
			do.MustInvoke[*session.Service](i),
			do.MustInvoke[*participant.Service](i),
			do.MustInvoke[*phase.Service](i),
			do.MustInvoke[*signaling.Relay](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*sdkmcp.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return mcp.NewServer(mcp.Config{
			Handler:       do.MustInvoke[*mcp.Handler](i),
			Resolver:      do.MustInvoke[*sqlite.APIKeyRepository](i),
			AuthEnabled:   cfg.Auth.Enabled,
			TransportMode: transportMode,
			Version:       version,
			Logger:        do.MustInvoke[*slog.Logger](i),
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (http.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		sessions := do.MustInvoke[*session.Service](i)
		var adminAuth func(http.Handler) http.Handler
		if cfg.Auth.Enabled {
			adminAuth = transport.AdminAuth(do.MustInvoke[*sqlite.APIKeyRepository](i), do.MustInvoke[*slog.Logger](i))
		}
		return transport.NewServer(transport.Config{
			Handler:   do.MustInvoke[*mcp.Handler](i),
			MCP:       mcp.NewHTTPHandler(do.MustInvoke[*sdkmcp.Server](i)),
			Sessions:  sessions,
			Signals:   do.MustInvoke[*signaling.Relay](i),
			Signups:   do.MustInvoke[*signup.Service](i),
			AdminAuth: adminAuth,
			Logger:    do.MustInvoke[*slog.Logger](i),
		}), nil
	})
}
