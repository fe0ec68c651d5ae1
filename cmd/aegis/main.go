package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-admin/aegis-admin/internal/app"
	"github.com/aegis-admin/aegis-admin/internal/auth"
	"github.com/aegis-admin/aegis-admin/internal/invalidation"
	"github.com/aegis-admin/aegis-admin/internal/observability"
	"github.com/aegis-admin/aegis-admin/internal/platform/cache"
	"github.com/aegis-admin/aegis-admin/internal/platform/db"
	"github.com/aegis-admin/aegis-admin/internal/rbac"
	"github.com/aegis-admin/aegis-admin/internal/session"
	"github.com/aegis-admin/aegis-admin/internal/shared"
	"github.com/aegis-admin/aegis-admin/internal/users"
)

// roleSource adapts the rbac service to the session resolver's RoleSource.
type roleSource struct {
	rbac *rbac.Service
}

func (r roleSource) RoleSnapshot(ctx context.Context, roleID int64) (string, int, []string, error) {
	role, perms, err := r.rbac.RoleWithPermissions(ctx, roleID)
	if err != nil {
		return "", 0, nil, err
	}
	return role.Name, role.Power, perms, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var (
		sessionStore    cache.Store
		permissionStore cache.Store
		redisClient     *redis.Client
	)
	if cfg.CacheBackend == "redis" {
		redisClient, err = cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		sessionStore = cache.NewRedis(redisClient, "aegis:sessions")
		permissionStore = cache.NewRedis(redisClient, "aegis:permissions")
	} else {
		sessionStore = cache.NewMemory()
		permissionStore = cache.NewMemory()
	}

	sessionCache := session.NewCache(sessionStore, cfg.SessionCacheTTL)
	permissionCache := rbac.NewPermissionCache(permissionStore, cfg.PermissionCacheTTL)

	sessionRepo := session.NewRepository(pool)
	coordinator := invalidation.NewCoordinator(sessionCache, permissionCache, sessionRepo, logger)

	auditLogger := shared.NewAuditLogger(pool)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, permissionCache, coordinator, auditLogger, logger)

	sessionService := session.NewService(sessionRepo, sessionCache, roleSource{rbac: rbacService}, coordinator, logger, session.Config{
		TTL:         cfg.SessionTTL,
		RememberTTL: cfg.SessionRememberTTL,
	})

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, rbacRepo, coordinator, auditLogger, logger)

	authService := auth.NewService(usersRepo, auditLogger)

	metrics := observability.NewMetrics()
	metrics.RegisterCache("session", sessionCache.Stats)
	metrics.RegisterCache("permission", permissionCache.Stats)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Sessions:        sessionService,
		SessionCache:    sessionCache,
		PermissionCache: permissionCache,
		AuthHandler:     auth.NewHandler(logger, authService, sessionService, cfg.IsProduction()),
		RBACHandler:     rbac.NewHandler(logger, rbacService),
		UsersHandler:    users.NewHandler(logger, usersService),
		SessionsHandler: session.NewHandler(logger, sessionService),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      http.TimeoutHandler(router, cfg.AppRequestTimeout, "request timed out"),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := group.Wait(); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}
