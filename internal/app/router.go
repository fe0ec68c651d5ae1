package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/aegis-admin/aegis-admin/internal/auth"
	"github.com/aegis-admin/aegis-admin/internal/observability"
	"github.com/aegis-admin/aegis-admin/internal/platform/cache"
	"github.com/aegis-admin/aegis-admin/internal/platform/httpx"
	"github.com/aegis-admin/aegis-admin/internal/rbac"
	"github.com/aegis-admin/aegis-admin/internal/session"
	"github.com/aegis-admin/aegis-admin/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Sessions        *session.Service
	SessionCache    *session.Cache
	PermissionCache *rbac.PermissionCache
	AuthHandler     *auth.Handler
	RBACHandler     *rbac.Handler
	UsersHandler    *users.Handler
	SessionsHandler *session.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Aegis defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	loginLimit, loginWindow := 10, time.Minute
	if params.Config != nil {
		if params.Config.LoginRateLimit > 0 {
			loginLimit = params.Config.LoginRateLimit
		}
		if params.Config.LoginRateWindow > 0 {
			loginWindow = params.Config.LoginRateWindow
		}
	}

	var guard rbac.Middleware
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(httprate.LimitByIP(loginLimit, loginWindow))
			params.AuthHandler.MountRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth)
			params.RBACHandler.MountRoutes(r)

			r.Route("/users", func(r chi.Router) {
				r.Use(guard.RequireAny(rbac.PermUsersView, rbac.PermUsersEdit))
				params.UsersHandler.MountRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(guard.RequireAny(rbac.PermSessionsView, rbac.PermSessionsKill))
				params.SessionsHandler.MountRoutes(r)
			})

			r.Get("/cache/stats", cacheStatsHandler(params.SessionCache, params.PermissionCache))
		})
	})

	return r
}

// cacheStatsHandler reports hit rates and sizes for operational telemetry.
func cacheStatsHandler(sessions *session.Cache, permissions *rbac.PermissionCache) http.HandlerFunc {
	type view struct {
		HitRate float64 `json:"hit_rate"`
		Hits    uint64  `json:"hits"`
		Misses  uint64  `json:"misses"`
		Size    int     `json:"size"`
	}
	render := func(stats cache.Stats) view {
		return view{HitRate: stats.HitRate(), Hits: stats.Hits, Misses: stats.Misses, Size: stats.Size}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sessionStats, err := sessions.Stats(r.Context())
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		permissionStats, err := permissions.Stats(r.Context())
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]view{
			"session":    render(sessionStats),
			"permission": render(permissionStats),
		})
	}
}
