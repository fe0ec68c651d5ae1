package app

import (
	"log/slog"
	"net/http"

	"github.com/unrolled/secure"

	"github.com/aegis-admin/aegis-admin/internal/auth"
	"github.com/aegis-admin/aegis-admin/internal/observability"
	"github.com/aegis-admin/aegis-admin/internal/platform/httpx"
	"github.com/aegis-admin/aegis-admin/internal/session"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger   *slog.Logger
	Config   *Config
	Sessions *session.Service
	Metrics  *observability.Metrics
}

// MiddlewareStack installs the outer middleware chain: secure headers,
// metrics, then session-to-actor resolution.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	stack := []func(http.Handler) http.Handler{
		secureMiddleware.Handler,
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	stack = append(stack, ActorMiddleware(cfg.Logger, cfg.Sessions))
	return stack
}

// ActorMiddleware resolves the request's session token into an actor and
// stores it in context. Requests without a resolvable session pass through
// unauthenticated; RequireAuth and the rbac guards reject them later.
func ActorMiddleware(logger *slog.Logger, sessions *session.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" || sessions == nil {
				next.ServeHTTP(w, r)
				return
			}
			resolved, err := sessions.Resolve(r.Context(), token)
			if err != nil {
				if logger != nil {
					logger.Error("resolve session", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if resolved == nil {
				next.ServeHTTP(w, r)
				return
			}
			perms := make(map[string]struct{}, len(resolved.Permissions))
			for _, name := range resolved.Permissions {
				perms[name] = struct{}{}
			}
			actor := &shared.Actor{
				UserID:      resolved.UserID,
				Email:       resolved.Email,
				RoleName:    resolved.RoleName,
				Power:       resolved.Power,
				Permissions: perms,
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

// RequireAuth rejects requests with no resolved actor.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
