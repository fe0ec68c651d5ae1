package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-admin/aegis-admin/internal/platform/httpx"
	"github.com/aegis-admin/aegis-admin/internal/session"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// CookieName carries the session token for browser clients; API clients may
// send the same token as a bearer credential instead.
const CookieName = "aegis_session"

// Handler exposes login/logout endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions *session.Service
	validate *validator.Validate
	secure   bool
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *session.Service, secure bool) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		sessions: sessions,
		validate: validator.New(),
		secure:   secure,
	}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8"`
	RememberDevice bool   `json:"remember_device"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("email", req.Email))
		httpx.RespondError(w, err)
		return
	}

	token, err := h.sessions.Create(r.Context(), user.ID, session.CreateOptions{
		RememberDevice: req.RememberDevice,
		IP:             clientIP(r),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("create session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	httpx.JSON(w, http.StatusOK, map[string]any{"token": token, "user_id": user.ID})
}

type logoutRequest struct {
	// Scope selects which sessions to terminate: single (default), others,
	// or all. "all" forces re-authentication on every device.
	Scope string `json:"scope" validate:"omitempty,oneof=single others all"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	token := TokenFromRequest(r)
	if actor == nil || token == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}

	var req logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}

	var (
		result *session.RevokeResult
		err    error
	)
	switch req.Scope {
	case "others":
		result, err = h.sessions.RevokeOthers(r.Context(), actor.UserID, token)
	case "all":
		result, err = h.sessions.RevokeAll(r.Context(), actor.UserID)
	default:
		result, err = h.sessions.RevokeSingle(r.Context(), token)
	}
	if err != nil {
		h.logger.Error("logout", slog.String("scope", req.Scope), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if req.Scope != "others" {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secure,
			SameSite: http.SameSiteStrictMode,
		})
	}
	httpx.JSON(w, http.StatusOK, result)
}

// TokenFromRequest extracts the session token from the Authorization header
// or the session cookie.
func TokenFromRequest(r *http.Request) string {
	const bearerPrefix = "Bearer "
	if authz := r.Header.Get("Authorization"); len(authz) > len(bearerPrefix) && authz[:len(bearerPrefix)] == bearerPrefix {
		return authz[len(bearerPrefix):]
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	return r.RemoteAddr
}
