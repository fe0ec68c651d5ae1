package session

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-admin/aegis-admin/internal/platform/httpx"
)

// Handler exposes administrative session management.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers session administration routes. Callers are expected
// to wrap them in the sessions.devices.* permission guards.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users/{userID}/sessions", h.listSessions)
	r.Get("/users/{userID}/sessions/suspicious", h.suspicious)
	r.Delete("/users/{userID}/sessions", h.revokeAll)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	sessions, err := h.service.ListActive(r.Context(), userID)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	now := h.service.clock()
	type view struct {
		DeviceID     string `json:"device_id"`
		IP           string `json:"ip"`
		UserAgent    string `json:"user_agent"`
		Status       Status `json:"status"`
		CreatedAt    string `json:"created_at"`
		LastActiveAt string `json:"last_active_at"`
	}
	views := make([]view, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, view{
			DeviceID:     sess.DeviceID,
			IP:           sess.IP,
			UserAgent:    sess.UserAgent,
			Status:       sess.StatusAt(now),
			CreatedAt:    sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			LastActiveAt: sess.LastActiveAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (h *Handler) suspicious(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	flagged, err := h.service.DetectSuspiciousActivity(r.Context(), userID)
	if err != nil {
		h.fail(w, "detect suspicious activity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suspicious": flagged})
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	result, err := h.service.RevokeAll(r.Context(), userID)
	if err != nil {
		h.fail(w, "revoke all sessions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
