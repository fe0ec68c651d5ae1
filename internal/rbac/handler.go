package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-admin/aegis-admin/internal/platform/httpx"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// Handler exposes role and permission administration over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	guard    Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers role and permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.With(h.guard.RequireAny(PermRolesView)).Get("/", h.listRoles)
		r.With(h.guard.RequireAny(PermRolesAssign, PermRolesEdit)).Get("/assignable", h.listAssignableRoles)
		r.With(h.guard.RequireAll(PermRolesEdit)).Post("/", h.createRole)
		r.With(h.guard.RequireAll(PermRolesEdit)).Patch("/{roleID}", h.updateRole)
		r.With(h.guard.RequireAll(PermRolesDelete)).Delete("/{roleID}", h.deleteRole)
		r.With(h.guard.RequireAll(PermPermsAssign)).Put("/{roleID}/permissions", h.replacePermissions)
	})
	r.With(h.guard.RequireAny(PermPermsView)).Get("/permissions", h.listPermissions)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listAssignableRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListAssignableRoles(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list assignable roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
	Power       int    `json:"power" validate:"required,gt=0,lt=100"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), shared.ActorFromContext(r.Context()), CreateRoleInput{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Power:       req.Power,
	})
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateRoleRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=128"`
	IsActive    bool   `json:"is_active"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.UpdateRole(r.Context(), shared.ActorFromContext(r.Context()), roleID, UpdateRoleInput{
		DisplayName: req.DisplayName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type deleteRoleRequest struct {
	DefaultRoleID int64            `json:"default_role_id"`
	PerUser       map[string]int64 `json:"per_user"`
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.roleID(w, r)
	if !ok {
		return
	}
	plan := TransferPlan{}
	if r.Body != nil && r.ContentLength != 0 {
		var req deleteRoleRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		plan.DefaultRoleID = req.DefaultRoleID
		if len(req.PerUser) > 0 {
			plan.PerUser = make(map[int64]int64, len(req.PerUser))
			for raw, target := range req.PerUser {
				userID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "per_user keys must be user ids")
					return
				}
				plan.PerUser[userID] = target
			}
		}
	}
	result, err := h.service.DeleteRole(r.Context(), shared.ActorFromContext(r.Context()), roleID, plan)
	if err != nil {
		h.fail(w, "delete role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type replacePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,min=3,max=128"`
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var req replacePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.ReplaceRolePermissions(r.Context(), shared.ActorFromContext(r.Context()), roleID, req.Permissions)
	if err != nil {
		h.fail(w, "replace role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	result, err := h.service.ListPermissions(r.Context(), PermissionQuery{
		Category: q.Get("category"),
		Search:   q.Get("q"),
		Page:     page,
		PerPage:  perPage,
		Locale:   q.Get("locale"),
	})
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
