package comparison

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/rbac"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

// Handler manages cost comparison endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbacMW}
}

// MountRoutes registers comparison routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireActor())
		r.Get("/comparisons/{id}", h.show)
		r.Get("/requests/{id}/comparisons", h.listByRequest)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RolePurchaseOfficer))
		r.Post("/comparisons", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RoleManager))
		r.Post("/comparisons/{id}/decide", h.decide)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	created, err := h.service.Create(r.Context(), input, actor)
	if err != nil {
		h.logger.Error("create comparison", slog.Any("error", err), slog.Int64("request_id", input.RequestID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var input DecideInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	decided, err := h.service.Decide(r.Context(), id, input, actor)
	if err != nil {
		h.logger.Error("decide comparison", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decided)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	cmp, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cmp)
}

func (h *Handler) listByRequest(w http.ResponseWriter, r *http.Request) {
	requestID, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	items, err := h.service.ListByRequest(r.Context(), requestID)
	if err != nil {
		h.logger.Error("list comparisons", slog.Any("error", err), slog.Int64("request_id", requestID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"comparisons": items})
}
