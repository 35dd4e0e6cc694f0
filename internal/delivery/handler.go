package delivery

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitewise-erp/sitewise/internal/platform/httpx"
	"github.com/sitewise-erp/sitewise/internal/rbac"
	"github.com/sitewise-erp/sitewise/internal/shared"
)

const maxEvidenceSize = 10 << 20

// Handler manages delivery challan endpoints.
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

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireActor())
		r.Get("/deliveries", h.list)
		r.Get("/deliveries/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RolePurchaseOfficer))
		r.Post("/deliveries", h.create)
		r.Post("/deliveries/{id}/items/{itemID}/delivered", h.markDelivered)
		r.Post("/deliveries/{id}/cancel", h.cancel)
		r.Post("/deliveries/{id}/evidence/{kind}", h.attachEvidence)
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
	dc, err := h.service.CreateChallan(r.Context(), input, actor)
	if err != nil {
		h.logger.Error("create challan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dc)
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	itemID, _ := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	actor, _ := shared.ActorFromContext(r.Context())
	dc, err := h.service.MarkItemDelivered(r.Context(), id, itemID, actor)
	if err != nil {
		h.logger.Error("mark item delivered", slog.Any("error", err),
			slog.Int64("challan_id", id), slog.Int64("item_id", itemID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dc)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	actor, _ := shared.ActorFromContext(r.Context())
	dc, err := h.service.CancelChallan(r.Context(), id, actor)
	if err != nil {
		h.logger.Error("cancel challan", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dc)
}

func (h *Handler) attachEvidence(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	kind := EvidenceKind(strings.ToUpper(chi.URLParam(r, "kind")))

	if err := r.ParseMultipartForm(maxEvidenceSize); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", "photo file field required")
		return
	}
	defer file.Close()

	actor, _ := shared.ActorFromContext(r.Context())
	dc, warning, err := h.service.AttachEvidence(r.Context(), id, kind, header.Filename, file, actor)
	if err != nil {
		h.logger.Error("attach evidence", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	if warning != "" {
		httpx.JSON(w, http.StatusOK, httpx.PartialSuccess{Data: dc, Warning: warning})
		return
	}
	httpx.JSON(w, http.StatusOK, dc)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	dc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	poID, _ := strconv.ParseInt(r.URL.Query().Get("po_id"), 10, 64)
	requestID, _ := strconv.ParseInt(r.URL.Query().Get("request_id"), 10, 64)
	filters := ListFilters{
		Status:    Status(r.URL.Query().Get("status")),
		POID:      poID,
		RequestID: requestID,
	}
	items, total, err := h.service.List(r.Context(), limit, offset, filters)
	if err != nil {
		h.logger.Error("list challans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"deliveries": items,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
		"pagination": shared.NewPagination(offset/limit+1, limit, total),
	})
}
