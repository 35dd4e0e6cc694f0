package inventory

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

const maxImageSize = 10 << 20

// Handler manages inventory endpoints.
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

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireActor())
		r.Get("/items", h.list)
		r.Get("/items/{id}", h.show)
		r.Get("/items/{id}/stock", h.stock)
		r.Get("/items/{id}/movements", h.movements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(shared.RolePurchaseOfficer))
		r.Post("/items", h.create)
		r.Put("/items/{id}", h.update)
		r.Post("/items/{id}/adjust", h.adjust)
		r.Post("/items/{id}/images", h.attachImage)
		r.Delete("/items/{id}/images/{imageID}", h.removeImage)
		r.Post("/items/{id}/vendors/{vendorID}", h.linkVendor)
		r.Delete("/items/{id}/vendors/{vendorID}", h.unlinkVendor)
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
	item, err := h.service.Create(r.Context(), input, actor)
	if err != nil {
		h.logger.Error("create item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var input UpdateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	item, err := h.service.Update(r.Context(), id, input, actor)
	if err != nil {
		h.logger.Error("update item", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var input AdjustInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	stock, err := h.service.AdjustStock(r.Context(), id, input, actor)
	if err != nil {
		h.logger.Error("adjust stock", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": id, "central_stock": stock})
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	stock, err := h.service.Stock(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": id, "central_stock": stock})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), id, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) attachImage(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", "image file field required")
		return
	}
	defer file.Close()

	actor, _ := shared.ActorFromContext(r.Context())
	item, err := h.service.AttachImage(r.Context(), id, header.Filename, file, actor)
	if err != nil {
		h.logger.Error("attach item image", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) removeImage(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	imageID, _ := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	actor, _ := shared.ActorFromContext(r.Context())
	item, err := h.service.RemoveImage(r.Context(), id, imageID, actor)
	if err != nil {
		h.logger.Error("remove item image", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) linkVendor(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	vendorID, _ := strconv.ParseInt(chi.URLParam(r, "vendorID"), 10, 64)
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.LinkVendor(r.Context(), id, vendorID, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unlinkVendor(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	vendorID, _ := strconv.ParseInt(chi.URLParam(r, "vendorID"), 10, 64)
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.UnlinkVendor(r.Context(), id, vendorID, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, total, err := h.service.List(r.Context(), limit, offset, r.URL.Query().Get("search"))
	if err != nil {
		h.logger.Error("list items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
		"pagination": shared.NewPagination(offset/limit+1, limit, total),
	})
}
