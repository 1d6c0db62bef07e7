package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tatibku/tatibku/internal/platform/httpx"
	"github.com/tatibku/tatibku/internal/shared"
)

// Handler serves the catalog API. Reads are open to every authenticated
// actor; mutations require the admin role.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	admin    func(http.Handler) http.Handler
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		admin:    admin,
	}
}

// Routes registers catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/violations", func(r chi.Router) {
		r.Get("/", h.ListViolations)
		r.Get("/{id}", h.GetViolation)
		if h.admin != nil {
			r.With(h.admin).Post("/", h.CreateViolation)
			r.With(h.admin).Put("/{id}", h.UpdateViolation)
		} else {
			r.Post("/", h.CreateViolation)
			r.Put("/{id}", h.UpdateViolation)
		}
	})
	r.Route("/sanction-types", func(r chi.Router) {
		r.Get("/", h.ListSanctionTypes)
		r.Get("/{id}", h.GetSanctionType)
		if h.admin != nil {
			r.With(h.admin).Post("/", h.CreateSanctionType)
			r.With(h.admin).Put("/{id}", h.UpdateSanctionType)
		} else {
			r.Post("/", h.CreateSanctionType)
			r.Put("/{id}", h.UpdateSanctionType)
		}
	})
}

func (h *Handler) listFilter(r *http.Request) ListFilter {
	filter := ListFilter{Search: r.URL.Query().Get("search")}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return filter
}

type listResponse[T any] struct {
	Items      []T               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	filter := h.listFilter(r)
	violations, total, err := h.service.ListViolations(r.Context(), filter)
	if err != nil {
		h.logger.Error("list violations failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if violations == nil {
		violations = []Violation{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[Violation]{
		Items:      violations,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) GetViolation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	v, err := h.service.GetViolation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) CreateViolation(w http.ResponseWriter, r *http.Request) {
	var input CreateViolationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	v, err := h.service.CreateViolation(r.Context(), input)
	if err != nil {
		h.logger.Error("create violation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) UpdateViolation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var input UpdateViolationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	v, err := h.service.UpdateViolation(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update violation failed", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) ListSanctionTypes(w http.ResponseWriter, r *http.Request) {
	filter := h.listFilter(r)
	types, total, err := h.service.ListSanctionTypes(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sanction types failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if types == nil {
		types = []SanctionType{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[SanctionType]{
		Items:      types,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) GetSanctionType(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	st, err := h.service.GetSanctionType(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) CreateSanctionType(w http.ResponseWriter, r *http.Request) {
	var input CreateSanctionTypeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	st, err := h.service.CreateSanctionType(r.Context(), input)
	if err != nil {
		h.logger.Error("create sanction type failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) UpdateSanctionType(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var input UpdateSanctionTypeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	st, err := h.service.UpdateSanctionType(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update sanction type failed", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
