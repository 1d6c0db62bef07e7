package cases

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tatibku/tatibku/internal/observability"
	"github.com/tatibku/tatibku/internal/platform/httpx"
	"github.com/tatibku/tatibku/internal/shared"
)

// LifecycleService defines the business contract the handler depends on.
type LifecycleService interface {
	OpenCase(ctx context.Context, input OpenCaseInput, actorID int64) (Case, error)
	AppendAction(ctx context.Context, caseID int64, input AppendActionInput, actorID int64) (Action, error)
	EditAction(ctx context.Context, actionID int64, input EditActionInput, actorID int64) (Action, error)
	DeleteAction(ctx context.Context, actionID, actorID int64) error
	CancelCase(ctx context.Context, caseID, actorID int64) (Case, error)
	GetCase(ctx context.Context, id int64) (Case, error)
	GetCaseByNumber(ctx context.Context, number string) (Case, error)
	ListCases(ctx context.Context, filter ListCasesFilter) ([]CaseWithDetails, int, error)
	ListActions(ctx context.Context, caseID int64) ([]ActionWithDetails, error)
	LatestAction(ctx context.Context, caseID int64) (*Action, error)
}

// Handler serves the case lifecycle API.
type Handler struct {
	logger   *slog.Logger
	service  LifecycleService
	validate *validator.Validate
	metrics  *observability.Metrics
	admin    func(http.Handler) http.Handler
}

// NewHandler constructs the handler. admin gates administrative routes.
func NewHandler(logger *slog.Logger, service LifecycleService, metrics *observability.Metrics, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		metrics:  metrics,
		admin:    admin,
	}
}

// Routes registers the case endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/cases", func(r chi.Router) {
		r.Get("/", h.ListCases)
		r.Post("/", h.OpenCase)
		r.Get("/number/{caseNumber}", h.GetCaseByNumber)
		r.Route("/{caseID}", func(r chi.Router) {
			r.Get("/", h.GetCase)
			r.Get("/actions", h.ListActions)
			r.Post("/actions", h.AppendAction)
			r.Get("/actions/latest", h.LatestAction)
			if h.admin != nil {
				r.With(h.admin).Post("/cancel", h.CancelCase)
			} else {
				r.Post("/cancel", h.CancelCase)
			}
		})
	})
	r.Route("/actions/{actionID}", func(r chi.Router) {
		r.Patch("/", h.EditAction)
		r.Delete("/", h.DeleteAction)
	})
}

func (h *Handler) OpenCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var input OpenCaseInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	created, err := h.service.OpenCase(r.Context(), input, actor.ID)
	if err != nil {
		h.logger.Error("open case failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.countMutation("open_case")
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "caseID")
	if !ok {
		return
	}
	c, err := h.service.GetCase(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) GetCaseByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "caseNumber")
	if number == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid case number")
		return
	}
	c, err := h.service.GetCaseByNumber(r.Context(), number)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type listCasesResponse struct {
	Cases      []CaseWithDetails `json:"cases"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	filter := ListCasesFilter{Search: r.URL.Query().Get("search")}
	if raw := r.URL.Query().Get("student_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.StudentID = &id
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := CaseStatus(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("year"); raw != "" {
		if year, err := strconv.Atoi(raw); err == nil {
			filter.Year = &year
		}
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	results, total, err := h.service.ListCases(r.Context(), filter)
	if err != nil {
		h.logger.Error("list cases failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listCasesResponse{
		Cases:      results,
		Pagination: shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) AppendAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	caseID, ok := h.pathID(w, r, "caseID")
	if !ok {
		return
	}

	var input AppendActionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")

	action, err := h.service.AppendAction(r.Context(), caseID, input, actor.ID)
	if err != nil {
		h.logger.Error("append action failed", slog.Int64("case_id", caseID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.countMutation("append_action")
	httpx.JSON(w, http.StatusCreated, action)
}

func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	caseID, ok := h.pathID(w, r, "caseID")
	if !ok {
		return
	}
	actions, err := h.service.ListActions(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if actions == nil {
		actions = []ActionWithDetails{}
	}
	httpx.JSON(w, http.StatusOK, actions)
}

func (h *Handler) LatestAction(w http.ResponseWriter, r *http.Request) {
	caseID, ok := h.pathID(w, r, "caseID")
	if !ok {
		return
	}
	latest, err := h.service.LatestAction(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if latest == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"action": nil})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"action": latest})
}

func (h *Handler) EditAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	actionID, ok := h.pathID(w, r, "actionID")
	if !ok {
		return
	}

	var input EditActionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	updated, err := h.service.EditAction(r.Context(), actionID, input, actor.ID)
	if err != nil {
		h.logger.Error("edit action failed", slog.Int64("action_id", actionID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.countMutation("edit_action")
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	actionID, ok := h.pathID(w, r, "actionID")
	if !ok {
		return
	}

	if err := h.service.DeleteAction(r.Context(), actionID, actor.ID); err != nil {
		h.logger.Error("delete action failed", slog.Int64("action_id", actionID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.countMutation("delete_action")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	caseID, ok := h.pathID(w, r, "caseID")
	if !ok {
		return
	}

	cancelled, err := h.service.CancelCase(r.Context(), caseID, actor.ID)
	if err != nil {
		h.logger.Error("cancel case failed", slog.Int64("case_id", caseID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.countMutation("cancel_case")
	httpx.JSON(w, http.StatusOK, cancelled)
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (*shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing actor identity")
		return nil, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) countMutation(op string) {
	if h.metrics != nil {
		h.metrics.CountCaseMutation(op)
	}
}
