package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tatibku/tatibku/internal/auth"
	"github.com/tatibku/tatibku/internal/cases"
	"github.com/tatibku/tatibku/internal/catalog"
	"github.com/tatibku/tatibku/internal/observability"
	"github.com/tatibku/tatibku/internal/students"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Auth            *auth.Middleware
	CasesHandler    *cases.Handler
	CatalogHandler  *catalog.Handler
	StudentsHandler *students.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if params.Auth != nil {
			api.Use(params.Auth.Authenticate)
		}
		if params.CasesHandler != nil {
			params.CasesHandler.Routes(api)
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.Routes(api)
		}
		if params.StudentsHandler != nil {
			params.StudentsHandler.Routes(api)
		}
	})

	return r
}
