package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP API using chi.
func NewRouter(handlers *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/records", func(r chi.Router) {
		r.Post("/", handlers.handleCreateRecord)
		r.Get("/search", handlers.handleSearchByCountry)
		r.Get("/{id}", handlers.handleGetRecord)
		r.Put("/{id}", handlers.handleUpdateRecord)
		r.Delete("/{id}", handlers.handleDeleteRecord)
	})

	r.Route("/nodes", func(r chi.Router) {
		r.Post("/{nodeID}/simulate/{state}", handlers.handleNodeSimulate)
	})

	r.Route("/recovery", func(r chi.Router) {
		r.Get("/queue", handlers.handleQueueStatus)
		r.Post("/queue/{nodeID}/drain", handlers.handleQueueDrain)
		r.Post("/monitor/start", handlers.handleMonitorStart)
		r.Post("/monitor/stop", handlers.handleMonitorStop)
		r.Get("/monitor", handlers.handleMonitorStatus)
	})

	r.Get("/health", handlers.handleSystemHealth)

	return r
}
