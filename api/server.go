/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend
  5. Actor:      Request-scoped authenticated-user identity

IDENTITY:
  Authentication itself is an external collaborator. It forwards the
  authenticated user id in X-Actor-Id; the Actor middleware stores it
  in the request context and handlers pass it explicitly into the
  Coordinator and the audit writer. Nothing reads ambient globals.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor extracts the authenticated user id forwarded by the auth layer
// and makes it available through the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get("X-Actor-Id")
		if actor == "" {
			actor = "anonymous"
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Id"},
		AllowCredentials: true,
	}))
	r.Use(Actor)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Advisory conflict check
		r.Post("/conflicts/check", h.CheckConflicts)

		// Bill routes
		r.Route("/bills", func(r chi.Router) {
			r.Get("/", h.ListBills)
			r.Post("/", h.CreateBill)
			r.Get("/{id}", h.GetBill)
			r.Put("/{id}", h.UpdateBill)
			r.Delete("/{id}", h.DeleteBill)
		})

		// Reference data
		r.Get("/employees", h.ListEmployees)
		r.Get("/hotels", h.ListHotels)

		// Audit log
		r.Get("/audit", h.ListAudit)
	})

	return r
}
