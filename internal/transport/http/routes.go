package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "note-queue-service/docs"
)

type RouteConfig struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	Log             zerolog.Logger
}

func Routes(h *Handler, cfg RouteConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	limit := RateLimit(cfg.RateLimitPerMin)

	r.Group(func(r chi.Router) {
		r.Use(Auth(cfg.JWTSecret))

		r.Route("/jobs", func(r chi.Router) {
			r.With(limit).Post("/", h.CreateJob)
			r.Get("/", h.ListJobs)
			r.Get("/stats", h.GetStats)
			r.Get("/events", h.Events)
			r.Get("/{id}", h.GetJob)
			r.Get("/{id}/position", h.GetPosition)
			r.With(limit).Patch("/{id}", h.UpdateJob)
		})
		r.With(limit).Post("/notes", h.CreateNotes)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
