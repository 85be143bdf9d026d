package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	appMiddleware "github.com/FACorreiaa/go-credentials-api/app/middleware"
	_ "github.com/FACorreiaa/go-credentials-api/docs"
	"github.com/FACorreiaa/go-credentials-api/internal/api/account"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AccountHandler         account.Handler
	AuthenticateMiddleware func(http.Handler) http.Handler
	// RequireToken puts the user directory behind the bearer middleware.
	// Off, list/update/delete stay open the way old clients expect.
	RequireToken    bool
	AllowedOrigins  []string
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// SetupRouter initializes and configures the application routes.
// Server-wide middleware (request id, logger, recoverer) is applied in main.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.Get("/health", cfg.AccountHandler.Health)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api", func(r chi.Router) {
		// --- Public ---
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.RateLimitByIP(cfg.LoginRateLimit, cfg.LoginRateWindow))
			r.Post("/register", cfg.AccountHandler.Register)
			r.Post("/login", cfg.AccountHandler.Login)
		})

		// --- Always authenticated ---
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)
			r.Get("/me", cfg.AccountHandler.Me)
		})

		// --- User directory ---
		r.Group(func(r chi.Router) {
			if cfg.RequireToken {
				r.Use(cfg.AuthenticateMiddleware)
			}
			r.Get("/users", cfg.AccountHandler.ListUsers)
			r.Put("/users/{id}", cfg.AccountHandler.UpdateUser)
			r.Delete("/users/{id}", cfg.AccountHandler.DeleteUser)
		})
	})

	return r
}
