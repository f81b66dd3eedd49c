package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	apiauth "github.com/evefonwu/auth-profiles/internal/api/auth"
	apiprofiles "github.com/evefonwu/auth-profiles/internal/api/profiles"
	"github.com/evefonwu/auth-profiles/internal/middleware"
)

type Server struct {
	router       chi.Router
	db           *pgxpool.Pool
	authHandler  *apiauth.Handler
	profHandler  *apiprofiles.Handler
	callers      *middleware.CallerResolver
	magicLimiter *middleware.RateLimiter
}

type Options struct {
	DB             *pgxpool.Pool
	AuthHandler    *apiauth.Handler
	ProfileHandler *apiprofiles.Handler
	Callers        *middleware.CallerResolver
	MagicLinkRate  float64
	MagicLinkBurst int
	AllowedOrigins string
}

func New(opts Options) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		db:           opts.DB,
		authHandler:  opts.AuthHandler,
		profHandler:  opts.ProfileHandler,
		callers:      opts.Callers,
		magicLimiter: middleware.NewRateLimiter(opts.MagicLinkRate, opts.MagicLinkBurst),
	}
	s.registerRoutes(opts.AllowedOrigins)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(allowedOrigins string) {
	r := s.router

	// RemoteAddr is left untouched: the rate limiter and audit log decide
	// for themselves whether proxy headers are trustworthy (TRUST_PROXY).
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(allowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Route("/auth/v1", func(r chi.Router) {
		r.With(s.magicLimiter.Middleware).Post("/magiclink", s.authHandler.MagicLink)
		r.Get("/verify", s.authHandler.Verify)
		r.Post("/token", s.authHandler.Token)

		r.Group(func(r chi.Router) {
			r.Use(s.callers.Resolve, s.callers.RequireUser)
			r.Get("/user", s.authHandler.GetUser)
			r.Put("/user", s.authHandler.UpdateUser)
			r.Post("/logout", s.authHandler.Logout)
		})
	})

	// Profile routes resolve the caller but never require one: anonymous
	// requests flow through and the policy layer shows them zero rows, so
	// not-found and not-authenticated are deliberately the same answer.
	r.Route("/profile/v1", func(r chi.Router) {
		r.Use(s.callers.Resolve)
		r.Get("/", s.profHandler.Get)
		r.Get("/{id}", s.profHandler.Get)
		r.Patch("/", s.profHandler.Patch)
		r.Post("/avatar", s.profHandler.UploadAvatar)
	})
}

// securityHeaders adds security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
