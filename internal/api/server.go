package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/chat"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/importer"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/metrics"
	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

// ChatService is the turn pipeline. *chat.Service satisfies it.
type ChatService interface {
	Begin(ctx context.Context, req chat.Request) (*chat.Turn, error)
	Finish(ctx context.Context, turn *chat.Turn, response string) error
	SaveLead(ctx context.Context, lead store.Lead, conversationID string) (uuid.UUID, error)
}

// CallImporter loads discovery-call exports. *importer.Importer satisfies it.
type CallImporter interface {
	Import(ctx context.Context, r io.Reader, dryRun bool) (importer.Report, error)
}

type Options struct {
	Port             int
	APIToken         string
	AllowedOrigins   []string
	MaxMessageLength int
	PromptVersion    string
	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

type Server struct {
	router   *chi.Mux
	port     int
	opts     Options
	chat     ChatService
	importer CallImporter
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
	http     *http.Server
}

func NewServer(opts Options, chatSvc ChatService, imp CallImporter, m *metrics.Metrics, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		ExposedHeaders:   []string{"X-Conversation-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{
		router:   router,
		port:     opts.Port,
		opts:     opts,
		chat:     chatSvc,
		importer: imp,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/parrit/status", s.status)
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Post("/api/chat", s.handleChat)
	router.Post("/api/leads", s.handleSaveLead)

	if opts.APIToken != "" && imp != nil {
		router.Route("/api/v1/discovery-calls", func(r chi.Router) {
			r.Use(BearerAuthMiddleware(opts.APIToken))
			r.Post("/import", s.handleImport)
		})
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. Streams are long-lived, so no write timeout
// is set; only header reads are bounded.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":        "parrit",
		"prompt_version": s.opts.PromptVersion,
	})
}

// BearerAuthMiddleware rejects requests whose bearer token differs from token.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
