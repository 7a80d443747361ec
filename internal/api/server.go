// Package api provides the HTTP surface of the scanning service: the scan
// endpoint, subscription and checkout routes, scan history, and the
// PayMongo webhook receiver.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docscan-ai/docscan/internal/billing"
	"github.com/docscan-ai/docscan/internal/entitlement"
	"github.com/docscan-ai/docscan/internal/pipeline"
	"github.com/docscan-ai/docscan/internal/resilience"
	"github.com/docscan-ai/docscan/internal/store"
	"github.com/docscan-ai/docscan/pkg/paymongo"
)

// userHeader carries the authenticated user's identity, set by the auth
// proxy in front of this service. Requests without it are rejected.
const userHeader = "X-User-Email"

// Server wires the service's HTTP routes.
type Server struct {
	pipeline   *pipeline.Pipeline
	ledger     *entitlement.Ledger
	store      store.Store
	reconciler *billing.Reconciler
	checkout   paymongo.Client
	siteURL    string

	// retry bounds the checkout call to the payment provider. Session
	// creation has no effect until it succeeds, so transient provider
	// failures are safe to retry within the request.
	retry resilience.RetryConfig

	allowedOrigins []string
}

// NewServer creates an API server.
func NewServer(
	p *pipeline.Pipeline,
	ledger *entitlement.Ledger,
	st store.Store,
	reconciler *billing.Reconciler,
	checkout paymongo.Client,
	siteURL string,
) *Server {
	return &Server{
		pipeline:   p,
		ledger:     ledger,
		store:      st,
		reconciler: reconciler,
		checkout:   checkout,
		siteURL:    siteURL,
		retry:      resilience.DefaultRetryConfig(),
	}
}

// SetAllowedOrigins restricts CORS to the given origins. Empty means all.
func (s *Server) SetAllowedOrigins(origins []string) {
	s.allowedOrigins = origins
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", userHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/scans", s.handleListScans)
		r.Get("/subscription", s.handleSubscription)
		r.Post("/subscription/checkout", s.handleCheckout)
	})

	// PayMongo calls this route directly. It is authenticated by the
	// signature header, not by the user header.
	r.Post("/webhooks/paymongo", s.handleWebhook)

	return r
}
