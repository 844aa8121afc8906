// Package api exposes the reconciliation service over HTTP.
//
// Routes:
//
//	POST /reconciliations
//	GET  /reconciliations?status=&firmId=&limit=
//	GET  /reconciliations/{id}
//	POST /reconciliations/{id}/start | sync | auto-match | manual-match | unmatch
//	POST /reconciliations/{id}/adjustments
//	POST /reconciliations/{id}/complete | approve
//	GET  /reconciliations/{id}/candidates/{transactionId}
//	GET  /reconciliations/{id}/report?format=json|csv|console
//	POST /ledger/transactions
//	GET  /healthz
//
// Errors are written as {"error":{"kind","code","message","suggestion","context"}}.
package api

import (
	"net/http"
	"time"

	"intercompany-reconciliation-service/internal/reconciler"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Config holds HTTP layer settings
type Config struct {
	// RateLimitInterval is the time between two token refills; 0 disables limiting
	RateLimitInterval time.Duration
	RateLimitBurst    int

	// MaxBodyBytes caps JSON and CSV request bodies
	MaxBodyBytes int64
}

// DefaultConfig returns the HTTP settings used by `reconciler serve`
func DefaultConfig() *Config {
	return &Config{
		RateLimitInterval: 100 * time.Millisecond,
		RateLimitBurst:    30,
		MaxBodyBytes:      10 << 20,
	}
}

// Server holds the handlers and their collaborators
type Server struct {
	svc     *reconciler.Service
	config  *Config
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewServer creates the HTTP layer on top of svc
func NewServer(svc *reconciler.Service, config *Config, log logger.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Server{
		svc:    svc,
		config: config,
		logger: log.WithComponent("api"),
	}
	if config.RateLimitInterval > 0 {
		burst := config.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Every(config.RateLimitInterval), burst)
	}
	return s
}

// Routes builds the chi router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.contextualLogger)
	r.Use(s.requestLogging)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, routeNotFound(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, r, http.StatusMethodNotAllowed, methodNotAllowed(r))
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/reconciliations", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/start", s.handleStart)
			r.Post("/sync", s.handleSync)
			r.Post("/auto-match", s.handleAutoMatch)
			r.Post("/manual-match", s.handleManualMatch)
			r.Post("/unmatch", s.handleUnmatch)
			r.Post("/adjustments", s.handleAddAdjustment)
			r.Post("/complete", s.handleComplete)
			r.Post("/approve", s.handleApprove)
			r.Get("/candidates/{transactionId}", s.handleCandidates)
			r.Get("/report", s.handleReport)
		})
	})

	r.Post("/ledger/transactions", s.handleImportLedger)

	return r
}
