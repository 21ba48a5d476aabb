package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
)

/*
Server exposes a Distributor over JSON/HTTP.

Issuer endpoints:
  POST /distributors               create a distributor { base?, root, mint, maxNumNodes, maxTotalClaim }
  GET  /distributors               list distributors
  GET  /distributors/{key}         one distributor with its counters
  POST /distributors/{key}/fund    mint { amount } into the reserve

Claimant endpoints:
  POST /claim                                   redeem a leaf, answers the ClaimStatus receipt
  GET  /distributors/{key}/claims               every receipt, by index
  GET  /distributors/{key}/claims/{index}       { claimed, status? } for one leaf
  GET  /balances/{tokenAccount}                 token account balance

Operational:
  GET  /health

Failures answer { error, code } where code is the program error code of the
distributor error (6000 and up) or 0 for malformed requests and storage faults.
POST /claim is rate limited across all callers and answers 429 when the
limiter is exhausted. Every response carries an X-Request-Id.
*/

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-Id"

// Config holds the HTTP server settings.
type Config struct {
	Port int

	// ClaimsPerSecond of 0 disables rate limiting of POST /claim.
	ClaimsPerSecond float64
	ClaimBurst      int

	// PersistenceType is reported by /health.
	PersistenceType string
}

// Server handles HTTP requests for a distributor
type Server struct {
	svc          *distributor.Distributor
	logger       *zap.Logger
	claimLimiter *rate.Limiter
	persistence  string
	httpServer   *http.Server
}

// NewServer creates a new server instance
func NewServer(svc *distributor.Distributor, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		svc:         svc,
		logger:      logger,
		persistence: cfg.PersistenceType,
	}
	if cfg.ClaimsPerSecond > 0 {
		s.claimLimiter = rate.NewLimiter(rate.Limit(cfg.ClaimsPerSecond), cfg.ClaimBurst)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /distributors", s.handleCreateDistributor)
	mux.HandleFunc("GET /distributors", s.handleListDistributors)
	mux.HandleFunc("GET /distributors/{key}", s.handleGetDistributor)
	mux.HandleFunc("POST /distributors/{key}/fund", s.handleFundReserve)

	mux.HandleFunc("POST /claim", s.handleClaim)
	mux.HandleFunc("GET /distributors/{key}/claims", s.handleListClaims)
	mux.HandleFunc("GET /distributors/{key}/claims/{index}", s.handleGetClaimStatus)
	mux.HandleFunc("GET /balances/{account}", s.handleGetBalance)

	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.instrument(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server in the background
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument tags every request with an id, echoes it and logs the outcome.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), requestID)))

		s.logger.Sugar().Debugw("HTTP request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
