// Package devnet serves a local key-release network over HTTP, speaking the
// same JSON protocol as a production key-release service.
package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"timelock/internal/codec"
	"timelock/internal/log"
	"timelock/internal/metrics"
	"timelock/internal/timeauth"
)

const (
	moduleName = "devnet"

	// HealthPath answers 200 while the server is up.
	HealthPath = "/healthz"
	// MetricsPath exposes the prometheus collectors.
	MetricsPath = "/metrics"

	maxRequestSize = 1 << 12
)

// Server exposes a timeauth.Devnet to HTTP clients.
type Server struct {
	network *timeauth.Devnet
	metrics metrics.RequestMetrics
	logger  *log.Logger
	handler http.Handler
}

// NewServer creates a server for network.
func NewServer(network *timeauth.Devnet, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		network: network,
		metrics: metrics.NewDefaultRequestMetrics(moduleName),
		logger:  logger.WithModule(moduleName),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	r.Post(timeauth.RegisterIdentityPath, s.registerIdentity)
	r.Get(timeauth.DecryptionKeyPath, s.decryptionKey)
	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle(MetricsPath, promhttp.Handler())

	// Browser clients call the service from other origins.
	s.handler = cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}).Handler(r)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:           addr,
		Handler:        s.handler,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("serving devnet", "addr", addr, "eon_key", s.network.EonKey())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerIdentity(w http.ResponseWriter, r *http.Request) {
	var req timeauth.RegisterIdentityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if req.DecryptionTimestamp <= 0 {
		http.Error(w, "decryption_timestamp must be positive", http.StatusBadRequest)
		return
	}

	reg, err := s.network.RegisterIdentity(r.Context(), req.DecryptionTimestamp)
	if err != nil {
		s.logger.Error("registration failed", "release", req.DecryptionTimestamp, "err", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("registered identity", "release", reg.ReleaseTimestamp, "identity", reg.Identity)
	writeJSON(w, timeauth.RegisterIdentityResponse{
		EonKey:   reg.EonKey,
		Identity: reg.Identity,
	})
}

func (s *Server) decryptionKey(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	key, err := s.network.FetchReleaseKey(r.Context(), codec.NormalizeHex(identity))
	switch {
	case err == nil:
	case errors.Is(err, timeauth.ErrKeyNotYetAvailable):
		http.Error(w, "key not yet released", http.StatusTooEarly)
		return
	case errors.Is(err, timeauth.ErrUnknownIdentity):
		http.Error(w, "unknown identity", http.StatusBadRequest)
		return
	default:
		s.logger.Error("key lookup failed", "identity", identity, "err", err)
		http.Error(w, "key lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, timeauth.DecryptionKeyResponse{
		DecryptionKey: key,
		Identity:      codec.NormalizeHex(identity),
	})
}

// metricsMiddleware counts requests by route and status class and records
// their latency.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New()
		endpoint := r.URL.Path
		switch endpoint {
		case timeauth.RegisterIdentityPath, timeauth.DecryptionKeyPath, HealthPath, MetricsPath:
		default:
			endpoint = "ignored"
		}

		t := time.Now()
		timer := s.metrics.RequestTimer(endpoint)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		timer.ObserveDuration()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		statusTxt := "failure"
		switch {
		case status < 400:
			statusTxt = "success"
		case status == http.StatusTooEarly:
			statusTxt = "too_early"
		case status < 500:
			statusTxt = "failure_4xx"
		}
		s.metrics.RequestCounter(endpoint, statusTxt).Inc()

		s.logger.Debug("served request",
			"endpoint", endpoint,
			"request_id", requestID,
			"status_code", status,
			"latency", time.Since(t),
		)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
