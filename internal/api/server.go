// Package api exposes the dispatcher over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenfinney/assist"
	"github.com/tenfinney/assist/internal/circuitbreaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Dispatcher is the part of *assist.Dispatcher the API serves
type Dispatcher interface {
	R() *assist.Request
	Queue() []*assist.TransactionRecord
	Lookup(id string) (*assist.TransactionRecord, bool)
	MarkInPool(id string) error
	CircuitBreakerStats() circuitbreaker.Stats
}

// Server is the assistd HTTP server
type Server struct {
	d      Dispatcher
	router *chi.Mux
	server *http.Server
}

// NewServer creates a server for d listening on addr
func NewServer(addr string, d Dispatcher) *Server {
	r := chi.NewRouter()
	s := &Server{
		d:      d,
		router: r,
		server: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogging)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/transactions", func(r chi.Router) {
		r.Post("/", s.handleDispatch)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/in-pool", s.handleInPool)
	})

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called
func (s *Server) Start() error {
	logger.WithFields(logger.Fields{
		"addr": s.server.Addr,
	}).Info("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.WithFields(logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.d.CircuitBreakerStats()
	status := http.StatusOK
	body := map[string]any{
		"status":               "ok",
		"provider_breaker":     stats.State.String(),
		"consecutive_failures": stats.ConsecutiveFailures,
	}
	if stats.State == circuitbreaker.StateOpen {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Warn("couldn't write response")
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	EventCode string `json:"eventCode,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var txErr *assist.TxError
	if errors.As(err, &txErr) {
		resp.EventCode = string(txErr.Code)
	}
	writeJSON(w, status, resp)
}
