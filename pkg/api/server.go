// Package api exposes the till's payment machine over HTTP for the host
// application and for operators: status inspection, cancellation, outcome
// recovery and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"golocallink/pkg/gateway"
	"golocallink/pkg/logging"
	"golocallink/pkg/mask"
	"golocallink/pkg/money"
	"golocallink/pkg/txn"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// Registry is the Prometheus registry served at /metrics.
	// Nil means the default registry.
	Registry *prometheus.Registry
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server provides HTTP endpoints around a payment machine.
type Server struct {
	machine *txn.Machine
	server  *http.Server
	config  ServerConfig
	logger  *logging.Logger
}

// NewServer creates the API server for the given payment machine.
func NewServer(machine *txn.Machine, config ServerConfig) *Server {
	s := &Server{
		machine: machine,
		config:  config,
		logger:  logging.Global().Named("api"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/txn/initiate", s.handleInitiate).Methods(http.MethodPost)
	r.HandleFunc("/txn/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/txn/force-check", s.handleForceCheck).Methods(http.MethodPost)
	r.HandleFunc("/txn/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)

	var metricsHandler http.Handler
	if config.Registry != nil {
		metricsHandler = promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus reports the current transaction snapshot. Card fields go
// through the masking helper, so the response never carries raw card data.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.machine.Snapshot()

	response := map[string]interface{}{
		"status":       snap.Status.String(),
		"uti":          snap.UTI,
		"order_ref":    snap.OrderRef,
		"amount_minor": snap.AmountMinor,
		"timestamp":    time.Now().Unix(),
	}
	if snap.Card != nil {
		response["cardBin"] = snap.Card.BIN
		response["cardLast4"] = snap.Card.Last4
		response["authCode"] = snap.Card.AuthCode
	}
	if snap.LastError != "" {
		response["last_error"] = snap.LastError
	}

	writeJSON(w, http.StatusOK, mask.Mask(response))
}

type initiateRequest struct {
	OrderRef string  `json:"order_ref"`
	Amount   float64 `json:"amount"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "malformed request body",
		})
		return
	}
	if req.OrderRef == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "order_ref is required",
		})
		return
	}

	uti, err := s.machine.Initiate(r.Context(), req.OrderRef, req.Amount)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case txnErr(err):
			status = http.StatusConflict
		case money.IsInvalidAmount(err),
			errors.Is(err, money.ErrAmountTooLarge),
			errors.Is(err, money.ErrInvalidDecimalPlaces):
			status = http.StatusBadRequest
		case gateway.IsNotConfigured(err), errors.Is(err, gateway.ErrDisabled):
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"error": err.Error(),
			"uti":   uti,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"uti":       uti,
		"order_ref": req.OrderRef,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Cancel(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": s.machine.Status().String(),
	})
}

func (s *Server) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.machine.ForceStatusCheck(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		if txnErr(err) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": outcome.State.String(),
		"uti":     outcome.UTI,
		"status":  s.machine.Status().String(),
	})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Acknowledge(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": s.machine.Status().String(),
	})
}

// txnErr reports whether err is a lifecycle error (caller's state is
// wrong) rather than a gateway failure.
func txnErr(err error) bool {
	switch {
	case errors.Is(err, txn.ErrTransactionInProgress),
		errors.Is(err, txn.ErrNoActiveTransaction),
		errors.Is(err, txn.ErrNoTransaction),
		errors.Is(err, txn.ErrNotTerminal):
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
