package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"overlaycast/internal/config"
	"overlaycast/internal/donations"
	"overlaycast/internal/logging"
	"overlaycast/internal/overlay"
	"overlaycast/internal/preflight"
	"overlaycast/internal/relay"
	"overlaycast/internal/services"
)

const maxBodyBytes = 1 << 20

// Store is the subset of the donations store the handlers write through.
type Store interface {
	CreateDonor(ctx context.Context, in donations.DonorInput) (int64, error)
	CreateAlert(ctx context.Context, in donations.AlertInput) (int64, error)
	ReplaceRanking(ctx context.Context, entries []donations.RankingEntry) error
	PaymentLink(ctx context.Context) (donations.PaymentLink, error)
	PutPaymentLink(ctx context.Context, patch donations.PaymentLinkPatch) (donations.PaymentLink, error)
}

// Relay is the pipeline view exposed to operators.
type Relay interface {
	Stats() relay.Stats
	Restart() bool
}

// Refresher reports overlay refresh health and accepts early-refresh requests.
type Refresher interface {
	Stats() overlay.RefreshStats
	Trigger()
}

// Deps wires the server to the running daemon. Only Store is required.
type Deps struct {
	Store        Store
	Relay        Relay
	Overlay      *overlay.Store
	Refresher    Refresher
	Preflight    []preflight.Result
	Destinations string
	RunID        string
	Logger       *slog.Logger
}

// Server is the control-plane HTTP server.
type Server struct {
	bind        string
	token       string
	storeDriver string
	deps        Deps
	logger      *slog.Logger
	handler     http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewServer builds the handler tree. An empty api.bind disables listening but
// Handler still works, which the tests rely on.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		bind:        strings.TrimSpace(cfg.API.Bind),
		token:       strings.TrimSpace(cfg.API.Token),
		storeDriver: cfg.StoreDriver(),
		deps:        deps,
		logger:      logging.NewComponentLogger(deps.Logger, "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/donors", s.handleDonors)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/ranking", s.handleRanking)
	mux.HandleFunc("/payment-link", requireToken(s.token, s.handlePaymentLink))
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/relay/restart", requireToken(s.token, s.handleRestart))
	s.handler = s.withRequestID(mux)
	return s
}

// Handler returns the root handler including request-id middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on api.bind and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled; api.bind is empty")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleDonors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req DonorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Amount == nil {
		s.writeError(w, http.StatusBadRequest, "identifier and amount required")
		return
	}
	id, err := s.deps.Store.CreateDonor(r.Context(), donations.DonorInput{
		Identifier: req.Identifier,
		Amount:     *req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req AlertRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.ShowAt) == "" || strings.TrimSpace(req.HideAt) == "" {
		s.writeError(w, http.StatusBadRequest, "message, show_at, hide_at required")
		return
	}
	showAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ShowAt))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "show_at must be RFC 3339")
		return
	}
	hideAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.HideAt))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "hide_at must be RFC 3339")
		return
	}
	id, err := s.deps.Store.CreateAlert(r.Context(), donations.AlertInput{
		Message: req.Message,
		ShowAt:  showAt,
		HideAt:  hideAt,
		DonorID: req.DonorID,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req RankingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Entries) > overlay.MaxRankingEntries {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("max %d entries", overlay.MaxRankingEntries))
		return
	}
	if err := s.deps.Store.ReplaceRanking(r.Context(), req.Entries); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handlePaymentLink(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		link, err := s.deps.Store.PaymentLink(r.Context())
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, fromPaymentLink(link))
	case http.MethodPut:
		var req PaymentLinkRequest
		if !s.decode(w, r, &req) {
			return
		}
		link, err := s.deps.Store.PutPaymentLink(r.Context(), donations.PaymentLinkPatch{
			URL:    req.URL,
			Label:  req.Label,
			Active: req.Active,
		})
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		s.changed()
		s.writeJSON(w, http.StatusOK, fromPaymentLink(link))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := StatusResponse{
		PID:          os.Getpid(),
		RunID:        s.deps.RunID,
		StoreDriver:  s.storeDriver,
		Destinations: s.deps.Destinations,
		Dependencies: fromPreflight(s.deps.Preflight),
	}
	if s.deps.Relay != nil {
		stats := s.deps.Relay.Stats()
		resp.Relay = &stats
	}
	var refresh overlay.RefreshStats
	if s.deps.Refresher != nil {
		refresh = s.deps.Refresher.Stats()
	}
	if s.deps.Overlay != nil {
		resp.Overlay = fromOverlay(s.deps.Overlay.Snapshot(), s.deps.Overlay.Version(), refresh)
	} else {
		resp.Overlay = fromOverlay(nil, 0, refresh)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Relay == nil {
		s.writeError(w, http.StatusServiceUnavailable, "relay not running")
		return
	}
	queued := s.deps.Relay.Restart()
	logging.WithContext(r.Context(), s.logger).Info("relay restart requested", logging.Bool("queued", queued))
	s.writeJSON(w, http.StatusAccepted, RestartResponse{Queued: queued})
}

// changed asks for an early overlay refresh after a successful write.
func (s *Server) changed() {
	if s.deps.Refresher != nil {
		s.deps.Refresher.Trigger()
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrOverlayStoreUnreachable):
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "store unavailable", "store_unreachable",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "write rejected; retry once the store recovers"),
		)
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		logging.WithContext(r.Context(), s.logger).Error("store request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
