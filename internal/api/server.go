package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"
	"orderbook_go/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// Server handles REST API and WebSocket connections
type Server struct {
	svc        *service.OrderService
	hub        *Hub
	router     *mux.Router
	gatherer   prometheus.Gatherer
	origins    []string
	baseCtx    context.Context
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithBaseContext sets the context connection starts run under.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// NewServer creates a new API server
func NewServer(svc *service.OrderService, hub *Hub, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		hub:      hub,
		router:   mux.NewRouter(),
		gatherer: prometheus.DefaultGatherer,
		origins:  []string{"*"},
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Orders
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/audit", s.handleGetAudit).Methods("GET")
	api.HandleFunc("/orders/{id}/price", s.handleUpdatePrice).Methods("PATCH")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/{id}/accept", s.handleAccept).Methods("POST")

	api.HandleFunc("/audit", s.handleRecentAudit).Methods("GET")

	// Feed connection
	api.HandleFunc("/connection", s.handleGetConnection).Methods("GET")
	api.HandleFunc("/connection/start", s.handleStartConnection).Methods("POST")
	api.HandleFunc("/connection/stop", s.handleStopConnection).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("API server starting", slog.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// PublishUpdate is an engine listener that pushes every change to clients.
func (s *Server) PublishUpdate(u engine.Update) {
	s.hub.Publish(UpdateMessage{
		Type:    MessageUpdate,
		Version: u.Version,
		Cause:   u.Cause,
		Orders:  u.Orders,
	})
}

// PublishConnection pushes a feed connection state change to clients.
func (s *Server) PublishConnection(state domain.ConnectionState) {
	s.hub.Publish(ConnectionMessage{Type: MessageConnection, State: state})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := service.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid status filter", err.Error())
		return
	}

	version := s.svc.Version()
	orders := s.svc.ListOrders(filter)
	respondJSON(w, http.StatusOK, OrdersResponse{Version: version, Count: len(orders), Orders: orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.AuditTrail(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audit unavailable", err.Error())
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAuditLimit {
			respondError(w, http.StatusBadRequest, "invalid limit", fmt.Sprintf("limit must be between 1 and %d", maxAuditLimit))
			return
		}
		limit = n
	}

	recs, err := s.svc.RecentAudit(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "audit unavailable", err.Error())
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.AskPrice == nil && req.BidPrice == nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "askPrice or bidPrice is required")
		return
	}

	o, err := s.svc.UpdatePrice(mux.Vars(r)["id"], engine.PriceUpdate{AskPrice: req.AskPrice, BidPrice: req.BidPrice})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Cancel(id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CancelResponse{ID: id, Status: domain.StatusCanceled})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Accept(mux.Vars(r)["id"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Connection())
}

func (s *Server) handleStartConnection(w http.ResponseWriter, r *http.Request) {
	// The request context ends with the response; the connection must not.
	respondJSON(w, http.StatusAccepted, s.svc.StartConnection(s.baseCtx))
}

func (s *Server) handleStopConnection(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.StopConnection())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	orders := s.svc.ListOrders(nil)
	s.hub.serveWS(w, r, UpdateMessage{
		Type:    MessageSnapshot,
		Version: s.svc.Version(),
		Orders:  orders,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"connection": s.svc.Connection().State,
		"clients":    s.hub.ClientCount(),
	})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// respondDomainError maps service errors to status codes.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, domain.ErrOrderNotOpen):
		respondError(w, http.StatusConflict, "order not open", err.Error())
	case errors.Is(err, domain.ErrInvalidPrice):
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
