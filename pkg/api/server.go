package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/tickerbook/pkg/app/broker"
	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/metrics"
)

// AdminKeyHeader carries the shared secret for the admin routes.
const AdminKeyHeader = "X-Admin-Key"

type Config struct {
	CORSOrigins    []string
	MetricsEnabled bool
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *broker.App
	router  *mux.Router
	hub     *Hub
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer creates a new API server
func NewServer(app *broker.App, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(app, m, logger.Named("ws")),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market data
	api.HandleFunc("/supported", s.handleGetSupported).Methods("GET")
	api.HandleFunc("/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Subscriptions
	api.HandleFunc("/me/subscriptions", s.handleGetSubscriptions).Methods("GET")
	api.HandleFunc("/subscriptions", s.handleSubscribe).Methods("POST")
	api.HandleFunc("/subscriptions", s.handleUnsubscribe).Methods("DELETE")

	// Admin
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/users", s.handleAdminUsers).Methods("GET")
	admin.HandleFunc("/subscriptions", s.handleAdminSubscriptions).Methods("GET")
	admin.HandleFunc("/trades.csv", s.handleAdminTradesCSV).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.cfg.MetricsEnabled && s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", AdminKeyHeader},
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("api_listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetSupported(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, SupportedResponse{Supported: s.app.ListSupportedSymbols()})
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, PricesResponse{Prices: s.app.Prices()})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol required", "")
		return
	}
	respondJSON(w, OrderbookResponse{Orderbook: s.app.GetOpenOrders(core.Symbol(symbol))})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = n
	}
	respondJSON(w, TradesResponse{Trades: s.app.GetTrades(core.Symbol(q.Get("symbol")), limit)})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	placed, err := s.app.PlaceOrder(r.Context(), req.toBroker())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, placed)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	order, ok := s.app.GetOrder(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, order)
}

func (s *Server) handleGetSubscriptions(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		respondError(w, http.StatusBadRequest, "email required", "")
		return
	}
	subs, err := s.app.GetSubscriptions(r.Context(), email)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, SubscriptionsResponse{Subscriptions: subs})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	subs, err := s.app.Subscribe(r.Context(), req.Email, core.Symbol(req.Symbol))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, SubscriptionsResponse{Subscriptions: subs})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	subs, err := s.app.Unsubscribe(r.Context(), req.Email, core.Symbol(req.Symbol))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, SubscriptionsResponse{Subscriptions: subs})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.ListUsers(r.Context(), r.Header.Get(AdminKeyHeader))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, UsersResponse{Users: users})
}

func (s *Server) handleAdminSubscriptions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.app.ListAllSubscriptions(r.Context(), r.Header.Get(AdminKeyHeader))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, AdminSubscriptionsResponse{Subscriptions: rows})
}

func (s *Server) handleAdminTradesCSV(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	var buf bytes.Buffer
	if err := s.app.ExportTradesCSV(&buf, r.Header.Get(AdminKeyHeader), core.Symbol(symbol)); err != nil {
		s.fail(w, err)
		return
	}

	name := "trades.csv"
	if symbol != "" {
		name = "trades-" + symbol + ".csv"
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// fail maps the error taxonomy onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, "validation failed", ve.Error())
	case errors.Is(err, core.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized", "")
	default:
		s.logger.Error("request_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
