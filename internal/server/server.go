// Package server exposes the monitoring API over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"margin_monitor/internal/core"
	"margin_monitor/internal/loan"
	"margin_monitor/internal/margin"
	"margin_monitor/internal/watcher"
	apperrors "margin_monitor/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	websocketActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "websocket_active_connections",
		Help: "Current number of active WebSocket connections",
	}, []string{"endpoint"})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
}

// Options configure the server surface.
type Options struct {
	AllowedOrigins []string
	MaxConnections int
	RateLimit      float64
	RateBurst      int
	Production     bool

	// Default grid for /api/scan when no query parameters are given.
	ScanMin  decimal.Decimal
	ScanMax  decimal.Decimal
	ScanStep decimal.Decimal

	// Loan calculator inputs for /api/loan/schedule.
	LoanTerms     loan.Loan
	DeductionPlan *loan.DeductionPlan
}

// Server manages the HTTP API and WebSocket connections
type Server struct {
	hub     *Hub
	watcher *watcher.Watcher
	srv     *http.Server
	logger  core.ILogger
	opts    Options

	upgrader websocket.Upgrader
	mu       sync.Mutex

	// Connection limits
	connSemaphore chan struct{}

	// Rate limiting
	ipLimiters sync.Map // map[string]*rate.Limiter
	rateLimit  rate.Limit
	rateBurst  int
}

// NewServer creates a new Server
func NewServer(hub *Hub, w *watcher.Watcher, logger core.ILogger, opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 1000
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}

	s := &Server{
		hub:           hub,
		watcher:       w,
		logger:        logger.WithField("component", "server"),
		opts:          opts,
		connSemaphore: make(chan struct{}, opts.MaxConnections),
		rateLimit:     rate.Limit(opts.RateLimit),
		rateBurst:     opts.RateBurst,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/margin", s.handleMargin)
	mux.HandleFunc("/api/scan", s.handleScan)
	mux.HandleFunc("/api/critical-rate", s.handleCriticalRate)
	mux.HandleFunc("/api/book", s.handleBook)
	mux.HandleFunc("/api/rate", s.handleRate)
	mux.HandleFunc("/api/loan/schedule", s.handleLoanSchedule)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.mu.Unlock()

	s.logger.Info("Starting server", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	s.logger.Info("Stopping server")
	return s.srv.Shutdown(ctx)
}

// PumpSnapshots forwards watcher snapshots to WebSocket clients until
// ctx is cancelled.
func (s *Server) PumpSnapshots(ctx context.Context) {
	ch := make(chan *core.MarginSnapshot, 64)
	s.watcher.Subscribe(ch)
	defer s.watcher.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			s.hub.Broadcast(NewSnapshotMessage(snap))
		}
	}
}

// BroadcastMessage is a convenience method to broadcast messages
func (s *Server) BroadcastMessage(msgType string, data interface{}) {
	s.hub.Broadcast(Message{Type: msgType, Data: data})
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// ----- REST handlers -----

func (s *Server) handleMargin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	book, ok := s.bookFromQuery(w, r)
	if !ok {
		return
	}

	evalRate, ok := s.rateFromQuery(w, r)
	if !ok {
		return
	}

	snap := margin.Evaluate(book, evalRate)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	book, ok := s.bookFromQuery(w, r)
	if !ok {
		return
	}

	minRate, maxRate, step := s.opts.ScanMin, s.opts.ScanMax, s.opts.ScanStep
	var err error
	if v := r.URL.Query().Get("min"); v != "" {
		if minRate, err = decimal.NewFromString(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid min")
			return
		}
	}
	if v := r.URL.Query().Get("max"); v != "" {
		if maxRate, err = decimal.NewFromString(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid max")
			return
		}
	}
	if v := r.URL.Query().Get("step"); v != "" {
		if step, err = decimal.NewFromString(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid step")
			return
		}
	}

	snapshots, err := margin.ScanRange(book, minRate, maxRate, step)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"points":    snapshots,
		"count":     len(snapshots),
		"generated": time.Now().UTC(),
	})
}

func (s *Server) handleCriticalRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	book, ok := s.bookFromQuery(w, r)
	if !ok {
		return
	}

	target := decimal.NewFromInt(100)
	if v := r.URL.Query().Get("target"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil || !parsed.IsPositive() {
			writeError(w, http.StatusBadRequest, "target must be a positive number")
			return
		}
		target = parsed
	}

	result := margin.SolveCriticalRate(book, target)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target": target,
		"status": result.Status,
		"rate":   result.Rate,
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	book, ok := s.bookFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: expected {\"rate\": ...}")
		return
	}

	if err := s.watcher.SetRate(body.Rate); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.hub.Broadcast(NewRateMessage(map[string]interface{}{"rate": body.Rate}))
	writeJSON(w, http.StatusOK, map[string]interface{}{"rate": body.Rate})
}

func (s *Server) handleLoanSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.opts.LoanTerms.Principal.IsPositive() {
		writeError(w, http.StatusNotFound, "no loan configured")
		return
	}

	schedule, err := s.opts.LoanTerms.Schedule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := map[string]interface{}{
		"installments":  schedule,
		"totalInterest": loan.TotalInterest(schedule),
		"totalPayment":  loan.TotalPayment(schedule),
	}
	if s.opts.DeductionPlan != nil {
		years := s.opts.DeductionPlan.Apply(schedule)
		response["deduction"] = years
		response["totalCredit"] = loan.TotalCredit(years)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	currentRate, rateSet := s.watcher.CurrentRate()

	response := map[string]interface{}{
		"status":   "ok",
		"clients":  s.hub.ClientCount(),
		"books":    len(s.watcher.BookNames()),
		"rate_set": rateSet,
		"time":     time.Now().Unix(),
	}
	if rateSet {
		response["rate"] = currentRate
	}

	writeJSON(w, http.StatusOK, response)
}

// bookFromQuery resolves the ?book= parameter (default "default").
func (s *Server) bookFromQuery(w http.ResponseWriter, r *http.Request) (*core.Book, bool) {
	name := r.URL.Query().Get("book")
	if name == "" {
		name = "default"
	}

	book, ok := s.watcher.Book(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown book: "+name)
		return nil, false
	}
	return book, true
}

// rateFromQuery resolves ?rate= or falls back to the watcher's current
// rate.
func (s *Server) rateFromQuery(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	if v := r.URL.Query().Get("rate"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil || !parsed.IsPositive() {
			writeError(w, http.StatusBadRequest, "rate must be a positive number")
			return decimal.Zero, false
		}
		return parsed, true
	}

	current, ok := s.watcher.CurrentRate()
	if !ok {
		writeError(w, http.StatusBadRequest, apperrors.ErrRateNotSet.Error())
		return decimal.Zero, false
	}
	return current, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ----- WebSocket -----

// checkOrigin validates the WebSocket connection origin against the whitelist
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	if origin == "" {
		s.logger.Warn("Rejected WebSocket connection with missing Origin header",
			"remote_addr", r.RemoteAddr)
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("Rejected WebSocket connection with invalid Origin",
			"origin", origin, "error", err)
		return false
	}

	originStr := parsedOrigin.Scheme + "://" + parsedOrigin.Host

	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" {
			if s.opts.Production {
				s.logger.Warn("Rejected wildcard origin in production mode",
					"origin", origin, "remote_addr", r.RemoteAddr)
				websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}

			s.logger.Warn("WebSocket connection allowed via wildcard origin (insecure for production)",
				"origin", origin, "remote_addr", r.RemoteAddr)
			return true
		}

		if originStr == allowed {
			return true
		}
	}

	s.logger.Warn("Rejected WebSocket connection from unauthorized origin",
		"origin", origin,
		"remote_addr", r.RemoteAddr,
		"allowed_origins", s.opts.AllowedOrigins)
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// handleWebSocket handles WebSocket upgrade and client management
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// 1. Check IP rate limit before spending upgrade resources
	ip := s.getRemoteIP(r)
	limiter := s.getIPLimiter(ip)
	if !limiter.Allow() {
		s.logger.Warn("IP rate limit exceeded", "ip", ip)
		websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	// 2. Check global connection limit
	select {
	case s.connSemaphore <- struct{}{}:
		websocketActiveConnections.WithLabelValues(r.URL.Path).Inc()
		defer func() {
			<-s.connSemaphore
			websocketActiveConnections.WithLabelValues(r.URL.Path).Dec()
		}()
	default:
		s.logger.Warn("Max connections reached")
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID)
	s.hub.Register(client)

	s.logger.Info("Client connected", "client_id", clientID, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()

	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()

	wg.Wait()

	s.hub.Unregister(client)
	conn.Close()

	s.logger.Info("Client disconnected", "client_id", clientID)
}

// writePump sends messages from hub to WebSocket connection
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			if !ok {
				// Channel closed
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from WebSocket connection (handles pong responses)
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		s.hub.Unregister(client)
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Read error", "client_id", client.id, "error", err)
			}
			break
		}
		// Clients only listen; inbound frames just keep the connection
		// alive.
	}
}

// getRemoteIP extracts the client IP address
func (s *Server) getRemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getIPLimiter returns or creates a rate limiter for the given IP
func (s *Server) getIPLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}

	newLimiter := rate.NewLimiter(s.rateLimit, s.rateBurst)

	// LoadOrStore handles the race when multiple requests arrive at once
	actual, _ := s.ipLimiters.LoadOrStore(ip, newLimiter)
	return actual.(*rate.Limiter)
}
