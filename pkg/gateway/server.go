package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/session"
)

const (
	secretHeader        = "X-Autopilot-Secret"
	defaultPingInterval = 30 * time.Second
	maxRPCBody          = 1 << 20
)

// Server exposes a session registry over websocket and HTTP JSON-RPC.
type Server struct {
	host         string
	port         int
	pingInterval time.Duration
	rpm          int
	maxConc      int

	agents   Agents
	hub      *Hub
	store    session.Store
	router   *RPCRouter
	auth     *Authenticator
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	server   *http.Server
	listener net.Listener

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration. Store is optional; without it
// agent.history reports PersistenceDisabled.
type Config struct {
	Host              string
	Port              int
	SharedSecret      string
	Agents            Agents
	Hub               *Hub
	Store             session.Store
	Logger            zerolog.Logger
	PingInterval      time.Duration
	RequestsPerMinute int
	MaxConcurrent     int
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agents is required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		pingInterval: cfg.PingInterval,
		rpm:          cfg.RequestsPerMinute,
		maxConc:      cfg.MaxConcurrent,
		agents:       cfg.Agents,
		hub:          cfg.Hub,
		store:        cfg.Store,
		router:       NewRPCRouter(),
		auth:         NewAuthenticator(cfg.SharedSecret),
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerBuiltinMethods()
	return s, nil
}

// Handler returns the HTTP routes: /ws, /rpc, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens and serves in the background. Port 0 picks a free port;
// see Addr.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting Gateway Server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new work, waits for in-flight requests until ctx ends,
// then disconnects every client. Sessions keep running.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	s.hub.Broadcast(EventMessage{Event: "server.shutdown", Data: map[string]interface{}{"message": "Server is shutting down"}})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.hub.closeAll()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		clientID = tracing.NewID()
	}
	client := newClient(clientID, conn, r.RemoteAddr, NewClientRateLimiter(s.rpm, s.maxConc))
	s.hub.add(client)
	s.logger.Info().Str("clientId", clientID).Str("ip", r.RemoteAddr).Msg("Client connected")

	go client.writePump(s.pingInterval)

	if err := s.greet(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to start handshake")
		client.close()
		s.hub.remove(clientID)
		return
	}

	go s.readPump(client)
}

// greet sends the auth challenge, or auth.success when no secret is set.
func (s *Server) greet(c *Client) error {
	if !s.auth.Enabled() {
		c.trust()
		return s.sendJSON(c, AuthResult{Event: "auth.success", Success: true})
	}
	challenge, err := s.auth.Challenge()
	if err != nil {
		return err
	}
	c.setChallenge(challenge)
	return s.sendJSON(c, AuthChallenge{Event: "auth.challenge", Challenge: challenge})
}

func (s *Server) readPump(c *Client) {
	defer func() {
		c.close()
		s.hub.remove(c.ID)
		s.logger.Info().Str("clientId", c.ID).Msg("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", c.ID).Msg("WebSocket error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
		c.touch()
		s.handleMessage(c, message)
	}
}

func (s *Server) handleMessage(c *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		s.handleAuthMessage(c, authResp)
		return
	}

	if !c.isAuthenticated() {
		s.sendError(c, "", AuthenticationRequired, "Authentication required")
		return
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(c, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(c, "", ParseError, err.Error())
		}
		return
	}

	if s.shuttingDown() {
		s.sendError(c, req.ID, InternalError, "server is shutting down")
		return
	}

	code, reason, ok := c.limiter.Acquire()
	if !ok {
		s.sendError(c, req.ID, code, reason)
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer c.limiter.Release()

		ctx := withCaller(tracing.WithTraceID(context.Background(), tracing.NewID()), c)
		resp := s.router.RouteRequest(ctx, req)
		if err := s.sendJSON(c, resp); err != nil {
			s.logger.Warn().Err(err).Str("clientId", c.ID).Str("requestId", req.ID).Msg("Failed to send response")
		}
	}()
}

func (s *Server) handleAuthMessage(c *Client, authResp AuthResponse) {
	if !s.auth.Enabled() {
		_ = s.sendJSON(c, AuthResult{Event: "auth.success", Success: true})
		return
	}

	result := s.auth.Respond(c, authResp.Signature)
	if err := s.sendJSON(c, result); err != nil {
		return
	}
	if result.Success {
		s.logger.Info().Str("clientId", c.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().Str("clientId", c.ID).Str("reason", result.Message).Msg("Authentication failed")
	if c.attempts() >= maxAuthAttempts {
		// Let the writer flush the failure before closing.
		time.AfterFunc(100*time.Millisecond, c.close)
	}
}

// handleRPC serves one JSON-RPC request per POST.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.CheckSecret(r.Header.Get(secretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	req, err := s.router.ParseRequest(body)
	if err != nil {
		code := ParseError
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse("", code, err.Error()))
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("request_id", req.ID).Str("method", req.Method).Msg("Gateway received HTTP RPC request")

	s.inFlightReqs.Add(1)
	resp := s.router.RouteRequest(ctx, req)
	s.inFlightReqs.Done()

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

func (s *Server) sendJSON(c *Client, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		return fmt.Errorf("client %s disconnected", c.ID)
	}
	return nil
}

func (s *Server) sendError(c *Client, requestID string, code int, message string) {
	if err := s.sendJSON(c, errorResponse(requestID, code, message)); err != nil {
		s.logger.Warn().Err(err).Str("clientId", c.ID).Msg("Failed to send error response")
	}
}

// RegisterMethod adds a custom RPC method.
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Methods lists the served RPC methods.
func (s *Server) Methods() []string {
	return s.router.Methods()
}
