package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danielcroft/chatline/internal/broker"
	"github.com/danielcroft/chatline/internal/message"
	"github.com/danielcroft/chatline/internal/ratelimit"
	"github.com/danielcroft/chatline/internal/sqlite"
	"github.com/danielcroft/chatline/internal/user"
	"github.com/danielcroft/chatline/internal/ws"
)

// minUsernameLen is enforced at the registration surface. Login itself
// only rejects empty usernames; the directory is the gatekeeper.
const minUsernameLen = 3

// Server is the main HTTP server: the REST surface plus the WebSocket
// mount point for the relay broker.
type Server struct {
	addr       string
	mux        *http.ServeMux
	users      user.Directory
	messages   message.Store
	hub        *ws.Hub
	broker     *broker.Broker
	limiter    *ratelimit.IPLimiter
	pruneEvery time.Duration
	maxConns   int
	httpSrv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRedis backs the user directory and message store with Redis.
func WithRedis(client redis.Cmdable) Option {
	return func(s *Server) {
		s.users = user.NewRedisDirectory(client)
		s.messages = message.NewRedisStore(client)
	}
}

// WithSQLite backs the user directory and message store with the given
// SQLite database.
func WithSQLite(db *sqlite.DB) Option {
	return func(s *Server) {
		s.users = db
		s.messages = db
	}
}

// WithMaxConns caps the number of concurrent WebSocket connections.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

// WithRateLimit guards registration with a per-IP limit of max requests
// per window. Expired IPs are pruned from the limiter once per window
// while the server runs.
func WithRateLimit(max int, window time.Duration) Option {
	return func(s *Server) {
		s.limiter = ratelimit.NewIPLimiter(max, window)
		s.pruneEvery = window
	}
}

// New creates a new Server listening on addr. Without options it runs
// entirely on in-memory backends.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		users:    user.NewMemDirectory(),
		messages: message.NewMemStore(),
	}
	for _, opt := range opts {
		opt(s)
	}

	connMgr := ws.NewConnManager(ws.WithMaxConns(s.maxConns))
	s.hub = ws.NewHub(connMgr)
	s.broker = broker.New(s.messages, s.hub)
	s.routes()
	return s
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.mux}

	if s.limiter != nil {
		done := make(chan struct{})
		defer close(done)
		go s.pruneLimiter(done)
	}

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// pruneLimiter drops expired IPs from the registration limiter until
// done is closed, so the entry map does not grow unbounded.
func (s *Server) pruneLimiter(done <-chan struct{}) {
	ticker := time.NewTicker(s.pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

// Shutdown closes all WebSocket connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.ConnMgr().Shutdown()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Broker exposes the relay broker, mainly for tests.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/users/{username}/exists", s.handleUserExists)
	s.mux.HandleFunc("GET /api/messages/{user1}/{user2}", s.handleListMessages)
	s.mux.Handle("GET /ws", ws.NewHandler(s.hub, s.broker))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.ConnMgr().Stats())
}

type registerRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many registration attempts")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < minUsernameLen {
		writeError(w, http.StatusBadRequest, "username must be at least 3 characters")
		return
	}

	err := s.users.Create(r.Context(), req.Username)
	if errors.Is(err, user.ErrExists) {
		writeError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (s *Server) handleUserExists(w http.ResponseWriter, r *http.Request) {
	exists, err := s.users.Exists(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.ListBetween(r.Context(), r.PathValue("user1"), r.PathValue("user2"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
