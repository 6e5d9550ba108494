// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, admitting them through the authentication gate,
// maintaining active client sessions, and dispatching incoming messages to
// the appropriate handlers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/nikhil-thb/hushh-online/internal/ban"
	"github.com/nikhil-thb/hushh-online/internal/events"
	"github.com/nikhil-thb/hushh-online/internal/gate"
	"github.com/nikhil-thb/hushh-online/internal/metrics"
	"github.com/nikhil-thb/hushh-online/internal/protocol"
	"github.com/nikhil-thb/hushh-online/internal/ratelimit"
	"github.com/nikhil-thb/hushh-online/internal/session"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections to WebSocket, admits them through the gate,
// registers them with an epoll instance for I/O readiness notifications, and
// dispatches ready connections to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	gate         *gate.Gate
	registry     *session.Registry
	limiter      *ratelimit.Limiter                  // nil disables connection rate limiting
	events       *events.Publisher                   // nil disables telemetry
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(connID string)                 // called when a connection is removed
	httpServer   *http.Server
	bufPool      sync.Pool // pool of reusable read buffers
	done         chan struct{}
	startedAt    time.Time // server start time for uptime calculation
}

// NewServer creates a Server with the given configuration, gate, session
// registry, and message callback. The onMessage function is called from a
// worker goroutine whenever a complete WebSocket text frame is received from
// a client.
func NewServer(config ServerConfig, g *gate.Gate, registry *session.Registry, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		gate:       g,
		registry:   registry,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}

	return s
}

// SetLimiter attaches a Redis-backed rate limiter for new connections.
func (s *Server) SetLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

// SetEvents attaches a telemetry publisher for presence events.
func (s *Server) SetEvents(p *events.Publisher) {
	s.events = p
}

// Start initializes the epoll instance, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the epoll event loop in a
// background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	// Start the epoll event loop in the background.
	go s.startEventLoop()

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade admits and upgrades an HTTP request to a WebSocket
// connection. Authentication happens before the upgrade so rejected clients
// get a plain HTTP status; the ban check happens after so the ban notice can
// be delivered over the established socket.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Enforce maximum connection limit.
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	gctx, err := s.gate.Authenticate(r)
	if err != nil {
		log.Printf("ws: rejected upgrade from %s: %v", gate.ClientIP(r), err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.limiter != nil {
		allowed, _ := s.limiter.Allow(r.Context(), gctx.IP, ratelimit.RuleConnect)
		if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	// Upgrade the HTTP connection to WebSocket.
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	fd := socketFD(conn)
	sessionID := uuid.New().String()

	c := &Connection{
		ID:          sessionID,
		IdentityID:  gctx.IdentityID,
		IP:          gctx.IP,
		Fingerprint: gctx.Fingerprint,
		Conn:        conn,
		Fd:          fd,
		CreatedAt:   time.Now(),
		LastPing:    time.Now(),
	}

	// Check the ban list now that the ban notice can reach the client.
	banCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	status := s.gate.CheckBan(banCtx, gctx)
	cancel()
	if status.Banned {
		metrics.BannedRejects.Inc()
		s.sendBanned(c, status)
		conn.Close()
		log.Printf("ws: banned client rejected ip=%s reason=%q", gctx.IP, status.Reason)
		return
	}

	// Register the connection in the manager and epoll.
	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed for session %s: %v", sessionID, err)
		s.conns.Remove(sessionID)
		return
	}

	s.registry.Register(&session.ConnectedUser{
		SessionID:    sessionID,
		IdentityID:   gctx.IdentityID,
		IP:           gctx.IP,
		Fingerprint:  gctx.Fingerprint,
		Profile:      gctx.Profile,
		LastActivity: time.Now(),
	})

	// Tell the client its session is live.
	connectedMsg, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		UserID:   sessionID,
		Username: gctx.Profile.Name,
	})
	if err != nil {
		log.Printf("ws: failed to build connected for session %s: %v", sessionID, err)
	} else if err := c.WriteMessage(connectedMsg); err != nil {
		log.Printf("ws: failed to send connected for session %s: %v", sessionID, err)
	}

	s.BroadcastUserCount()
	s.events.Presence(s.registry.Count())

	log.Printf("ws: new connection session=%s fd=%d (total=%d)", sessionID, fd, s.conns.Count())
}

// sendBanned delivers the ban notice over a freshly upgraded socket.
func (s *Server) sendBanned(c *Connection, status ban.Status) {
	msg, err := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
		Message:    fmt.Sprintf("You are banned. Reason: %s", status.Reason),
		Duration:   status.RemainingMinutes,
		AdsWatched: status.AdsWatched,
		Timestamp:  time.Now().UTC().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		log.Printf("ws: failed to build banned message: %v", err)
		return
	}
	if err := c.WriteMessage(msg); err != nil {
		log.Printf("ws: failed to send banned message: %v", err)
	}
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime. It is used by HAProxy for health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// epoll and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// Don't kill the connection; the heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()
	s.registry.Touch(c.ID)

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, or graceful close). It is called
// before the session is unregistered, so the handler can still look it up.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, closes the underlying network connection, and unregisters the
// session. It is exported so that the heartbeat monitor can evict dead
// connections.
func (s *Server) RemoveConnection(c *Connection) {
	// The epoll instance only exists once Start has run.
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}

	// Notify application layer before unregistering the session.
	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	s.registry.Unregister(c.ID)
	s.BroadcastUserCount()
	s.events.Presence(s.registry.Count())

	log.Printf("ws: connection closed session=%s (total=%d)", c.ID, s.conns.Count())
}

// BroadcastUserCount sends the current registered session count to every
// connected client.
func (s *Server) BroadcastUserCount() {
	msg, err := protocol.NewServerMessage(protocol.TypeUserCount, protocol.UserCountMsg{
		Count: s.registry.Count(),
	})
	if err != nil {
		log.Printf("ws: failed to build user count message: %v", err)
		return
	}
	s.conns.Broadcast(msg)
}

// Send writes a WebSocket text frame to the connection identified by
// sessionID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) Send(sessionID string, data []byte) error {
	c := s.conns.Get(sessionID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", sessionID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear write deadline so it doesn't affect future writes (e.g., heartbeat pings).
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Broadcast sends a frame to every connected client.
func (s *Server) Broadcast(data []byte) {
	s.conns.Broadcast(data)
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Registry returns the session registry for external access (e.g., by message
// handlers that need to read session state).
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections,
// and cleans up the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	// Signal the event loop to stop.
	close(s.done)

	// Stop accepting new HTTP connections with a deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	// Unregister all sessions and close all active WebSocket connections.
	for _, c := range s.conns.All() {
		s.registry.Unregister(c.ID)
		_ = s.epoll.Remove(c.Conn)
		c.Close()
	}

	// Close the epoll instance.
	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
