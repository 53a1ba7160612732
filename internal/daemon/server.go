package daemon

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termaway/termaway/internal/config"
	"github.com/termaway/termaway/internal/protocol"
)

// heartbeatInterval is the liveness probe period. A connection that
// produces no liveness signal for a full interval is terminated.
const heartbeatInterval = 30 * time.Second

// Server accepts websocket channels and hands each one to a Conn. It
// owns the heartbeat, the connection registry, and global broadcasts.
type Server struct {
	cfg     *config.Config
	manager *Manager
	auth    *AuthGate

	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*Conn
	nextID int

	stopHeartbeat chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg *config.Config) *Server {
	s := &Server{
		cfg:     cfg,
		manager: NewManager(cfg.Session.Shell),
		auth:    NewAuthGate(cfg.Server.Password),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		stopHeartbeat: make(chan struct{}),
	}
	s.manager.setEvents(s)
	return s
}

// Listen serves until Shutdown. TLS is used when both server.key and
// server.crt exist in the certificate directory; otherwise the listener
// is plaintext.
func (s *Server) Listen() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("shutting down")
		s.Shutdown()
	}()

	go s.heartbeatLoop()

	keyPath := filepath.Join(s.cfg.Server.CertDir, "server.key")
	crtPath := filepath.Join(s.cfg.Server.CertDir, "server.crt")
	useTLS := fileExists(keyPath) && fileExists(crtPath)

	slog.Info("listening",
		"service", s.cfg.Server.ServiceName,
		"addr", addr,
		"tls", useTLS,
		"auth", s.auth.Required(),
	)

	var err error
	if useTLS {
		err = s.httpSrv.ListenAndServeTLS(crtPath, keyPath)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("daemon: listen on %s: %w", addr, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade", "err", err)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	c := newConn(id, s, sock)
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	slog.Info("client connected", "ip", c.remoteAddr, "conn", id)
	c.send(protocol.NewAuthRequired(s.auth.Required()))
	if !s.auth.Required() {
		c.setAuthenticated()
		// Deferred so the peer can process auth-required before the
		// connected broadcast arrives.
		go s.broadcastClientConnected(c)
	}
	c.run()
}

// removeConn drops the connection from the registry and, if it had
// authenticated, broadcasts its departure.
func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	found := false
	for i, other := range s.conns {
		if other == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return
	}

	slog.Info("client disconnected", "ip", c.remoteAddr, "conn", c.id)
	if c.isAuthenticated() {
		s.broadcastClientEvent(c, protocol.TypeClientDisconnected)
	}
}

func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopHeartbeat:
			return
		case <-ticker.C:
			for _, c := range s.snapshot() {
				if !c.alive.Load() {
					slog.Info("heartbeat timeout", "ip", c.remoteAddr, "conn", c.id)
					c.terminate()
					continue
				}
				c.alive.Store(false)
				c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
		}
	}
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Conn, len(s.conns))
	copy(conns, s.conns)
	return conns
}

func (s *Server) authenticatedConns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		if c.isAuthenticated() {
			conns = append(conns, c)
		}
	}
	return conns
}

// broadcastToAuthenticated sends msg to every authenticated connection
// except the one given (nil for no exception).
func (s *Server) broadcastToAuthenticated(msg any, except *Conn) {
	for _, c := range s.authenticatedConns() {
		if c == except {
			continue
		}
		c.send(msg)
	}
}

func (s *Server) broadcastSessionList() {
	s.broadcastToAuthenticated(protocol.NewSessions(s.manager.List()), nil)
}

func (s *Server) broadcastClientConnected(c *Conn) {
	s.broadcastClientEvent(c, protocol.TypeClientConnected)
}

// broadcastClientEvent announces an arrival or departure. Loopback peers
// are counted but not announced, so a local control client does not spam
// remote viewers.
func (s *Server) broadcastClientEvent(c *Conn, event string) {
	if ip := net.ParseIP(c.remoteAddr); ip != nil && ip.IsLoopback() {
		return
	}

	count := len(s.authenticatedConns())
	now := time.Now().UnixMilli()
	var msg any
	if event == protocol.TypeClientConnected {
		msg = protocol.NewClientConnected(c.remoteAddr, count, now)
	} else {
		msg = protocol.NewClientDisconnected(c.remoteAddr, count, now)
	}
	s.broadcastToAuthenticated(msg, nil)
}

// listClients enumerates authenticated connections. The id is the
// position in the registry at call time and is not stable across calls.
func (s *Server) listClients() []protocol.ClientEntry {
	conns := s.authenticatedConns()
	list := make([]protocol.ClientEntry, 0, len(conns))
	for i, c := range conns {
		list = append(list, protocol.ClientEntry{
			ID:          i,
			IP:          c.remoteAddr,
			ConnectedAt: c.connectedAt.UnixMilli(),
			Session:     c.sessionName(),
		})
	}
	return list
}

// kickClient closes the connection at the given list index on behalf of
// the requester.
func (s *Server) kickClient(requester *Conn, clientID int) {
	conns := s.authenticatedConns()
	if clientID < 0 || clientID >= len(conns) {
		requester.send(protocol.NewError("Client not found"))
		return
	}
	target := conns[clientID]
	if target == requester {
		requester.send(protocol.NewError("Cannot kick yourself"))
		return
	}

	slog.Info("client kicked", "ip", target.remoteAddr, "by", requester.remoteAddr)
	target.closeWithReason("Kicked by another client")
	requester.send(protocol.NewClientKicked(clientID))
}

// Shutdown stops the heartbeat, kills every session, and closes the
// listener. Per-session kill errors are ignored.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.stopHeartbeat)
		s.manager.KillAll()
		if s.httpSrv != nil {
			s.httpSrv.Close()
		}
	})
}
