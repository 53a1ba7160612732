package daemon

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termaway/termaway/internal/protocol"
)

const (
	// sendBuffer bounds the per-connection outbound queue. A receiver that
	// falls this far behind live PTY output is evicted.
	sendBuffer = 256

	// replayPaceGap is slept after each non-final scrollback replay frame.
	replayPaceGap = 50 * time.Millisecond

	writeTimeout = 10 * time.Second
)

type outFrame struct {
	data []byte
	pace bool
	// endReplay restores normal queue admission; not written to the socket.
	endReplay bool
}

// Conn is one remote client. readLoop is its only frame consumer,
// writeLoop its only frame producer toward the socket; everything else
// enqueues through sendCh.
type Conn struct {
	id          int
	server      *Server
	sock        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	sendCh    chan outFrame
	done      chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool
	replaying atomic.Bool

	mu            sync.Mutex
	authenticated bool
	session       *Session
}

func newConn(id int, server *Server, sock *websocket.Conn) *Conn {
	c := &Conn{
		id:          id,
		server:      server,
		sock:        sock,
		remoteAddr:  peerIP(sock.RemoteAddr()),
		connectedAt: time.Now(),
		sendCh:      make(chan outFrame, sendBuffer),
		done:        make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// peerIP reduces a remote address to a bare IP for rate limiting and
// client-event broadcasts. IPv4-mapped IPv6 forms collapse to IPv4.
func peerIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return strings.TrimPrefix(host, "::ffff:")
}

func (c *Conn) run() {
	go c.writeLoop()
	c.readLoop()
	c.terminate()
}

func (c *Conn) readLoop() {
	c.sock.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		c.alive.Store(true)
		c.dispatch(data)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			if frame.endReplay {
				c.replaying.Store(false)
				continue
			}
			c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				c.terminate()
				return
			}
			if frame.pace {
				time.Sleep(replayPaceGap)
			}
		}
	}
}

// terminate tears the connection down without a close handshake. Safe to
// call from any goroutine, any number of times.
func (c *Conn) terminate() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sock.Close()
		c.server.manager.DetachAll(c)
		c.server.removeConn(c)
	})
}

// closeWithReason performs a normal websocket closure carrying a human
// readable reason, then tears the connection down.
func (c *Conn) closeWithReason(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	c.terminate()
}

// send enqueues a frame. Returns false when the connection is closed or
// its outbound queue is full; callers treat false as a dead client.
func (c *Conn) send(msg any) bool {
	return c.enqueue(msg, false)
}

// sendPaced enqueues a frame that the write loop follows with a pacing
// gap, used for scrollback replay.
func (c *Conn) sendPaced(msg any) bool {
	return c.enqueue(msg, true)
}

func (c *Conn) enqueue(msg any, pace bool) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("encode frame", "err", err)
		return true
	}
	frame := outFrame{data: data, pace: pace}
	// While replay slices are pacing through the write loop the queue
	// fills with live output faster than it drains; admission blocks
	// instead of reporting the client dead.
	if c.replaying.Load() {
		select {
		case <-c.done:
			return false
		case c.sendCh <- frame:
			return true
		}
	}
	select {
	case <-c.done:
		return false
	case c.sendCh <- frame:
		return true
	default:
		return false
	}
}

// beginReplay switches the outbound queue to blocking admission so a
// backlog during paced scrollback replay cannot evict the client.
func (c *Conn) beginReplay() {
	c.replaying.Store(true)
}

// endReplay queues a marker behind the replay frames; the write loop
// restores normal admission once everything ahead of it is on the wire.
func (c *Conn) endReplay() {
	select {
	case <-c.done:
		c.replaying.Store(false)
	case c.sendCh <- outFrame{endReplay: true}:
	}
}

// evict implements the session-side removal of a slow client.
func (c *Conn) evict() {
	c.clearSession()
	c.terminate()
}

// sessionEnded clears the attachment when the session it points at has
// been killed or has exited.
func (c *Conn) sessionEnded(s *Session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

func (c *Conn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Conn) setAuthenticated() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
}

func (c *Conn) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Conn) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Conn) clearSession() {
	c.setSession(nil)
}

// sessionName is the attached session's name, or "" when detached.
func (c *Conn) sessionName() string {
	if s := c.currentSession(); s != nil {
		return s.Name()
	}
	return ""
}

// detachCurrent drops the current attachment, if any, and tells the
// session to recompute its size.
func (c *Conn) detachCurrent() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		s.detach(c)
	}
}

func (c *Conn) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.dispatchDecodeError(err)
		return
	}

	if auth, ok := msg.(*protocol.Auth); ok {
		c.handleAuth(auth)
		return
	}
	if !c.isAuthenticated() {
		c.send(protocol.NewError("Authentication required"))
		return
	}

	switch m := msg.(type) {
	case *protocol.List:
		c.send(protocol.NewSessions(c.server.manager.List()))
	case *protocol.Create:
		c.handleCreate(m.Name)
	case *protocol.Attach:
		c.handleAttach(m.Name)
	case *protocol.Detach:
		c.detachCurrent()
		c.send(protocol.NewDetached())
	case *protocol.Input:
		c.handleInput(m.Data)
	case *protocol.Resize:
		c.handleResize(m.Cols, m.Rows)
	case *protocol.Kill:
		c.handleKill(m.Name)
	case *protocol.Rename:
		c.handleRename(m.OldName, m.NewName)
	case *protocol.ClipboardSet:
		c.handleClipboardSet(m.Content)
	case *protocol.ClipboardGet:
		c.send(protocol.NewClipboardContent(c.server.manager.GetClipboard()))
	case *protocol.ListClients:
		c.send(protocol.NewClients(c.server.listClients()))
	case *protocol.KickClient:
		c.server.kickClient(c, m.ClientID)
	}
}

// dispatchDecodeError maps a decode failure onto the wire. Malformed
// resize frames are dropped without a reply; everything else gets an
// error frame.
func (c *Conn) dispatchDecodeError(err error) {
	var ute *protocol.UnknownTypeError
	var pe *protocol.PayloadError
	switch {
	case errors.As(err, &ute):
		c.send(protocol.NewError("Unknown message type: " + ute.Type))
	case errors.As(err, &pe):
		switch pe.Type {
		case protocol.TypeResize:
		case protocol.TypeClipboardSet:
			c.send(protocol.NewError("Invalid clipboard content"))
		default:
			c.send(protocol.NewError("Invalid JSON"))
		}
	default:
		c.send(protocol.NewError("Invalid JSON"))
	}
}

func (c *Conn) handleAuth(m *protocol.Auth) {
	if c.isAuthenticated() {
		return
	}
	if err := c.server.auth.Authenticate(c.remoteAddr, m.Password); err != nil {
		slog.Info("auth failed", "ip", c.remoteAddr)
		c.send(protocol.NewAuthFailed(err.Error()))
		return
	}
	c.setAuthenticated()
	c.send(protocol.NewAuthSuccess())
	c.server.broadcastClientConnected(c)
}

func (c *Conn) handleCreate(name string) {
	c.detachCurrent()
	sess, err := c.server.manager.Create(name)
	if err != nil {
		c.send(protocol.NewError(errorMessage(err)))
		return
	}
	c.send(protocol.NewCreated(sess.Name()))
	c.beginReplay()
	sess.attach(c)
	c.endReplay()
	c.setSession(sess)
	c.server.broadcastSessionList()
}

func (c *Conn) handleAttach(name string) {
	c.detachCurrent()
	c.beginReplay()
	sess, err := c.server.manager.Attach(name, c)
	c.endReplay()
	if err != nil {
		c.send(protocol.NewError(errorMessage(err)))
		return
	}
	c.setSession(sess)
}

func (c *Conn) handleInput(data string) {
	sess := c.currentSession()
	if sess == nil {
		c.send(protocol.NewError("Not attached to any session"))
		return
	}
	if err := sess.write([]byte(data)); err != nil {
		c.send(protocol.NewError(errorMessage(err)))
	}
}

func (c *Conn) handleResize(cols, rows float64) {
	if cols < 1 || rows < 1 {
		return
	}
	sess := c.currentSession()
	if sess == nil {
		return
	}
	sess.resize(c, int(cols), int(rows))
}

func (c *Conn) handleKill(name string) {
	wasAttached := c.sessionName() == name && name != ""
	if err := c.server.manager.Kill(name); err != nil {
		c.send(protocol.NewError(errorMessage(err)))
		return
	}
	// Attached requesters already received killed via the session
	// broadcast.
	if !wasAttached {
		c.send(protocol.NewKilled(name))
	}
	c.server.broadcastSessionList()
}

func (c *Conn) handleRename(oldName, newName string) {
	if _, err := c.server.manager.Rename(oldName, newName); err != nil {
		c.send(protocol.NewError(errorMessage(err)))
		return
	}
	c.server.broadcastSessionList()
}

func (c *Conn) handleClipboardSet(content string) {
	if err := c.server.manager.SetClipboard(content); err != nil {
		c.send(protocol.NewError(errorMessage(err)))
		return
	}
	c.send(protocol.NewClipboardSetOK())
	c.server.broadcastToAuthenticated(protocol.NewClipboardUpdate(content), c)
}

// errorMessage converts internal errors into the wire-level message
// strings clients display verbatim.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidName):
		return "Invalid session name"
	case errors.Is(err, ErrAlreadyExists):
		return "Session already exists"
	case errors.Is(err, ErrNotFound):
		return "Session not found"
	case errors.Is(err, ErrDisconnected):
		return "Session terminal is disconnected"
	case errors.Is(err, ErrClipboardTooLarge):
		return "Clipboard content too large"
	}
	return err.Error()
}
