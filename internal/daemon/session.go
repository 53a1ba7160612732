package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/termaway/termaway/internal/protocol"
)

const (
	defaultCols = 80
	defaultRows = 24

	// Sizes below these are ignored by resize arbitration.
	minCols = 10
	minRows = 5

	// resizeCooldown suppresses resize storms from clients that emit a
	// resize on every pixel of a window drag.
	resizeCooldown = 100 * time.Millisecond
)

// client is the session layer's view of an attached connection. send and
// sendPaced report false when the connection can no longer accept frames;
// the session then evicts it.
type client interface {
	send(msg any) bool
	sendPaced(msg any) bool
	evict()
	sessionEnded(s *Session)
}

type termSize struct {
	cols, rows int
}

// Session owns one PTY child running the user's login shell. All mutable
// state is guarded by mu; the PTY reader is the single producer of output.
type Session struct {
	pid       int
	createdAt time.Time
	ptmx      *os.File
	cmd       *exec.Cmd

	mu           sync.Mutex
	name         string
	clients      map[client]*termSize // nil size until the client sends a resize
	scrollback   *scrollback
	lastCols     int
	lastRows     int
	lastResizeAt time.Time

	done       chan struct{}
	exitCode   int
	exitSignal string
}

func newSession(name, shellOverride string, onExit func(*Session)) (*Session, error) {
	cmd := buildShellCommand(shellOverride, name)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("daemon: spawn shell: %w", err)
	}

	s := &Session{
		pid:        cmd.Process.Pid,
		createdAt:  time.Now(),
		ptmx:       ptmx,
		cmd:        cmd,
		name:       name,
		clients:    make(map[client]*termSize),
		scrollback: newScrollback(scrollbackLimit),
		lastCols:   defaultCols,
		lastRows:   defaultRows,
		done:       make(chan struct{}),
	}

	go s.readLoop(onExit)
	return s, nil
}

// readLoop is the single producer of session output. Every chunk is
// appended to the scrollback and fanned out to all attached clients under
// the session lock, so per-client ordering matches production order.
func (s *Session) readLoop(onExit func(*Session)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			frame := protocol.NewOutput(data)
			s.mu.Lock()
			s.scrollback.append(data)
			var evict []client
			for c := range s.clients {
				if !c.send(frame) {
					evict = append(evict, c)
				}
			}
			for _, c := range evict {
				delete(s.clients, c)
			}
			s.mu.Unlock()
			for _, c := range evict {
				slog.Debug("evicting slow client", "session", s.Name())
				c.evict()
			}
		}
		if err != nil {
			break
		}
	}

	s.cmd.Wait()
	if ps := s.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				s.exitCode = -1
				s.exitSignal = unix.SignalName(ws.Signal())
			} else {
				s.exitCode = ws.ExitStatus()
			}
		}
	}
	close(s.done)
	s.ptmx.Close()

	if onExit != nil {
		onExit(s)
	}
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Session) scrollbackLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollback.len()
}

func (s *Session) size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCols, s.lastRows
}

func (s *Session) isRunning() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// attach registers the client and queues the scrollback replay followed
// by the attached confirmation while the session lock is held, so every
// future PTY broadcast to this client lands after both. Non-final slices
// carry a pacing gap so a resource-constrained receiver can drain. A
// client whose connection dies mid-replay is deregistered, not left half
// attached.
func (s *Session) attach(c client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = nil
	replay := s.scrollback.replaySlices(replaySliceSize)
	for i, data := range replay {
		frame := protocol.NewOutput(data)
		var ok bool
		if i < len(replay)-1 {
			ok = c.sendPaced(frame)
		} else {
			ok = c.send(frame)
		}
		if !ok {
			delete(s.clients, c)
			return
		}
	}
	if !c.send(protocol.NewAttached(s.name)) {
		delete(s.clients, c)
	}
}

// detach removes the client and recomputes the effective PTY size from
// the remaining clients. The resize cooldown does not apply here: detach
// is not driven by input events.
func (s *Session) detach(c client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)

	cols, rows, ok := s.effectiveSizeLocked()
	if ok && (cols != s.lastCols || rows != s.lastRows) {
		s.applySizeLocked(cols, rows)
	}
}

func (s *Session) attached(c client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[c]
	return ok
}

// resize records the client's desired dimensions and applies the
// element-wise minimum of all recorded sizes, so every viewer sees a
// terminal that fits. Degenerate sizes, no-op resizes, and resizes inside
// the cooldown window are dropped.
func (s *Session) resize(c client, cols, rows int) {
	if cols < minCols || rows < minRows {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c]; !ok {
		return
	}
	s.clients[c] = &termSize{cols: cols, rows: rows}

	effCols, effRows, ok := s.effectiveSizeLocked()
	if !ok {
		return
	}
	if effCols == s.lastCols && effRows == s.lastRows {
		return
	}
	if time.Since(s.lastResizeAt) < resizeCooldown {
		return
	}
	s.applySizeLocked(effCols, effRows)
}

func (s *Session) effectiveSizeLocked() (cols, rows int, ok bool) {
	for _, size := range s.clients {
		if size == nil {
			continue
		}
		if !ok {
			cols, rows, ok = size.cols, size.rows, true
			continue
		}
		cols = min(cols, size.cols)
		rows = min(rows, size.rows)
	}
	return cols, rows, ok
}

func (s *Session) applySizeLocked(cols, rows int) {
	err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		slog.Debug("pty resize", "session", s.name, "err", err)
		return
	}
	unix.Kill(-s.pid, unix.SIGWINCH)
	s.lastCols = cols
	s.lastRows = rows
	s.lastResizeAt = time.Now()
}

func (s *Session) write(data []byte) error {
	if !s.isRunning() {
		return ErrDisconnected
	}
	if _, err := s.ptmx.Write(data); err != nil {
		return ErrDisconnected
	}
	return nil
}

func (s *Session) kill() {
	unix.Kill(-s.pid, unix.SIGTERM)
	// Interactive shells ignore SIGTERM; closing the master hangs up the
	// line and delivers SIGHUP to the foreground group.
	s.ptmx.Close()
}

// broadcast delivers msg to every attached client without detaching.
func (s *Session) broadcast(msg any) {
	s.mu.Lock()
	clients := make([]client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(msg)
	}
}

// broadcastAndClear delivers a terminal event (killed, exited) to every
// attached client, clears their attachment, and empties the client set.
func (s *Session) broadcastAndClear(msg any) {
	s.mu.Lock()
	clients := make([]client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[client]*termSize)
	s.mu.Unlock()

	for _, c := range clients {
		c.send(msg)
		c.sessionEnded(s)
	}
}
