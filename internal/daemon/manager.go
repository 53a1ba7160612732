package daemon

import (
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/termaway/termaway/internal/protocol"
)

// maxClipboardBytes caps the shared clipboard payload.
const maxClipboardBytes = 1 << 20

var (
	ErrInvalidName       = errors.New("invalid session name")
	ErrAlreadyExists     = errors.New("session already exists")
	ErrNotFound          = errors.New("session not found")
	ErrDisconnected      = errors.New("session terminal is disconnected")
	ErrClipboardTooLarge = errors.New("clipboard content too large")
)

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeName trims surrounding whitespace and replaces every character
// outside [A-Za-z0-9_-] with a dash. Empty results are invalid.
func sanitizeName(raw string) (string, error) {
	name := invalidNameChars.ReplaceAllString(strings.TrimSpace(raw), "-")
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// listBroadcaster receives session-set change notifications that originate
// inside the manager (child exit) rather than from a client request.
type listBroadcaster interface {
	broadcastSessionList()
}

// SessionDetails is a point-in-time snapshot of one session.
type SessionDetails struct {
	Name             string
	ClientCount      int
	CreatedAt        time.Time
	ScrollbackLength int
	IsConnected      bool
}

// Manager owns the session registry and the shared clipboard. The
// sessions map is mutated only under mu; per-session state is guarded by
// each session's own lock.
type Manager struct {
	shell  string
	events listBroadcaster

	mu        sync.Mutex
	sessions  map[string]*Session
	clipboard string
}

func NewManager(shell string) *Manager {
	return &Manager{
		shell:    shell,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) setEvents(events listBroadcaster) {
	m.events = events
}

// Create spawns the login shell in a new PTY under the sanitized name.
// The session is published to the registry only once the spawn succeeds.
func (m *Manager) Create(rawName string) (*Session, error) {
	name, err := sanitizeName(rawName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, exists := m.sessions[name]
	m.mu.Unlock()
	if exists {
		return nil, ErrAlreadyExists
	}

	sess, err := newSession(name, m.shell, m.handleExit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.sessions[name]; exists {
		m.mu.Unlock()
		sess.kill()
		return nil, ErrAlreadyExists
	}
	m.sessions[name] = sess
	m.mu.Unlock()

	slog.Info("session created", "session", name, "pid", sess.pid)
	return sess, nil
}

// handleExit runs when a session's child exits. The session is removed
// from the registry (unless a kill already removed it), remaining
// attached clients receive the exited event, and the session list is
// re-broadcast.
func (m *Manager) handleExit(s *Session) {
	name := s.Name()

	m.mu.Lock()
	current, ok := m.sessions[name]
	if !ok || current != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, name)
	m.mu.Unlock()

	slog.Info("session exited", "session", name, "exitCode", s.exitCode, "signal", s.exitSignal)
	s.broadcastAndClear(protocol.NewExited(name, s.exitCode, s.exitSignal))
	if m.events != nil {
		m.events.broadcastSessionList()
	}
}

func (m *Manager) get(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Attach adds the connection to the session's client set and queues the
// scrollback replay ahead of any future output to that connection.
func (m *Manager) Attach(name string, c client) (*Session, error) {
	sess, err := m.get(name)
	if err != nil {
		return nil, err
	}
	sess.attach(c)
	return sess, nil
}

func (m *Manager) Detach(name string, c client) {
	sess, err := m.get(name)
	if err != nil {
		return
	}
	sess.detach(c)
}

// DetachAll detaches the connection from every session it is in. All
// connection exits route through here, so size-map cleanup has a single
// owner.
func (m *Manager) DetachAll(c client) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.detach(c)
	}
}

func (m *Manager) Write(name string, data []byte) error {
	sess, err := m.get(name)
	if err != nil {
		return err
	}
	return sess.write(data)
}

func (m *Manager) Resize(name string, c client, cols, rows int) error {
	sess, err := m.get(name)
	if err != nil {
		return err
	}
	sess.resize(c, cols, rows)
	return nil
}

// Kill sends SIGTERM to the session's process group, notifies attached
// clients, and removes the session from the registry.
func (m *Manager) Kill(name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess.kill()
	sess.broadcastAndClear(protocol.NewKilled(name))
	slog.Info("session killed", "session", name)
	return nil
}

// Rename re-keys the session under the sanitized new name and notifies
// the session's attached clients.
func (m *Manager) Rename(oldName, rawNewName string) (string, error) {
	newName, err := sanitizeName(rawNewName)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	sess, ok := m.sessions[oldName]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotFound
	}
	if _, taken := m.sessions[newName]; taken && newName != oldName {
		m.mu.Unlock()
		return "", ErrAlreadyExists
	}
	delete(m.sessions, oldName)
	m.sessions[newName] = sess
	sess.setName(newName)
	m.mu.Unlock()

	slog.Info("session renamed", "from", oldName, "to", newName)
	sess.broadcast(protocol.NewRenamed(oldName, newName))
	return newName, nil
}

// List returns one entry per session, ordered by name.
func (m *Manager) List() []protocol.SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	list := make([]protocol.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		count := sess.clientCount()
		list = append(list, protocol.SessionInfo{
			Name:        sess.Name(),
			ClientCount: count,
			CreatedAt:   sess.CreatedAt().UnixMilli(),
			IsConnected: count > 0,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (m *Manager) Info(name string) (SessionDetails, error) {
	sess, err := m.get(name)
	if err != nil {
		return SessionDetails{}, err
	}
	count := sess.clientCount()
	return SessionDetails{
		Name:             sess.Name(),
		ClientCount:      count,
		CreatedAt:        sess.CreatedAt(),
		ScrollbackLength: sess.scrollbackLen(),
		IsConnected:      count > 0,
	}, nil
}

// KillAll terminates every session, ignoring per-session errors. Used
// during daemon shutdown.
func (m *Manager) KillAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Kill(name)
	}
}

func (m *Manager) SetClipboard(content string) error {
	if len(content) > maxClipboardBytes {
		return ErrClipboardTooLarge
	}
	m.mu.Lock()
	m.clipboard = content
	m.mu.Unlock()
	return nil
}

func (m *Manager) GetClipboard() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clipboard
}
