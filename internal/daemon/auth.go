package daemon

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 5
)

var ErrInvalidPassword = errors.New("Invalid password")

// RateLimitedError is returned when an address has exhausted its
// authentication attempts for the current window.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	return fmt.Sprintf("Too many attempts. Try again in %ds", secs)
}

type attemptWindow struct {
	count       int
	windowStart time.Time
}

// AuthGate checks the shared password and rate-limits failed attempts
// per remote address with a sliding 60 second window.
type AuthGate struct {
	password string
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]*attemptWindow
}

func NewAuthGate(password string) *AuthGate {
	return &AuthGate{
		password: password,
		now:      time.Now,
		attempts: make(map[string]*attemptWindow),
	}
}

// Required reports whether clients must authenticate at all. An empty
// configured password disables the gate.
func (g *AuthGate) Required() bool {
	return g.password != ""
}

// Authenticate verifies the password for the given remote address. The
// rate limit is consulted before the password is compared, so a
// locked-out address learns nothing about the password's validity.
func (g *AuthGate) Authenticate(addr, password string) error {
	if !g.Required() {
		return nil
	}

	g.mu.Lock()
	now := g.now()
	win := g.attempts[addr]
	if win != nil && now.Sub(win.windowStart) >= rateLimitWindow {
		delete(g.attempts, addr)
		win = nil
	}
	if win != nil && win.count >= rateLimitMax {
		retry := rateLimitWindow - now.Sub(win.windowStart)
		g.mu.Unlock()
		return &RateLimitedError{RetryAfter: retry}
	}
	g.mu.Unlock()

	if securePasswordCompare(password, g.password) {
		g.mu.Lock()
		delete(g.attempts, addr)
		g.mu.Unlock()
		return nil
	}

	g.mu.Lock()
	win = g.attempts[addr]
	if win == nil || now.Sub(win.windowStart) >= rateLimitWindow {
		g.attempts[addr] = &attemptWindow{count: 1, windowStart: now}
	} else {
		win.count++
	}
	g.mu.Unlock()
	return ErrInvalidPassword
}

// securePasswordCompare runs in time independent of where the inputs
// differ. On a length mismatch it still performs an equal-length compare
// against a zero buffer before rejecting.
func securePasswordCompare(got, want string) bool {
	if len(got) != len(want) {
		subtle.ConstantTimeCompare([]byte(got), make([]byte, len(got)))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
