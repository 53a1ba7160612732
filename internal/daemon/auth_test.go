package daemon

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func newTestGate(password string) (*AuthGate, *time.Time) {
	g := NewAuthGate(password)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func TestAuthNoPassword(t *testing.T) {
	g, _ := newTestGate("")
	assert.Assert(t, !g.Required())
	assert.NilError(t, g.Authenticate("10.0.0.1", "anything"))
	assert.NilError(t, g.Authenticate("10.0.0.1", ""))
}

func TestAuthCorrectPassword(t *testing.T) {
	g, _ := newTestGate("hunter2")
	assert.Assert(t, g.Required())
	assert.NilError(t, g.Authenticate("10.0.0.1", "hunter2"))
}

func TestAuthWrongPassword(t *testing.T) {
	g, _ := newTestGate("hunter2")
	err := g.Authenticate("10.0.0.1", "letmein")
	assert.Assert(t, errors.Is(err, ErrInvalidPassword))
	assert.Equal(t, err.Error(), "Invalid password")
}

func TestAuthRateLimit(t *testing.T) {
	g, _ := newTestGate("hunter2")

	for i := 0; i < 5; i++ {
		err := g.Authenticate("10.0.0.1", "wrong")
		assert.Assert(t, errors.Is(err, ErrInvalidPassword), "attempt %d", i+1)
	}

	// Sixth attempt is rejected before the compare, even with the
	// correct password.
	err := g.Authenticate("10.0.0.1", "hunter2")
	var rle *RateLimitedError
	assert.Assert(t, errors.As(err, &rle))
	assert.Assert(t, regexp.MustCompile(`^Too many attempts\. Try again in \d+s$`).MatchString(err.Error()))
}

func TestAuthRateLimitPerAddress(t *testing.T) {
	g, _ := newTestGate("hunter2")

	for i := 0; i < 5; i++ {
		g.Authenticate("10.0.0.1", "wrong")
	}

	// A different address is unaffected.
	assert.NilError(t, g.Authenticate("10.0.0.2", "hunter2"))
}

func TestAuthWindowExpires(t *testing.T) {
	g, now := newTestGate("hunter2")

	for i := 0; i < 5; i++ {
		g.Authenticate("10.0.0.1", "wrong")
	}
	var rle *RateLimitedError
	assert.Assert(t, errors.As(g.Authenticate("10.0.0.1", "hunter2"), &rle))

	*now = now.Add(61 * time.Second)
	assert.NilError(t, g.Authenticate("10.0.0.1", "hunter2"))
}

func TestAuthRetryAfterSeconds(t *testing.T) {
	g, now := newTestGate("hunter2")

	for i := 0; i < 5; i++ {
		g.Authenticate("10.0.0.1", "wrong")
	}

	*now = now.Add(45 * time.Second)
	err := g.Authenticate("10.0.0.1", "hunter2")
	var rle *RateLimitedError
	assert.Assert(t, errors.As(err, &rle))
	assert.Equal(t, err.Error(), "Too many attempts. Try again in 15s")
}

func TestAuthSuccessClearsWindow(t *testing.T) {
	g, _ := newTestGate("hunter2")

	for i := 0; i < 4; i++ {
		g.Authenticate("10.0.0.1", "wrong")
	}
	assert.NilError(t, g.Authenticate("10.0.0.1", "hunter2"))

	// The counter restarted: five more failures fit before lockout.
	for i := 0; i < 5; i++ {
		err := g.Authenticate("10.0.0.1", "wrong")
		assert.Assert(t, errors.Is(err, ErrInvalidPassword), "attempt %d", i+1)
	}
	var rle *RateLimitedError
	assert.Assert(t, errors.As(g.Authenticate("10.0.0.1", "wrong"), &rle))
}

func TestSecurePasswordCompare(t *testing.T) {
	assert.Assert(t, securePasswordCompare("hunter2", "hunter2"))
	assert.Assert(t, !securePasswordCompare("hunter3", "hunter2"))
	assert.Assert(t, !securePasswordCompare("", "hunter2"))
	assert.Assert(t, !securePasswordCompare("hunter2longer", "hunter2"))
	assert.Assert(t, securePasswordCompare("", ""))
}
