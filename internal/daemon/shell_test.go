package daemon

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolveShellOverride(t *testing.T) {
	assert.Equal(t, resolveShell("/bin/dash"), "/bin/dash")
}

func TestResolveShellFallback(t *testing.T) {
	t.Setenv("SHELL", "")
	// With no override the login-shell lookup or /bin/sh wins; either
	// way the result is non-empty.
	assert.Assert(t, resolveShell("") != "")
}

func TestBuildShellCommand(t *testing.T) {
	cmd := buildShellCommand("/bin/sh", "demo")

	assert.Equal(t, cmd.Path, "/bin/sh")
	assert.DeepEqual(t, cmd.Args, []string{"/bin/sh", "-l"})
	assert.Equal(t, getEnv(cmd.Env, "TERM"), "xterm-256color")
	assert.Equal(t, getEnv(cmd.Env, "COLORTERM"), "truecolor")
	assert.Equal(t, getEnv(cmd.Env, "TERMAWAY_SESSION"), "demo")
}

func TestSessionEnvOverridesInherited(t *testing.T) {
	base := []string{"TERM=dumb", "HOME=/home/u", "TERMAWAY_SESSION=stale"}
	env := sessionEnv(base, "fresh")

	assert.Equal(t, getEnv(env, "TERM"), "xterm-256color")
	assert.Equal(t, getEnv(env, "HOME"), "/home/u")
	assert.Equal(t, getEnv(env, "TERMAWAY_SESSION"), "fresh")

	// Replaced in place, no duplicate entries.
	count := 0
	for _, e := range env {
		if e == "TERM=xterm-256color" || e == "TERM=dumb" {
			count++
		}
	}
	assert.Equal(t, count, 1)
}

func TestSetEnvAppends(t *testing.T) {
	env := setEnv([]string{"A=1"}, "B", "2")
	assert.DeepEqual(t, env, []string{"A=1", "B=2"})
}

func TestGetEnvMissing(t *testing.T) {
	assert.Equal(t, getEnv([]string{"A=1"}, "B"), "")
}
