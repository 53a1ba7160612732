package daemon

import (
	"os"
	"os/exec"
	"strings"

	"github.com/riywo/loginshell"
)

// buildShellCommand prepares the login shell for a new session. The shell
// runs with -l so profile files load, and the environment carries the
// daemon's locale through unchanged.
func buildShellCommand(override, sessionName string) *exec.Cmd {
	shell := resolveShell(override)
	cmd := exec.Command(shell, "-l")
	cmd.Env = sessionEnv(os.Environ(), sessionName)
	return cmd
}

func resolveShell(override string) string {
	if override != "" {
		return override
	}
	if shell, err := loginshell.Shell(); err == nil && shell != "" {
		return shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func sessionEnv(base []string, sessionName string) []string {
	env := make([]string, len(base))
	copy(env, base)

	env = setEnv(env, "TERM", "xterm-256color")
	env = setEnv(env, "COLORTERM", "truecolor")
	env = setEnv(env, "TERMAWAY_SESSION", sessionName)
	// zsh marks partial lines with a reverse-video %; suppress it so raw
	// output replays cleanly on every client.
	env = setEnv(env, "PROMPT_EOL_MARK", "")

	return env
}

func getEnv(env []string, key string) string {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return e[len(prefix):]
		}
	}
	return ""
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
