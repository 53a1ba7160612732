package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDir is the fixed per-user directory (~/.termaway).
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: determine home directory: %w", err)
	}
	return filepath.Join(home, ".termaway"), nil
}

// CertsDir holds server.key (0600) and server.crt (0644). Both present
// means the daemon serves TLS; otherwise it serves plaintext.
func CertsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "certs"), nil
}
