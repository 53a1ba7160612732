package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
}

type ServerConfig struct {
	// Host is the listen address. Empty means all interfaces.
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Password gates every connection when non-empty.
	Password string `toml:"password"`
	// ServiceName is handed to the host application's discovery advertiser.
	ServiceName string `toml:"service_name"`
	// CertDir overrides the default certificate directory (~/.termaway/certs).
	CertDir string `toml:"cert_dir"`
}

type SessionConfig struct {
	// Shell overrides the user's login shell for new sessions.
	Shell string `toml:"shell"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3000,
			ServiceName: "termaway",
		},
	}
}

func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFrom(path)
}

func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = Default().Server.Port
	}

	return cfg, nil
}

func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "termaway", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "termaway", "config.toml"), nil
}
