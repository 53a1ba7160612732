package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	kongcompletion "github.com/jotaen/kong-completion"
	"golang.org/x/term"

	termaway "github.com/termaway/termaway"
	"github.com/termaway/termaway/internal/config"
	"github.com/termaway/termaway/internal/daemon"
)

type CLI struct {
	Version    kong.VersionFlag          `help:"Print version."`
	Serve      ServeCmd                  `cmd:"" default:"1" help:"Start the daemon in the foreground."`
	Init       InitCmd                   `cmd:"" help:"Create default config file."`
	Config     ConfigCmd                 `cmd:"" help:"Print effective configuration."`
	Completion kongcompletion.Completion `cmd:"" help:"Print shell completion setup instructions."`
}

type ServeCmd struct {
	Host           string `help:"Listen address (default: all interfaces)." env:"TERMAWAY_HOST"`
	Port           int    `help:"Listen port." default:"0" env:"TERMAWAY_PORT"`
	Password       string `help:"Shared password for client authentication." env:"TERMAWAY_PASSWORD"`
	PromptPassword bool   `help:"Read the password from the terminal instead."`
	Name           string `help:"Service name used for discovery advertisement."`
	Verbose        bool   `short:"v" help:"Enable debug logging."`
}

func (cmd *ServeCmd) Run(cfg *config.Config) error {
	level := slog.LevelInfo
	if cmd.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cmd.Host != "" {
		cfg.Server.Host = cmd.Host
	}
	if cmd.Port != 0 {
		cfg.Server.Port = cmd.Port
	}
	if cmd.Password != "" {
		cfg.Server.Password = cmd.Password
	}
	if cmd.Name != "" {
		cfg.Server.ServiceName = cmd.Name
	}
	if cmd.PromptPassword {
		password, err := readPassword()
		if err != nil {
			return err
		}
		cfg.Server.Password = password
	}
	if cfg.Server.CertDir == "" {
		dir, err := config.CertsDir()
		if err != nil {
			return err
		}
		cfg.Server.CertDir = dir
	}

	return daemon.New(cfg).Listen()
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

type InitCmd struct{}

func (cmd *InitCmd) Run(_ *config.Config) error {
	path, err := config.DefaultPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config.Default()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("created %s\n", path)
	return nil
}

type ConfigCmd struct{}

func (cmd *ConfigCmd) Run(cfg *config.Config) error {
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.UsageOnError(),
		kong.Vars{"version": termaway.Version()},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kongcompletion.Register(parser)

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.Printf("%s", err)
		parser.Exit(1)
		return
	}

	cfg, err := config.Load()
	ctx.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(cfg))
}
