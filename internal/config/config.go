// Package config resolves the bridge's runtime settings. Values layer in
// priority order: built-in defaults, then an optional YAML file, then
// MSGBRIDGE_* environment variables, then CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/osa"
)

// Environment variable names recognized by Load.
const (
	EnvChatDB        = "MSGBRIDGE_CHAT_DB"
	EnvSocket        = "MSGBRIDGE_SOCKET"
	EnvOsascript     = "MSGBRIDGE_OSASCRIPT"
	EnvScriptTimeout = "MSGBRIDGE_SCRIPT_TIMEOUT"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// ChatDBPath locates the Messages store.
	ChatDBPath string `yaml:"chat_db"`
	// SocketPath is where the daemon listens for clients.
	SocketPath string `yaml:"socket"`
	// PortFile is where the daemon records its event-stream port.
	PortFile string `yaml:"port_file"`
	// OsascriptPath overrides the interpreter binary, mainly for tests.
	OsascriptPath string `yaml:"osascript"`
	// ScriptTimeout bounds one interpreter run.
	ScriptTimeout time.Duration `yaml:"script_timeout"`
	// MaxLimit caps the limit argument on listing tools.
	MaxLimit int `yaml:"max_limit"`
}

// Overrides are the flag-level settings CLI commands pass in. Empty fields
// leave the layered value alone.
type Overrides struct {
	ChatDBPath    string
	SocketPath    string
	ScriptTimeout time.Duration
}

// StateDir is the directory the daemon keeps its socket and port file in.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgbridge"
	}
	return filepath.Join(home, ".msgbridge", "var")
}

// DefaultConfigPath is where Load looks for the YAML file when no explicit
// path is given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgbridge/config.yaml"
	}
	return filepath.Join(home, ".msgbridge", "config.yaml")
}

func defaults() Config {
	return Config{
		ChatDBPath:    chatdb.DefaultPath(),
		SocketPath:    filepath.Join(StateDir(), "daemon.sock"),
		PortFile:      filepath.Join(StateDir(), "events.port"),
		ScriptTimeout: osa.DefaultTimeout,
		MaxLimit:      500,
	}
}

// Load resolves the configuration. path selects the YAML file; empty means
// DefaultConfigPath, and a missing default file is not an error. An
// explicitly named file that cannot be read is.
func Load(path string, ov Overrides) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults carry.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if v := os.Getenv(EnvChatDB); v != "" {
		cfg.ChatDBPath = v
	}
	if v := os.Getenv(EnvSocket); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv(EnvOsascript); v != "" {
		cfg.OsascriptPath = v
	}
	if v := os.Getenv(EnvScriptTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvScriptTimeout, err)
		}
		cfg.ScriptTimeout = d
	}

	if ov.ChatDBPath != "" {
		cfg.ChatDBPath = ov.ChatDBPath
	}
	if ov.SocketPath != "" {
		cfg.SocketPath = ov.SocketPath
	}
	if ov.ScriptTimeout > 0 {
		cfg.ScriptTimeout = ov.ScriptTimeout
	}

	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = osa.DefaultTimeout
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 500
	}
	return cfg, nil
}

// Runner builds the script runner this configuration describes.
func (c Config) Runner() *osa.ExecRunner {
	return &osa.ExecRunner{Binary: c.OsascriptPath, Timeout: c.ScriptTimeout}
}
