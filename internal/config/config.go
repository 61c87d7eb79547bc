package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/peterje/termbridge/internal/pty"
)

// Session keys served over /ws/terminal/{key}.
const (
	KeyAgent = "agent"
	KeyShell = "shell"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Terminal TerminalConfig
	Logging  LogConfig
	Storage  StorageConfig
	Tunnel   TunnelConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port int    `envconfig:"PORT" default:"8765"`
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TerminalConfig holds the commands and PTY settings for terminal sessions.
type TerminalConfig struct {
	AgentCommand    string        `envconfig:"AGENT_COMMAND" default:"lsimons-agent-client"`
	Shell           string        `envconfig:"SHELL" default:"/bin/bash"`
	WorkDir         string        `envconfig:"WORK_DIR"`
	ScrollbackBytes int           `envconfig:"SCROLLBACK_BYTES" default:"65536"`
	StopGrace       time.Duration `envconfig:"STOP_GRACE" default:"3s"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"50ms"`
	Rows            uint16        `envconfig:"TERM_ROWS" default:"24"`
	Cols            uint16        `envconfig:"TERM_COLS" default:"80"`
}

// Commands maps each session key to the command it spawns.
func (t TerminalConfig) Commands() map[string]pty.Command {
	cmds := make(map[string]pty.Command, 2)
	if c, ok := t.command(t.AgentCommand); ok {
		cmds[KeyAgent] = c
	}
	if c, ok := t.command(t.Shell); ok {
		cmds[KeyShell] = c
	}
	return cmds
}

func (t TerminalConfig) command(line string) (pty.Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return pty.Command{}, false
	}
	return pty.Command{
		Path: fields[0],
		Args: fields[1:],
		Dir:  t.WorkDir,
		Rows: t.Rows,
		Cols: t.Cols,
	}, true
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// StorageConfig holds session history storage configuration. An empty
// Path means the default location under the data directory.
type StorageConfig struct {
	Path     string `envconfig:"DB_PATH"`
	Disabled bool   `envconfig:"DB_DISABLED" default:"false"`
}

// TunnelConfig holds reverse tunnel configuration. The tunnel is off when
// GatewayURL is empty.
type TunnelConfig struct {
	GatewayURL string `envconfig:"GATEWAY_URL"`
	Secret     string `envconfig:"GATEWAY_SECRET"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Terminal: TerminalConfig{
			AgentCommand:    "lsimons-agent-client",
			Shell:           "/bin/bash",
			ScrollbackBytes: pty.DefaultScrollbackSize,
			StopGrace:       pty.DefaultStopGrace,
			PollInterval:    50 * time.Millisecond,
			Rows:            pty.DefaultRows,
			Cols:            pty.DefaultCols,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}
