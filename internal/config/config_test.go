package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HOST", "PORT", "AGENT_COMMAND", "SHELL", "WORK_DIR", "SCROLLBACK_BYTES",
	"STOP_GRACE", "POLL_INTERVAL", "TERM_ROWS", "TERM_COLS", "LOG_LEVEL",
	"LOG_DEV", "DB_PATH", "DB_DISABLED", "GATEWAY_URL", "GATEWAY_SECRET",
}

// clearEnv unsets every variable Load reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SHELL", "/bin/zsh")
	t.Setenv("AGENT_COMMAND", "my-agent --verbose")
	t.Setenv("STOP_GRACE", "750ms")
	t.Setenv("SCROLLBACK_BYTES", "1024")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DB_DISABLED", "true")
	t.Setenv("GATEWAY_URL", "wss://gateway.example.com/tunnel")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, 750*time.Millisecond, cfg.Terminal.StopGrace)
	assert.Equal(t, 1024, cfg.Terminal.ScrollbackBytes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Storage.Disabled)
	assert.Equal(t, "wss://gateway.example.com/tunnel", cfg.Tunnel.GatewayURL)

	agent := cfg.Terminal.Commands()[KeyAgent]
	assert.Equal(t, "my-agent", agent.Path)
	assert.Equal(t, []string{"--verbose"}, agent.Args)
}

func TestLoadInvalidValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	term := Default().Terminal
	term.WorkDir = "/tmp"
	term.Rows, term.Cols = 40, 120

	cmds := term.Commands()
	require.Len(t, cmds, 2)

	shell := cmds[KeyShell]
	assert.Equal(t, "/bin/bash", shell.Path)
	assert.Empty(t, shell.Args)
	assert.Equal(t, "/tmp", shell.Dir)
	assert.Equal(t, uint16(40), shell.Rows)
	assert.Equal(t, uint16(120), shell.Cols)

	assert.Equal(t, "lsimons-agent-client", cmds[KeyAgent].Path)
}

func TestCommandsSkipsBlank(t *testing.T) {
	term := Default().Terminal
	term.AgentCommand = "   "

	cmds := term.Commands()
	assert.NotContains(t, cmds, KeyAgent)
	assert.Contains(t, cmds, KeyShell)
}
