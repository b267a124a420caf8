package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mashiike/fxchat/jsonnetutil"
)

var ErrNoServers = errors.New("no mcp servers configured")

// Config is the `mcpServers` section of the fxchat config file.
type Config struct {
	Servers map[string]ClientConfig `json:"mcpServers"`
}

func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Servers = aux.Servers
	for name, server := range c.Servers {
		server.Name = name
		c.Servers[name] = server
	}
	return nil
}

// Names returns the configured server names in a stable order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetTimeouts applies the handshake and per-call deadlines to every server.
func (c *Config) SetTimeouts(initTimeout, callTimeout time.Duration) {
	for name, server := range c.Servers {
		server.InitTimeout = initTimeout
		server.CallTimeout = callTimeout
		c.Servers[name] = server
	}
}

type ClientConfig struct {
	Name     string            `json:"-"`
	Endpoint string            `json:"endpoint,omitempty"`
	Command  string            `json:"command,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Args     []string          `json:"args,omitempty"`

	// InitTimeout bounds the MCP handshake; zero means DefaultInitTimeout.
	InitTimeout time.Duration `json:"-"`
	// CallTimeout bounds each ListTools/CallTool round trip; zero means none.
	CallTimeout time.Duration `json:"-"`
}

func (cfg ClientConfig) Validate() error {
	if cfg.Command == "" && cfg.Endpoint == "" {
		return fmt.Errorf("either command or endpoint must be set")
	}
	if cfg.Command != "" && cfg.Endpoint != "" {
		return fmt.Errorf("only one of command or endpoint must be set")
	}
	return nil
}

// LoadConfig reads a jsonnet (or plain JSON) config file.
func LoadConfig(path string, extVars map[string]string) (*Config, error) {
	vm := jsonnetutil.MakeVM()
	vm.ExtVars(extVars)
	var cfg Config
	if err := vm.EvaluateFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load mcp config: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	for _, name := range cfg.Names() {
		if err := cfg.Servers[name].Validate(); err != nil {
			return nil, fmt.Errorf("mcp server `%s`: %w", name, err)
		}
	}
	return &cfg, nil
}

// SelfConfig spawns the running executable's own `mcp-server` command over stdio.
func SelfConfig(env map[string]string) (*Config, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &Config{
		Servers: map[string]ClientConfig{
			ServerName: {
				Name:    ServerName,
				Command: exe,
				Args:    []string{"mcp-server"},
				Env:     env,
			},
		},
	}, nil
}
