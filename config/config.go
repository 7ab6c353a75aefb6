// Package config loads a minitarp run's configuration document: the
// binary to launch and the addresses to trace.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/razzie/minitarp/common"
)

// Config is the {binary, breakpoints} document spec.md §6 describes,
// loaded once per run before the launcher forks.
type Config struct {
	Binary      string   `toml:"binary"`
	Args        []string `toml:"args"`
	Breakpoints []string `toml:"breakpoints"`
	PassFile    string   `toml:"pass_file"`
	FailFile    string   `toml:"fail_file"`
}

// Load reads and parses the TOML document at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, common.Error(err)
	}

	if cfg.Binary == "" {
		return nil, common.NewStateMachineError("config %s: binary is required", path)
	}
	if _, err := os.Stat(cfg.Binary); err != nil {
		return nil, common.Error(common.ErrBinaryMissing)
	}

	return &cfg, nil
}

// Addresses parses the configured breakpoint addresses, each written
// as a "0x"-prefixed hexadecimal string.
func (c *Config) Addresses() ([]uintptr, error) {
	addrs := make([]uintptr, 0, len(c.Breakpoints))
	for _, raw := range c.Breakpoints {
		var addr uintptr
		if _, err := fmt.Sscanf(raw, "0x%x", &addr); err != nil {
			return nil, common.NewStateMachineError("invalid breakpoint address %q: %v", raw, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Sink builds the EventLog sink named by PassFile/FailFile.
func (c *Config) Sink() common.Sink {
	return common.Sink{PassPath: c.PassFile, FailPath: c.FailFile}
}
