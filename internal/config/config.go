package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in the config file and on the command line.
const (
	BackendSystem   = "system"   // macOS Keychain on darwin, key directory elsewhere
	BackendKeychain = "keychain" // macOS Keychain only
	BackendKeyring  = "keyring"  // OS keyring via Secret Service / Credential Manager
	BackendDir      = "dir"
	BackendMemory   = "memory"
)

const defaultService = "com.keystore"

// Config holds persistent configuration loaded from ~/.keystore/config.yaml.
type Config struct {
	Backend  string `yaml:"backend"`
	Dir      string `yaml:"dir"`
	Service  string `yaml:"service"`
	AuditLog string `yaml:"audit_log"`
	Metadata string `yaml:"metadata"`
}

// Home returns the keystore home directory (~/.keystore).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keystore")
}

// DefaultPath returns the default config file path: ~/.keystore/config.yaml.
func DefaultPath() string {
	h := Home()
	if h == "" {
		return ""
	}
	return filepath.Join(h, "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve fills unset fields with defaults rooted at home and validates the
// backend name.
func (c *Config) Resolve(home string) error {
	if c.Backend == "" {
		c.Backend = BackendSystem
	}
	switch c.Backend {
	case BackendSystem, BackendKeychain, BackendKeyring, BackendDir, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Service == "" {
		c.Service = defaultService
	}
	if c.Dir == "" {
		c.Dir = filepath.Join(home, "keys")
	}
	if c.AuditLog == "" {
		c.AuditLog = filepath.Join(home, "audit.log")
	}
	if c.Metadata == "" {
		c.Metadata = filepath.Join(home, "key-metadata.json")
	}
	return nil
}
