package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/benaskins/keystore/internal/audit"
	"github.com/benaskins/keystore/internal/config"
	"github.com/benaskins/keystore/internal/keychain"
)

// session is an opened store plus the resources backing it.
type session struct {
	cfg     *config.Config
	backend keychain.Backend
	store   *keychain.AuditedStore
	audit   *audit.Logger
}

func (s *session) Close() error {
	return s.audit.Close()
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
	}
	if serviceFlag != "" {
		cfg.Service = serviceFlag
	}

	home := config.Home()
	if home == "" {
		home = filepath.Join(os.TempDir(), "keystore")
	}
	if err := cfg.Resolve(home); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openBackend(cfg *config.Config) (keychain.Backend, error) {
	switch cfg.Backend {
	case config.BackendSystem:
		return keychain.NewSystemBackend(cfg.Dir), nil
	case config.BackendKeychain:
		return keychain.NewKeychainBackend()
	case config.BackendKeyring:
		return keychain.NewKeyringBackend(), nil
	case config.BackendDir:
		return keychain.NewDirBackend(cfg.Dir), nil
	case config.BackendMemory:
		return keychain.NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	for _, p := range []string{cfg.AuditLog, cfg.Metadata} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(p), err)
		}
	}
	auditLog, err := audit.NewLogger(cfg.AuditLog)
	if err != nil {
		return nil, err
	}
	meta, err := keychain.NewMetadataStore(cfg.Metadata)
	if err != nil {
		auditLog.Close()
		return nil, err
	}

	inner := keychain.New(backend,
		keychain.WithService(cfg.Service),
		keychain.WithLogger(slog.With("component", "keychain", "backend", cfg.Backend)),
	)
	return &session{
		cfg:     cfg,
		backend: backend,
		store:   keychain.NewAuditedStore(inner, auditLog, meta, "cli"),
		audit:   auditLog,
	}, nil
}
