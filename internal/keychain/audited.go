package keychain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benaskins/keystore/internal/audit"
)

// KeyMetadata tracks creation and rotation for a credential.
type KeyMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastRotated time.Time `json:"last_rotated,omitzero"`
}

// MetadataStore persists credential metadata to a JSON file, keyed by
// "<kind>/<label>".
type MetadataStore struct {
	mu       sync.RWMutex
	path     string
	metadata map[string]*KeyMetadata
}

// NewMetadataStore loads or creates a metadata file.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{
		path:     path,
		metadata: make(map[string]*KeyMetadata),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &ms.metadata); jsonErr != nil {
			slog.Warn("corrupt metadata file, starting fresh", "path", path, "error", jsonErr)
		}
	}

	return ms, nil
}

func metadataKey(label string, kind KeyKind) string {
	return string(kind) + "/" + label
}

// Get returns a copy of the metadata for a credential, or nil if not tracked.
func (ms *MetadataStore) Get(label string, kind KeyKind) *KeyMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.metadata[metadataKey(label, kind)]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Set records metadata for a credential and persists to disk.
func (ms *MetadataStore) Set(label string, kind KeyKind, meta *KeyMetadata) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	cp := *meta
	ms.metadata[metadataKey(label, kind)] = &cp
	return ms.save()
}

// Delete removes metadata for a credential.
func (ms *MetadataStore) Delete(label string, kind KeyKind) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.metadata, metadataKey(label, kind))
	return ms.save()
}

func (ms *MetadataStore) save() error {
	data, err := json.MarshalIndent(ms.metadata, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := ms.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, ms.path)
}

// AuditedStore wraps a Store and adds audit logging and metadata tracking.
// Both are best-effort: once the inner store has succeeded, a failed log or
// metadata write is logged and the operation still succeeds.
type AuditedStore struct {
	inner    Store
	audit    *audit.Logger
	metadata *MetadataStore
	actor    string // "cli" or "library"
	logger   *slog.Logger
}

var _ Store = (*AuditedStore)(nil)

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner Store, auditLog *audit.Logger, metadata *MetadataStore, actor string) *AuditedStore {
	return &AuditedStore{
		inner:    inner,
		audit:    auditLog,
		metadata: metadata,
		actor:    actor,
		logger:   slog.With("component", "keychain"),
	}
}

func (s *AuditedStore) log(action audit.Action, label string, kind KeyKind, trigger string, err error) {
	e := audit.Entry{
		Action:  action,
		Label:   label,
		Kind:    string(kind),
		Actor:   s.actor,
		Trigger: trigger,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if err := s.audit.Log(e); err != nil {
		s.logger.Warn("audit log write failed", "action", action, "label", label, "kind", kind, "error", err)
	}
}

func (s *AuditedStore) setMetadata(label string, kind KeyKind, meta *KeyMetadata) {
	if err := s.metadata.Set(label, kind, meta); err != nil {
		s.logger.Warn("saving key metadata failed", "label", label, "kind", kind, "error", err)
	}
}

func (s *AuditedStore) recordCreated(label string, kind KeyKind) {
	if s.metadata.Get(label, kind) != nil {
		return
	}
	s.setMetadata(label, kind, &KeyMetadata{CreatedAt: time.Now().UTC()})
}

func (s *AuditedStore) GenerateAndSave(label string, kind KeyKind) (*PrivateKey, error) {
	key, err := s.inner.GenerateAndSave(label, kind)
	s.log(audit.ActionKeyGenerate, label, kind, "manual", err)
	if err != nil {
		return nil, err
	}
	s.recordCreated(label, kind)
	return key, nil
}

func (s *AuditedStore) Save(label string, key *PrivateKey) error {
	var kind KeyKind
	if key != nil {
		kind = key.Kind()
	}
	err := s.inner.Save(label, key)
	s.log(audit.ActionKeyStore, label, kind, "manual", err)
	if err != nil {
		return err
	}
	s.recordCreated(label, kind)
	return nil
}

func (s *AuditedStore) Retrieve(label string, kind KeyKind) (*PrivateKey, error) {
	key, err := s.inner.Retrieve(label, kind)
	if err != nil {
		return nil, err
	}
	s.log(audit.ActionKeyRead, label, kind, "", nil)
	return key, nil
}

// GetOrGenerate records key_read when the credential was already stored and
// key_generate when this call had to create it.
func (s *AuditedStore) GetOrGenerate(label string, kind KeyKind) (*PrivateKey, error) {
	key, err := s.inner.Retrieve(label, kind)
	if err == nil {
		s.log(audit.ActionKeyRead, label, kind, "get_or_generate", nil)
		s.recordCreated(label, kind)
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.log(audit.ActionKeyRead, label, kind, "get_or_generate", err)
		return nil, err
	}

	key, err = s.inner.GetOrGenerate(label, kind)
	s.log(audit.ActionKeyGenerate, label, kind, "get_or_generate", err)
	if err != nil {
		return nil, err
	}
	s.recordCreated(label, kind)
	return key, nil
}

func (s *AuditedStore) Delete(label string, kind KeyKind) (bool, error) {
	deleted, err := s.inner.Delete(label, kind)
	if err != nil {
		s.log(audit.ActionKeyDelete, label, kind, "manual", err)
		return false, err
	}
	if !deleted {
		return false, nil
	}
	s.log(audit.ActionKeyDelete, label, kind, "manual", nil)
	if err := s.metadata.Delete(label, kind); err != nil {
		s.logger.Warn("deleting key metadata failed", "label", label, "kind", kind, "error", err)
	}
	return true, nil
}

func (s *AuditedStore) List() ([]Entry, error) {
	return s.inner.List()
}

func (s *AuditedStore) DeriveSharedSymmetricKey(local *PrivateKey, remotePublic []byte) ([]byte, error) {
	key, err := s.inner.DeriveSharedSymmetricKey(local, remotePublic)
	s.log(audit.ActionKeyDerive, "", KindKeyAgreement, "", err)
	return key, err
}

// Rotate replaces the credential for (label, kind) with a fresh key. A
// missing credential is simply created. The old key is gone once Rotate
// returns, even if generating the replacement fails.
func (s *AuditedStore) Rotate(label string, kind KeyKind) (*PrivateKey, error) {
	if _, err := s.inner.Delete(label, kind); err != nil {
		s.log(audit.ActionKeyRotate, label, kind, "rotate", err)
		return nil, fmt.Errorf("removing old key: %w", err)
	}

	key, err := s.inner.GenerateAndSave(label, kind)
	s.log(audit.ActionKeyRotate, label, kind, "rotate", err)
	if err != nil {
		return nil, fmt.Errorf("generating replacement key: %w", err)
	}

	now := time.Now().UTC()
	meta := s.metadata.Get(label, kind)
	if meta == nil {
		meta = &KeyMetadata{CreatedAt: now}
	}
	meta.LastRotated = now
	s.setMetadata(label, kind, meta)
	return key, nil
}

// Metadata returns the metadata store for direct access.
func (s *AuditedStore) Metadata() *MetadataStore {
	return s.metadata
}
