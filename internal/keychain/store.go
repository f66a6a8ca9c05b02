package keychain

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Store is the credential contract shared by CredentialStore and its
// decorators.
type Store interface {
	GenerateAndSave(label string, kind KeyKind) (*PrivateKey, error)
	Save(label string, key *PrivateKey) error
	Retrieve(label string, kind KeyKind) (*PrivateKey, error)
	GetOrGenerate(label string, kind KeyKind) (*PrivateKey, error)
	Delete(label string, kind KeyKind) (bool, error)
	List() ([]Entry, error)
	DeriveSharedSymmetricKey(local *PrivateKey, remotePublic []byte) ([]byte, error)
}

// CredentialStore maps (label, kind) pairs to private keys held in a Backend.
// It keeps no state between calls; the backend is the only shared resource.
type CredentialStore struct {
	backend Backend
	crypto  Crypto
	service string
	logger  *slog.Logger
}

var _ Store = (*CredentialStore)(nil)

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithCrypto replaces the default P256Crypto provider.
func WithCrypto(c Crypto) Option {
	return func(s *CredentialStore) {
		s.crypto = c
	}
}

// WithService sets the service attribute used to scope queries.
func WithService(service string) Option {
	return func(s *CredentialStore) {
		s.service = service
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *CredentialStore) {
		s.logger = l
	}
}

// New creates a CredentialStore over backend.
func New(backend Backend, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		backend: backend,
		crypto:  P256Crypto{},
		service: DefaultService,
		logger:  slog.With("component", "keychain"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CredentialStore) query(label string, kind KeyKind) Query {
	return Query{
		Service:    s.service,
		Label:      label,
		Kind:       kind,
		Accessible: AccessibleWhenUnlockedThisDeviceOnly,
	}
}

func validate(op, label string, kind KeyKind) error {
	if label == "" {
		return &Error{Op: op, Code: CodeInvalidArgument, Kind: kind, Err: errors.New("label must not be empty")}
	}
	if !kind.Valid() {
		return &Error{Op: op, Code: CodeInvalidArgument, Label: label, Kind: kind, Err: fmt.Errorf("unknown key kind %q", kind)}
	}
	return nil
}

// GenerateAndSave creates a fresh key and persists it. If a credential for
// (label, kind) already exists it fails with CodePersistenceFailed and
// ReasonAlreadyExists; replacing a key is Delete followed by GenerateAndSave.
func (s *CredentialStore) GenerateAndSave(label string, kind KeyKind) (*PrivateKey, error) {
	return s.generateAndSave("generate", label, kind)
}

func (s *CredentialStore) generateAndSave(op, label string, kind KeyKind) (*PrivateKey, error) {
	if err := validate(op, label, kind); err != nil {
		return nil, err
	}

	key, err := s.crypto.GenerateKey(kind)
	if err == nil && (key == nil || key.Kind() != kind) {
		err = fmt.Errorf("provider returned a key of the wrong kind")
	}
	if err != nil {
		return nil, &Error{Op: op, Code: CodeGenerationFailed, Label: label, Kind: kind, Err: err}
	}

	if err := s.add(op, label, key); err != nil {
		return nil, err
	}
	s.logger.Info("generated key", "label", label, "kind", kind)
	return key, nil
}

// Save persists a caller-supplied key under (label, key.Kind()), with the
// same collision policy as GenerateAndSave.
func (s *CredentialStore) Save(label string, key *PrivateKey) error {
	if key == nil {
		return &Error{Op: "save", Code: CodeInvalidArgument, Label: label, Err: errors.New("key must not be nil")}
	}
	if err := validate("save", label, key.Kind()); err != nil {
		return err
	}
	if err := s.add("save", label, key); err != nil {
		return err
	}
	s.logger.Info("stored key", "label", label, "kind", key.Kind())
	return nil
}

func (s *CredentialStore) add(op, label string, key *PrivateKey) error {
	if err := s.backend.Add(s.query(label, key.Kind()), key.Bytes()); err != nil {
		return backendError(op, label, key.Kind(), err)
	}
	return nil
}

// backendError classifies a backend failure. Backends reject names they
// cannot represent with ErrInvalidArgument; everything else is a
// persistence failure.
func backendError(op, label string, kind KeyKind, err error) *Error {
	if errors.Is(err, ErrInvalidArgument) {
		return &Error{Op: op, Code: CodeInvalidArgument, Label: label, Kind: kind, Err: err}
	}
	return &Error{
		Op:     op,
		Code:   CodePersistenceFailed,
		Reason: reasonFor(err),
		Label:  label,
		Kind:   kind,
		Err:    err,
	}
}

// Retrieve loads the key stored under (label, kind). An absent credential
// yields ErrNotFound; bytes that do not decode as a key of kind yield
// CodeDecodingFailed.
func (s *CredentialStore) Retrieve(label string, kind KeyKind) (*PrivateKey, error) {
	if err := validate("retrieve", label, kind); err != nil {
		return nil, err
	}

	data, err := s.backend.Find(s.query(label, kind))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, label)
		}
		return nil, backendError("retrieve", label, kind, err)
	}

	key, err := ParsePrivateKey(kind, data)
	if err != nil {
		s.logger.Error("stored key could not be decoded", "label", label, "kind", kind, "size", len(data), "error", err)
		return nil, &Error{Op: "retrieve", Code: CodeDecodingFailed, Label: label, Kind: kind, Err: err}
	}
	return key, nil
}

// GetOrGenerate returns the stored key, creating it when absent. Only
// ErrNotFound leads to generation. When a concurrent caller creates the
// credential first, the winner's key is returned.
func (s *CredentialStore) GetOrGenerate(label string, kind KeyKind) (*PrivateKey, error) {
	key, err := s.Retrieve(label, kind)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	key, err = s.generateAndSave("get_or_generate", label, kind)
	if err == nil {
		return key, nil
	}
	if errors.Is(err, ErrAlreadyExists) {
		s.logger.Debug("credential created concurrently, loading stored key", "label", label, "kind", kind)
		return s.Retrieve(label, kind)
	}
	return nil, err
}

// Delete removes the credential for (label, kind). It reports false with a
// nil error when nothing was stored.
func (s *CredentialStore) Delete(label string, kind KeyKind) (bool, error) {
	if err := validate("delete", label, kind); err != nil {
		return false, err
	}

	err := s.backend.Remove(s.query(label, kind))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, backendError("delete", label, kind, err)
	}
	s.logger.Info("deleted key", "label", label, "kind", kind)
	return true, nil
}

// List returns the stored credentials sorted by label then kind. The backend
// must implement Lister.
func (s *CredentialStore) List() ([]Entry, error) {
	lister, ok := s.backend.(Lister)
	if !ok {
		return nil, &Error{
			Op:     "list",
			Code:   CodePersistenceFailed,
			Reason: ReasonUnavailable,
			Err:    fmt.Errorf("%w: backend %T cannot enumerate credentials", ErrUnavailable, s.backend),
		}
	}
	entries, err := lister.List(s.service)
	if err != nil {
		return nil, &Error{Op: "list", Code: CodePersistenceFailed, Reason: reasonFor(err), Err: err}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Label != entries[j].Label {
			return entries[i].Label < entries[j].Label
		}
		return entries[i].Kind < entries[j].Kind
	})
	return entries, nil
}

// DeriveSharedSymmetricKey performs ECDH between local and the uncompressed
// P-256 point remotePublic, then derives a 32-byte key with HKDF-SHA256 using
// an empty salt and empty info.
func (s *CredentialStore) DeriveSharedSymmetricKey(local *PrivateKey, remotePublic []byte) ([]byte, error) {
	fail := func(err error) error {
		return &Error{Op: "derive", Code: CodeAgreementFailed, Kind: KindKeyAgreement, Err: err}
	}
	if local == nil || local.Kind() != KindKeyAgreement {
		return nil, fail(errors.New("local key is not a key-agreement key"))
	}
	remote, err := ParsePublicKey(remotePublic)
	if err != nil {
		return nil, fail(fmt.Errorf("remote public key: %w", err))
	}

	secret, err := s.crypto.SharedSecret(local.ECDH(), remote)
	if err != nil {
		return nil, fail(err)
	}
	defer clear(secret)

	key, err := s.crypto.DeriveKey(secret)
	if err != nil {
		return nil, fail(err)
	}
	if len(key) != SymmetricKeySize {
		return nil, fail(fmt.Errorf("derived %d bytes, want %d", len(key), SymmetricKeySize))
	}
	return key, nil
}
