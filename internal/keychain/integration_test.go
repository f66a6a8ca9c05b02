//go:build integration && darwin

package keychain

import (
	"errors"
	"testing"
)

// Integration tests use the real macOS Keychain.
// Run with: go test -tags integration ./internal/keychain/
//
// Requires an unlocked login Keychain and an interactive session
// (first run may prompt for Keychain access approval).

const integrationService = "com.keystore.test"

func integrationStore() *CredentialStore {
	return New(NewSystemBackend(""), WithService(integrationService), WithLogger(quietLogger()))
}

func cleanupIntegration(t *testing.T, s *CredentialStore, label string) {
	t.Helper()
	s.Delete(label, KindKeyAgreement)
	s.Delete(label, KindSigning)
}

func TestKeychainGenerateAndRetrieve(t *testing.T) {
	s := integrationStore()
	label := "test/integration-generate"
	cleanupIntegration(t, s, label)
	defer cleanupIntegration(t, s, label)

	key, err := s.GenerateAndSave(label, KindKeyAgreement)
	if err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}

	loaded, err := s.GetOrGenerate(label, KindKeyAgreement)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if !key.Equal(loaded) {
		t.Error("expected the stored key")
	}
}

func TestKeychainDuplicate(t *testing.T) {
	s := integrationStore()
	label := "test/integration-duplicate"
	cleanupIntegration(t, s, label)
	defer cleanupIntegration(t, s, label)

	s.GenerateAndSave(label, KindSigning)
	_, err := s.GenerateAndSave(label, KindSigning)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestKeychainDelete(t *testing.T) {
	s := integrationStore()
	label := "test/integration-delete"

	s.GenerateAndSave(label, KindSigning)
	deleted, err := s.Delete(label, KindSigning)
	if err != nil || !deleted {
		t.Fatalf("Delete: %v, %v", deleted, err)
	}

	if _, err := s.Retrieve(label, KindSigning); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	deleted, err = s.Delete(label, KindSigning)
	if err != nil || deleted {
		t.Errorf("expected no-op delete, got %v, %v", deleted, err)
	}
}

func TestKeychainList(t *testing.T) {
	s := integrationStore()
	labels := []string{"test/integration-list-a", "test/integration-list-b"}
	for _, l := range labels {
		cleanupIntegration(t, s, l)
		defer cleanupIntegration(t, s, l)
		s.GenerateAndSave(l, KindSigning)
	}

	listed, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	found := make(map[string]bool)
	for _, e := range listed {
		found[e.Label] = true
	}
	for _, l := range labels {
		if !found[l] {
			t.Errorf("expected %q in list, not found", l)
		}
	}
}
