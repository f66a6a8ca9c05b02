package keychain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/benaskins/keystore/internal/audit"
)

func setupAuditedStore(t *testing.T) (*AuditedStore, string) {
	t.Helper()
	return setupAuditedStoreAt(t, filepath.Join(t.TempDir(), "key-metadata.json"))
}

func setupAuditedStoreAt(t *testing.T, metaPath string) (*AuditedStore, string) {
	t.Helper()
	auditPath := filepath.Join(t.TempDir(), "audit.log")

	auditLog, err := audit.NewLogger(auditPath)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	meta, err := NewMetadataStore(metaPath)
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}

	inner := New(NewMemoryBackend(), WithLogger(quietLogger()))
	store := NewAuditedStore(inner, auditLog, meta, "cli")

	return store, auditPath
}

func readAuditEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	entries, err := audit.ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return entries
}

func TestAuditedStoreGenerateLogsAndRecordsMetadata(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	if _, err := store.GenerateAndSave("device", KindSigning); err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionKeyGenerate {
		t.Errorf("expected key_generate, got %v", entries[0].Action)
	}
	if entries[0].Label != "device" || entries[0].Kind != "signing" {
		t.Errorf("expected signing/device, got %s/%s", entries[0].Kind, entries[0].Label)
	}
	if entries[0].Actor != "cli" {
		t.Errorf("expected cli, got %q", entries[0].Actor)
	}

	meta := store.Metadata().Get("device", KindSigning)
	if meta == nil || meta.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be recorded")
	}
}

func TestAuditedStoreLogsFailedGenerate(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.GenerateAndSave("dup", KindKeyAgreement)
	if _, err := store.GenerateAndSave("dup", KindKeyAgreement); err == nil {
		t.Fatal("expected collision error")
	}

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Error == "" {
		t.Error("expected error in audit entry")
	}
}

func TestAuditedStoreRetrieveLogsRead(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.GenerateAndSave("k", KindKeyAgreement)
	store.Retrieve("k", KindKeyAgreement)
	store.Retrieve("missing", KindKeyAgreement)

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionKeyRead {
		t.Errorf("expected key_read, got %v", entries[1].Action)
	}
}

func TestAuditedStoreGetOrGenerate(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	first, err := store.GetOrGenerate("session", KindKeyAgreement)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	second, err := store.GetOrGenerate("session", KindKeyAgreement)
	if err != nil {
		t.Fatalf("GetOrGenerate: %v", err)
	}
	if !first.Equal(second) {
		t.Error("expected the same key from both calls")
	}

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionKeyGenerate {
		t.Errorf("first call should log key_generate, got %v", entries[0].Action)
	}
	if entries[1].Action != audit.ActionKeyRead {
		t.Errorf("second call should log key_read, got %v", entries[1].Action)
	}
	for _, e := range entries {
		if e.Trigger != "get_or_generate" {
			t.Errorf("expected trigger get_or_generate, got %q", e.Trigger)
		}
	}
	if store.Metadata().Get("session", KindKeyAgreement) == nil {
		t.Error("expected metadata for generated key")
	}
}

func TestAuditedStoreDeleteLogsDelete(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.GenerateAndSave("del", KindSigning)
	deleted, err := store.Delete("del", KindSigning)
	if err != nil || !deleted {
		t.Fatalf("Delete: %v, %v", deleted, err)
	}
	// Deleting again is a no-op and is not audited.
	store.Delete("del", KindSigning)

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionKeyDelete {
		t.Errorf("expected key_delete, got %v", entries[1].Action)
	}
	if store.Metadata().Get("del", KindSigning) != nil {
		t.Error("expected metadata to be removed")
	}
}

func TestAuditedStoreRotate(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	old, _ := store.GenerateAndSave("test/rotate", KindSigning)

	rotated, err := store.Rotate("test/rotate", KindSigning)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.Equal(old) {
		t.Error("expected a fresh key after rotation")
	}

	current, err := store.Retrieve("test/rotate", KindSigning)
	if err != nil {
		t.Fatalf("Retrieve after rotate: %v", err)
	}
	if !current.Equal(rotated) {
		t.Error("stored key does not match rotated key")
	}

	entries := readAuditEntries(t, auditPath)
	rotateEntries := filterEntries(entries, audit.ActionKeyRotate)
	if len(rotateEntries) != 1 {
		t.Fatalf("expected 1 rotate entry, got %d", len(rotateEntries))
	}
	if rotateEntries[0].Trigger != "rotate" {
		t.Errorf("expected trigger rotate, got %q", rotateEntries[0].Trigger)
	}

	meta := store.Metadata().Get("test/rotate", KindSigning)
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.LastRotated.IsZero() {
		t.Error("expected LastRotated to be set")
	}
}

func TestAuditedStoreRotateMissingCreates(t *testing.T) {
	store, _ := setupAuditedStore(t)

	if _, err := store.Rotate("fresh", KindKeyAgreement); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := store.Retrieve("fresh", KindKeyAgreement); err != nil {
		t.Errorf("Retrieve: %v", err)
	}
}

func TestAuditedStoreDeriveLogs(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	a, _ := store.GenerateAndSave("a", KindKeyAgreement)
	b, _ := store.GenerateAndSave("b", KindKeyAgreement)
	if _, err := store.DeriveSharedSymmetricKey(a, b.PublicKeyBytes()); err != nil {
		t.Fatalf("DeriveSharedSymmetricKey: %v", err)
	}

	entries := readAuditEntries(t, auditPath)
	if got := filterEntries(entries, audit.ActionKeyDerive); len(got) != 1 {
		t.Fatalf("expected 1 derive entry, got %d", len(got))
	}
}

func TestAuditedStoreMetadataFailureDoesNotFailOperation(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "meta")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	// The metadata file's parent is a regular file, so every save fails.
	store, auditPath := setupAuditedStoreAt(t, filepath.Join(blocker, "m.json"))

	key, err := store.GenerateAndSave("k", KindSigning)
	if err != nil || key == nil {
		t.Fatalf("GenerateAndSave: key=%v err=%v", key != nil, err)
	}
	stored, err := store.Retrieve("k", KindSigning)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !stored.Equal(key) {
		t.Error("stored key does not match returned key")
	}

	if _, err := store.GetOrGenerate("fresh", KindKeyAgreement); err != nil {
		t.Errorf("GetOrGenerate: %v", err)
	}

	imported, err := P256Crypto{}.GenerateKey(KindKeyAgreement)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save("imported", imported); err != nil {
		t.Errorf("Save: %v", err)
	}

	rotated, err := store.Rotate("k", KindSigning)
	if err != nil || rotated == nil {
		t.Fatalf("Rotate: key=%v err=%v", rotated != nil, err)
	}
	current, err := store.Retrieve("k", KindSigning)
	if err != nil {
		t.Fatalf("Retrieve after rotate: %v", err)
	}
	if !current.Equal(rotated) {
		t.Error("Rotate should return the stored replacement key")
	}

	deleted, err := store.Delete("k", KindSigning)
	if err != nil || !deleted {
		t.Errorf("Delete: %v, %v", deleted, err)
	}

	for _, e := range readAuditEntries(t, auditPath) {
		if e.Error != "" {
			t.Errorf("%s %s/%s logged error %q", e.Action, e.Kind, e.Label, e.Error)
		}
	}
}

func TestMetadataStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	ms1, _ := NewMetadataStore(path)
	ms1.Set("key1", KindSigning, &KeyMetadata{})
	ms1.Set("key1", KindKeyAgreement, &KeyMetadata{})
	ms1.Delete("key1", KindKeyAgreement)

	ms2, _ := NewMetadataStore(path)
	if ms2.Get("key1", KindSigning) == nil {
		t.Fatal("expected metadata after reload")
	}
	if ms2.Get("key1", KindKeyAgreement) != nil {
		t.Error("expected deleted metadata to stay deleted")
	}
}

func filterEntries(entries []audit.Entry, action audit.Action) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if e.Action == action {
			result = append(result, e)
		}
	}
	return result
}
