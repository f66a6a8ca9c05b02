package keychain

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirBackendPersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	first := newTestStore(t, NewDirBackend(root))
	key, err := first.GenerateAndSave("device", KindSigning)
	require.NoError(t, err)

	// A second store over the same directory stands in for another process.
	second := newTestStore(t, NewDirBackend(root))
	loaded, err := second.Retrieve("device", KindSigning)
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), loaded.Bytes())
}

func TestDirBackendFileLayout(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s := newTestStore(t, NewDirBackend(root))

	key, err := s.GenerateAndSave("user@host/laptop", KindKeyAgreement)
	require.NoError(t, err)

	path := filepath.Join(root, "com%2Ekeystore", "user%40host%2Flaptop.agreement.key")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), data, "file should hold the canonical encoding")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		dirInfo, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
	}

	leftovers, err := filepath.Glob(filepath.Join(root, "com%2Ekeystore", ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files should be cleaned up")
}

func TestDirBackendRejectsInsecurePermissions(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("mode bits are not enforced on Windows")
	}

	root := t.TempDir()
	b := NewDirBackend(root)
	s := newTestStore(t, b)

	_, err := s.GenerateAndSave("loose", KindSigning)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(b.path(s.query("loose", KindSigning)), 0644))

	_, err = s.Retrieve("loose", KindSigning)
	assertPersistence(t, err, ReasonDenied)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestDirBackendCorruptFileIsDecodingFailed(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	b := NewDirBackend(root)
	s := newTestStore(t, b)

	_, err := s.GenerateAndSave("corrupt", KindKeyAgreement)
	require.NoError(t, err)
	path := b.path(s.query("corrupt", KindKeyAgreement))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))

	_, err = s.Retrieve("corrupt", KindKeyAgreement)
	assert.ErrorIs(t, err, ErrDecodingFailed)
}

func TestDirBackendUnavailableRoot(t *testing.T) {
	t.Parallel()
	// A regular file where the root directory should be.
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0600))

	s := newTestStore(t, NewDirBackend(root))
	_, err := s.GenerateAndSave("k", KindSigning)
	require.ErrorIs(t, err, ErrPersistenceFailed)
	ke, ok := AsError(err)
	require.True(t, ok)
	assert.NotEqual(t, ReasonAlreadyExists, ke.Reason)
}

func TestDirBackendRaceAcrossInstances(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	const racers = 8
	var wg sync.WaitGroup
	keys := make([]*PrivateKey, racers)
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newTestStore(t, NewDirBackend(root))
			keys[i], errs[i] = s.GetOrGenerate("race", KindKeyAgreement)
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0].Bytes(), keys[i].Bytes())
	}

	entries, err := NewDirBackend(root).List(DefaultService)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Label: "race", Kind: KindKeyAgreement}}, entries)
}

func TestDirBackendLongLabels(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, NewDirBackend(t.TempDir()))

	// 81 slashes escape to 243 bytes; with ".signing.key" the name is exactly 255.
	fits := strings.Repeat("/", 81)
	_, err := s.GenerateAndSave(fits, KindSigning)
	require.NoError(t, err)
	_, err = s.Retrieve(fits, KindSigning)
	require.NoError(t, err)

	tooLong := strings.Repeat("/", 82)
	_, err = s.GenerateAndSave(tooLong, KindSigning)
	require.ErrorIs(t, err, ErrInvalidArgument)
	ke, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidArgument, ke.Code)
	assert.NotErrorIs(t, err, ErrPersistenceFailed)

	_, err = s.Retrieve(tooLong, KindSigning)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.GetOrGenerate(strings.Repeat("é", 50), KindKeyAgreement)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Delete(tooLong, KindSigning)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDirBackendListMissingDir(t *testing.T) {
	t.Parallel()
	b := NewDirBackend(filepath.Join(t.TempDir(), "absent"))

	entries, err := b.List(DefaultService)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEscapeNameRoundTrip(t *testing.T) {
	t.Parallel()
	for _, name := range []string{
		"plain",
		"with space",
		"dots.and..dots",
		"../escape",
		"unicode-ключ",
		"100%",
		"a_b-C9",
	} {
		escaped := escapeName(name)
		assert.NotContains(t, escaped, ".")
		assert.NotContains(t, escaped, "/")

		got, ok := unescapeName(escaped)
		require.True(t, ok, "unescape %q", escaped)
		assert.Equal(t, name, got)
	}
}

func TestParseFileNameRejectsForeignFiles(t *testing.T) {
	t.Parallel()
	for _, name := range []string{
		".tmp-12345",
		"notes.txt",
		"label.rsa.key",
		"a.b.signing.key",
		"bad%zz.signing.key",
		".signing.key",
	} {
		_, ok := parseFileName(name)
		assert.False(t, ok, name)
	}
}

func TestDirBackendWatch(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	b := NewDirBackend(root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 8)
	done := make(chan error, 1)
	go func() {
		done <- b.Watch(ctx, DefaultService, func(e Event) { events <- e })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	s := newTestStore(t, b)
	_, err := s.GenerateAndSave("watched", KindSigning)
	require.NoError(t, err)
	_, err = s.Delete("watched", KindSigning)
	require.NoError(t, err)

	want := []Event{
		{Entry: Entry{Label: "watched", Kind: KindSigning}, Op: EventCreated},
		{Entry: Entry{Label: "watched", Kind: KindSigning}, Op: EventRemoved},
	}
	for _, w := range want {
		select {
		case got := <-events:
			assert.Equal(t, w, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %v", w)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
