package keychain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const keyFileExt = ".key"

// maxNameLen is the common file name limit (NAME_MAX on Linux and macOS).
const maxNameLen = 255

// DefaultDir is the directory used by the file fallback: ~/.keystore/keys.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "keystore", "keys")
	}
	return filepath.Join(home, ".keystore", "keys")
}

// DirBackend stores each credential as a file holding its canonical bytes:
//
//	<root>/<service>/<label>.<kind>.key
//
// Service and label are escaped so that distinct labels never share a file.
// Directories are 0700 and files 0600; on unix, files with group or other
// access, or owned by another user, are refused with ErrDenied.
type DirBackend struct {
	root string
}

// NewDirBackend creates a backend rooted at root. The directory is created
// lazily on first write.
func NewDirBackend(root string) *DirBackend {
	return &DirBackend{root: root}
}

// Root returns the backend's root directory.
func (b *DirBackend) Root() string { return b.root }

func (b *DirBackend) serviceDir(service string) string {
	return filepath.Join(b.root, escapeName(service))
}

func (b *DirBackend) path(q Query) string {
	return filepath.Join(b.serviceDir(q.Service), fileName(q.Label, q.Kind))
}

// Add writes the key to a temporary file and hard-links it into place. The
// link fails atomically when the credential exists, including across
// processes.
func (b *DirBackend) Add(q Query, data []byte) error {
	if err := checkNames(q); err != nil {
		return err
	}
	dir := b.serviceDir(q.Service)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating key dir: %w", fsError(err, ErrUnavailable))
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp key file: %w", fsError(err, ErrUnavailable))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeAndSync(tmp, data); err != nil {
		return fmt.Errorf("writing key file: %w", fsError(err, ErrUnavailable))
	}

	if err := os.Link(tmpPath, b.path(q)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, q.Account())
		}
		return fmt.Errorf("linking key file: %w", fsError(err, ErrUnavailable))
	}
	return nil
}

// checkNames rejects labels and services whose escaped form does not fit in
// a single file name.
func checkNames(q Query) error {
	if n := len(escapeName(q.Service)); n > maxNameLen {
		return fmt.Errorf("%w: service name escapes to %d bytes, limit is %d", ErrInvalidArgument, n, maxNameLen)
	}
	if n := len(fileName(q.Label, q.Kind)); n > maxNameLen {
		return fmt.Errorf("%w: label escapes to a %d-byte file name, limit is %d", ErrInvalidArgument, n, maxNameLen)
	}
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if err := f.Chmod(0600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (b *DirBackend) Find(q Query) ([]byte, error) {
	if err := checkNames(q); err != nil {
		return nil, err
	}
	path := b.path(q)
	if err := checkFile(path); err != nil {
		return nil, fmt.Errorf("key file %s: %w", q.Account(), fsError(err, ErrUnavailable))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", q.Account(), fsError(err, ErrUnavailable))
	}
	return data, nil
}

func (b *DirBackend) Remove(q Query) error {
	if err := checkNames(q); err != nil {
		return err
	}
	if err := os.Remove(b.path(q)); err != nil {
		return fmt.Errorf("removing key file %s: %w", q.Account(), fsError(err, ErrUnavailable))
	}
	return nil
}

func (b *DirBackend) List(service string) ([]Entry, error) {
	files, err := os.ReadDir(b.serviceDir(service))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing key dir: %w", fsError(err, ErrUnavailable))
	}
	var entries []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if e, ok := parseFileName(f.Name()); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// fsError joins a filesystem error with the matching backend sentinel.
// Errors that already carry a sentinel pass through unchanged.
func fsError(err, fallback error) error {
	switch {
	case errors.Is(err, ErrDenied), errors.Is(err, ErrUnavailable), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return errors.Join(ErrDenied, err)
	}
	return errors.Join(fallback, err)
}

func fileName(label string, kind KeyKind) string {
	return escapeName(label) + "." + string(kind) + keyFileExt
}

func parseFileName(name string) (Entry, bool) {
	if !strings.HasSuffix(name, keyFileExt) {
		return Entry{}, false
	}
	parts := strings.Split(strings.TrimSuffix(name, keyFileExt), ".")
	if len(parts) != 2 {
		return Entry{}, false
	}
	kind := KeyKind(parts[1])
	if !kind.Valid() {
		return Entry{}, false
	}
	label, ok := unescapeName(parts[0])
	if !ok || label == "" {
		return Entry{}, false
	}
	return Entry{Label: label, Kind: kind}, true
}

const hexDigits = "0123456789ABCDEF"

// escapeName keeps [A-Za-z0-9_-] and writes every other byte as %XX, so the
// result contains no dots or separators and maps back to a single name.
func escapeName(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPlain(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

func unescapeName(s string) (string, bool) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			if !isPlain(c) {
				return "", false
			}
			sb.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		hi, lo := strings.IndexByte(hexDigits, s[i+1]), strings.IndexByte(hexDigits, s[i+2])
		if hi < 0 || lo < 0 {
			return "", false
		}
		sb.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return sb.String(), true
}

func isPlain(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
