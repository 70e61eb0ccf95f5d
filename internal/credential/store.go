// Package credential manages OAuth credential records for the adapters that
// need them. A Store holds one raw credential JSON document, guards it with
// a reader-writer lock, single-flights refreshes and persists updates with
// an atomic write-then-rename.
package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// expirySkew is subtracted from the recorded expiry so tokens refresh
// before the upstream actually rejects them.
const expirySkew = 5 * time.Minute

// ErrMalformed reports credential JSON that could not be parsed.
var ErrMalformed = errors.New("credentials malformed")

// RefreshFunc exchanges the current credential document for a fresh one.
// It receives the current raw JSON and returns the replacement.
type RefreshFunc func(current []byte) ([]byte, error)

// Store is a thread-safe holder for one credential record.
type Store struct {
	mu    sync.RWMutex
	path  string
	data  []byte
	group singleflight.Group
}

// Load builds a Store from the first available source: a base64-encoded
// JSON blob, an explicit file path, or a default path. At least one source
// must yield a parseable JSON object.
func Load(base64Blob, filePath, defaultPath string) (*Store, error) {
	if base64Blob != "" {
		raw, err := base64.StdEncoding.DecodeString(base64Blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !json.Valid(raw) {
			return nil, ErrMalformed
		}
		return &Store{data: raw}, nil
	}

	path := filePath
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return nil, errors.New("no credential source configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	if !json.Valid(raw) {
		return nil, ErrMalformed
	}
	return &Store{path: path, data: raw}, nil
}

// Snapshot returns a copy of the current credential document.
func (s *Store) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Get reads a string field from the credential document.
func (s *Store) Get(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gjson.GetBytes(s.data, path).String()
}

// ExpiresAt returns the recorded token expiry, or the zero time when the
// document carries none. Both numeric epoch fields (expiry_date, seconds or
// milliseconds) and RFC3339 string fields (expiresAt) are understood.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiryTime(s.data)
}

func expiryTime(data []byte) time.Time {
	if v := gjson.GetBytes(data, "expiry_date"); v.Exists() {
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if v := gjson.GetBytes(data, "expiresAt"); v.Exists() {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return t
		}
	}
	return time.Time{}
}

// IsExpired reports whether the token expires within the skew window. A
// document without an expiry never reads as expired.
func (s *Store) IsExpired() bool {
	exp := s.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return !exp.After(time.Now().Add(expirySkew))
}

// Refresh exchanges the credential via fn unless the token is still fresh.
// Concurrent callers share a single in-flight exchange. The force flag
// skips the freshness check; it is used after an upstream 403.
func (s *Store) Refresh(force bool, fn RefreshFunc) error {
	if !force && !s.IsExpired() {
		return nil
	}
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		// Re-check under the flight: a sibling caller may have already
		// refreshed while this one waited.
		if !force && !s.IsExpired() {
			return nil, nil
		}
		fresh, err := fn(s.Snapshot())
		if err != nil {
			return nil, err
		}
		return nil, s.Replace(fresh)
	})
	return err
}

// Replace swaps in a new credential document and persists it.
func (s *Store) Replace(data []byte) error {
	if !json.Valid(data) {
		return ErrMalformed
	}
	s.mu.Lock()
	s.data = data
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return nil
	}
	return persist(path, data)
}

// persist writes data to a sibling temp file and renames it over the
// target, so readers never observe a torn credential file.
func persist(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".creds-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close credentials file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to chmod credentials file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

// Default credential locations under the user's home directory.

// DefaultGeminiPath is where the Gemini CLI writes its OAuth credentials.
func DefaultGeminiPath() string {
	return homeJoin(".gemini", "oauth_creds.json")
}

// DefaultKiroPath is where the Kiro IDE caches its SSO token.
func DefaultKiroPath() string {
	return homeJoin(".aws", "sso", "cache", "kiro-auth-token.json")
}

// DefaultQwenPath is where the Qwen CLI writes its OAuth credentials.
func DefaultQwenPath() string {
	return homeJoin(".qwen", "oauth_creds.json")
}

func homeJoin(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(parts...)
	}
	return filepath.Join(append([]string{home}, parts...)...)
}
