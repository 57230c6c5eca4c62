// Package session persists the portal session between invocations and
// keeps it valid while commands run.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stine-notifier/stine/pkg/platforms"
)

const (
	fileName = "session.yaml"
	fileMode = 0o600
)

// Store persists a single session.
type Store interface {
	Load() (*platforms.Session, error)
	Save(s platforms.Session) error
	Clear() error
}

// FileStore keeps the session as YAML in the state directory. The file is
// readable by its owner only since it holds the session cookie.
type FileStore struct {
	path string
}

func NewFileStore(stateDir string) *FileStore {
	return &FileStore{path: filepath.Join(stateDir, fileName)}
}

func (f *FileStore) Path() string { return f.path }

// Load returns the persisted session, or nil when there is none, the file is
// malformed, or the session was marked invalid.
func (f *FileStore) Load() (*platforms.Session, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s platforms.Session
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, nil
	}
	if !s.Valid || s.Token == "" {
		return nil, nil
	}
	return &s, nil
}

// Save replaces the session file atomically: the new content is written to a
// temporary file in the same directory, synced and renamed over the old one.
func (f *FileStore) Save(s platforms.Session) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return writeFileAtomic(f.path, b, fileMode)
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(mode); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// MemoryStore is a Store for tests.
type MemoryStore struct {
	s     *platforms.Session
	Saves int
}

func (m *MemoryStore) Load() (*platforms.Session, error) {
	if m.s == nil || !m.s.Valid {
		return nil, nil
	}
	cp := *m.s
	return &cp, nil
}

func (m *MemoryStore) Save(s platforms.Session) error {
	m.s = &s
	m.Saves++
	return nil
}

func (m *MemoryStore) Clear() error {
	m.s = nil
	return nil
}
