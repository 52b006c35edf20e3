package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	fileDirPermissions = 0700
	filePermissions    = 0600
)

// FileStore persists the pair as a JSON document:
//
//	{"token": "...", "refreshToken": "..."}
//
// Writes go to a temp file in the same directory which is then renamed over
// the target, so readers never observe half a pair.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path. The parent directory is
// created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the pair is stored in.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes both tokens, replacing any previous file.
func (s *FileStore) Save(_ context.Context, p Pair) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, fileDirPermissions); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close() //nolint:errcheck // error path
		return fmt.Errorf("setting credentials file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // error path
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // error path
		return fmt.Errorf("syncing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credentials file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// Load reads the pair. A missing or incomplete file is ErrNotFound; a file
// that is not valid JSON is reported as such.
func (s *FileStore) Load(_ context.Context) (Pair, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Pair{}, ErrNotFound
	}
	if err != nil {
		return Pair{}, fmt.Errorf("reading credentials: %w", err)
	}

	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		return Pair{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return fromValues(p.Access, p.Refresh)
}

// Clear removes the file. Removing a missing file is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credentials: %w", err)
	}
	return nil
}
