package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"psiagenda/internal/config"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// File keeps one file per key under a data directory. Writes go through a
// temp file and rename.
type File struct {
	dir string
}

// NewFile creates the data directory (0700) if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("store: file backend needs a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &File{dir: dir}, nil
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	return config.WriteFileAtomic(f.pathFor(key), value, ".psiagenda-store-*.tmp")
}

func (f *File) Remove(_ context.Context, key string) error {
	err := os.Remove(f.pathFor(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// pathFor maps a key to a file name. Keys that aren't plain file names are
// hashed so they can't escape the directory.
func (f *File) pathFor(key string) string {
	name := key
	if !safeKey.MatchString(key) || key == "." || key == ".." {
		sum := sha256.Sum256([]byte(key))
		name = hex.EncodeToString(sum[:8])
	}
	return filepath.Join(f.dir, name+".json")
}
