// Package storage spools uploaded files to disk between the moment the
// API accepts them and the moment the worker ingests them.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage holds spooled uploads addressed by opaque keys.
type Storage interface {
	Save(ctx context.Context, filename string, data io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// Local keeps spooled files under a single directory. Keys are plain
// file names, never paths, so a malicious key cannot escape the root.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Save(_ context.Context, filename string, data io.Reader) (string, error) {
	key := uuid.NewString() + "-" + sanitize(filename)
	path := filepath.Join(l.root, key)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return key, nil
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.root, sanitize(key)))
	if err != nil {
		return nil, fmt.Errorf("open spooled file %s: %w", key, err)
	}
	return f, nil
}

func (l *Local) Remove(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(l.root, sanitize(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spooled file %s: %w", key, err)
	}
	return nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "." || name == ".." || name == "" {
		name = "upload"
	}
	return name
}
