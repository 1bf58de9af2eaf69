// Package importer provides the payload sources used by miso.Dataset.Fetch that need
// nothing beyond the standard library: in-memory bytes and local files.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrhy/miso"
)

// Local hands out a fixed payload.
type Local struct {
	data []byte
}

// NewLocal returns an importer for the given bytes. The bytes are copied.
func NewLocal(data []byte) Local {
	return Local{append([]byte(nil), data...)}
}

// Extract returns a copy of the payload.
func (l Local) Extract(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), l.data...), nil
}

// File reads the payload from a file on every Extract.
type File struct {
	path string
}

// NewFileForPath returns an importer for the file at the given path, relative to base
// unless absolute.
//
//	imp := NewFileForPath("/var/data", "prices.csv")
func NewFileForPath(base, path string) File {
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return File{path}
}

// Extract reads the file.
func (f File) Extract(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return b, nil
}

// Path returns the file's path.
func (f File) Path() string { return f.path }

// RegisterAll adds "local" (cfg "data") and "file" (cfg "path", optional "base") to reg.
func RegisterAll(reg *miso.Registry) error {
	if err := reg.RegisterImporter("local", func(cfg map[string]string) (miso.Importer, error) {
		return NewLocal([]byte(cfg["data"])), nil
	}); err != nil {
		return err
	}
	return reg.RegisterImporter("file", func(cfg map[string]string) (miso.Importer, error) {
		if cfg["path"] == "" {
			return nil, fmt.Errorf("file importer needs a path")
		}
		return NewFileForPath(cfg["base"], cfg["path"]), nil
	})
}
