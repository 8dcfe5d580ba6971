package fs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// LocalConfig is the storage configuration for the local file system backend.
type LocalConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// Local stores artifacts under a data directory and can serve them over HTTP.
type Local struct {
	rootDir string
}

var _ Storage = (*Local)(nil)

func NewLocal(rootDir string) (*Local, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	return &Local{rootDir: rootDir}, nil
}

// Open makes Local usable as an http.FileSystem for the built-in web server.
func (l *Local) Open(name string) (http.File, error) {
	return os.Open(filepath.Join(l.rootDir, name))
}

// Create streams the reader into a temporary file next to the destination and
// renames it into place, so concurrent readers never observe a partial file.
func (l *Local) Create(_ context.Context, name string, reader io.Reader) (int64, error) {
	path := filepath.Join(l.rootDir, name)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to mkdir %s: %w", filepath.Dir(path), err)
	}

	slog.Debug("Creating file", "path", path)

	tmpPath := path + ".tmp"
	written, err := l.copyFile(reader, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}

	slog.Debug("File written", "path", path, "bytes", written)
	return written, nil
}

func (l *Local) Delete(_ context.Context, name string) error {
	path := filepath.Join(l.rootDir, name)
	return os.Remove(path)
}

func (l *Local) Size(_ context.Context, name string) (int64, error) {
	stat, err := os.Stat(filepath.Join(l.rootDir, name))
	if err != nil {
		return 0, err
	}

	return stat.Size(), nil
}

func (l *Local) copyFile(source io.Reader, destinationPath string) (int64, error) {
	dest, err := os.Create(destinationPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dest.Close()

	written, err := io.Copy(dest, source)
	if err != nil {
		return 0, fmt.Errorf("failed to copy data: %w", err)
	}

	return written, nil
}
