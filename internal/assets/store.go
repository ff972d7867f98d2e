// Package assets resolves named read-only media into files the engine can
// open. Names are looked up in the user assets directory first and then in
// the defaults embedded in the binary; a resolved asset is copied into the
// cache directory once and reused afterwards.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

//go:embed embedded/*
var embedded embed.FS

var ErrNotFound = errors.New("asset not found")

// Embedded returns the assets shipped inside the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "embedded")
	if err != nil {
		panic(err)
	}
	return sub
}

type Store struct {
	cacheDir string
	layers   []fs.FS
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a store over userDir (may be empty) and the embedded defaults.
func New(cacheDir, userDir string, logger *slog.Logger) *Store {
	var layers []fs.FS
	if userDir != "" {
		layers = append(layers, os.DirFS(userDir))
	}
	layers = append(layers, Embedded())
	return NewWithFS(cacheDir, logger, layers...)
}

// NewWithFS creates a store searching layers in order.
func NewWithFS(cacheDir string, logger *slog.Logger, layers ...fs.FS) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{cacheDir: cacheDir, layers: layers, logger: logger}
}

// Resolve returns the cache path of name, copying it there on first use.
func (s *Store) Resolve(name string) (string, error) {
	if !fs.ValidPath(name) || name == "." {
		return "", fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	dst := filepath.Join(s.cacheDir, filepath.FromSlash(name))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	src, err := s.open(name)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".asset-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("copy asset %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("install asset %s: %w", name, err)
	}

	s.logger.Info("asset cached", "name", name, "bytes", n, "path", logging.SanitizePath(dst))
	return dst, nil
}

// Names lists every resolvable asset name, user assets shadowing embedded
// ones.
func (s *Store) Names() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, layer := range s.layers {
		err := fs.WalkDir(layer, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || seen[path] {
				return nil
			}
			seen[path] = true
			names = append(names, path)
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return names, nil
}

func (s *Store) open(name string) (fs.File, error) {
	for _, layer := range s.layers {
		f, err := layer.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open asset %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
