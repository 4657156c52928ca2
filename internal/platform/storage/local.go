package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

// LocalPathPrefix is the URL prefix under which the router serves LocalStore files.
const LocalPathPrefix = "/files"

type localStore struct {
	log     *logger.Logger
	root    string
	baseURL string
}

func NewLocalStore(log *logger.Logger, root, publicBaseURL string) (ObjectStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	l := log.With("service", "LocalObjectStore")
	l.Info("Object storage initialized", "mode", ModeLocal, "dir", abs)
	return &localStore{log: l, root: abs, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *localStore) path(category Category, key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(ObjectKey(category, key)))
	if !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

func (s *localStore) Put(ctx context.Context, category Category, key string, r io.Reader, _ string) error {
	p, err := s.path(category, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func (s *localStore) Delete(ctx context.Context, category Category, key string) error {
	p, err := s.path(category, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *localStore) Open(ctx context.Context, category Category, key string) (io.ReadCloser, error) {
	p, err := s.path(category, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return f, err
}

func (s *localStore) List(ctx context.Context, category Category, prefix string) ([]string, error) {
	base := filepath.Join(s.root, string(category))
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".part") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	return keys, err
}

func (s *localStore) PublicURL(category Category, key string) string {
	return s.baseURL + LocalPathPrefix + "/" + ObjectKey(category, key)
}

// LocalRoot returns the directory served under LocalPathPrefix.
func LocalRoot(store ObjectStore) (string, bool) {
	if ls, ok := store.(*localStore); ok {
		return ls.root, true
	}
	return "", false
}
