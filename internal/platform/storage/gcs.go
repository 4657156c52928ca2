package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type gcsStore struct {
	log           *logger.Logger
	client        *gcs.Client
	bucket        string
	publicBaseURL string
}

func NewGCSStore(ctx context.Context, log *logger.Logger, cfg Config) (ObjectStore, error) {
	client, err := newGCSClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" && cfg.Mode == ModeGCSEmulator {
		base = strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
	}
	l := log.With("service", "GCSObjectStore")
	l.Info("Object storage initialized", "mode", cfg.Mode, "bucket", cfg.Bucket, "public_base_url", base)
	return &gcsStore{log: l, client: client, bucket: cfg.Bucket, publicBaseURL: base}, nil
}

func newGCSClient(ctx context.Context, cfg Config) (*gcs.Client, error) {
	if cfg.Mode == ModeGCSEmulator {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"))
		return gcs.NewClient(ctx, option.WithoutAuthentication())
	}
	return gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadWrite))
}

func (s *gcsStore) Put(ctx context.Context, category Category, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(ObjectKey(category, key)).NewWriter(ctx)
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *gcsStore) Delete(ctx context.Context, category Category, key string) error {
	err := s.client.Bucket(s.bucket).Object(ObjectKey(category, key)).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *gcsStore) Open(ctx context.Context, category Category, key string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(ObjectKey(category, key)).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	return rc, err
}

func (s *gcsStore) List(ctx context.Context, category Category, prefix string) ([]string, error) {
	full := ObjectKey(category, prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: full})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, string(category)+"/"))
	}
	return keys, nil
}

func (s *gcsStore) PublicURL(category Category, key string) string {
	obj := ObjectKey(category, key)
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, obj)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, obj)
}
