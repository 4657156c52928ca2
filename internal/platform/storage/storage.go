package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

type Category string

const (
	CategoryAvatar   Category = "avatar"
	CategoryDocument Category = "document"
)

type Mode string

const (
	ModeLocal       Mode = "local"
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore keeps uploaded avatars and warehouse document scans.
type ObjectStore interface {
	Put(ctx context.Context, category Category, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, category Category, key string) error
	Open(ctx context.Context, category Category, key string) (io.ReadCloser, error)
	List(ctx context.Context, category Category, prefix string) ([]string, error)
	PublicURL(category Category, key string) string
}

type Config struct {
	Mode          Mode
	LocalDir      string
	Bucket        string
	EmulatorHost  string
	PublicBaseURL string
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeLocal:
		if strings.TrimSpace(c.LocalDir) == "" {
			return fmt.Errorf("STORAGE_MODE=%q requires STORAGE_LOCAL_DIR", c.Mode)
		}
	case ModeGCS, ModeGCSEmulator:
		if strings.TrimSpace(c.Bucket) == "" {
			return fmt.Errorf("STORAGE_MODE=%q requires GCS_BUCKET", c.Mode)
		}
		if c.Mode == ModeGCSEmulator {
			u, err := url.Parse(strings.TrimSpace(c.EmulatorHost))
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", c.EmulatorHost)
			}
		}
	default:
		return fmt.Errorf("invalid STORAGE_MODE=%q (allowed: %q, %q, %q)", c.Mode, ModeLocal, ModeGCS, ModeGCSEmulator)
	}
	if raw := strings.TrimSpace(c.PublicBaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid STORAGE_PUBLIC_BASE_URL=%q", raw)
		}
	}
	return nil
}

// New picks a backend by cfg.Mode.
func New(ctx context.Context, log *logger.Logger, cfg Config) (ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeLocal:
		return NewLocalStore(log, cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return NewGCSStore(ctx, log, cfg)
	}
}

// ObjectKey joins category and key the way both backends lay objects out.
func ObjectKey(category Category, key string) string {
	return path.Join(string(category), strings.TrimLeft(key, "/"))
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	default:
		return ""
	}
}
