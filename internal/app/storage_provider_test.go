package app

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}

func stubObjectStore(t *testing.T, fn func(context.Context, *logger.Logger, storage.Config) (storage.ObjectStore, error)) {
	t.Helper()
	orig := newObjectStore
	t.Cleanup(func() { newObjectStore = orig })
	newObjectStore = fn
}

func TestResolveObjectStoreErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		cfg  storage.Config
		want StorageProviderBootstrapErrorCode
	}{
		{"invalid mode", storage.Config{Mode: "s3"}, StorageProviderBootstrapErrorInvalidMode},
		{"missing emulator host", storage.Config{Mode: storage.ModeGCSEmulator, Bucket: "b"}, StorageProviderBootstrapErrorMissingEmulatorHost},
		{"invalid emulator host", storage.Config{Mode: storage.ModeGCSEmulator, Bucket: "b", EmulatorHost: "fake-gcs:4443"}, StorageProviderBootstrapErrorInvalidEmulatorHost},
		{"missing bucket", storage.Config{Mode: storage.ModeGCS}, StorageProviderBootstrapErrorInvalidConfig},
		{"missing local dir", storage.Config{Mode: storage.ModeLocal}, StorageProviderBootstrapErrorInvalidConfig},
	}
	log := testLogger(t)
	stubObjectStore(t, func(context.Context, *logger.Logger, storage.Config) (storage.ObjectStore, error) {
		t.Fatalf("store constructor must not run for an invalid config")
		return nil, nil
	})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveObjectStore(context.Background(), log, tc.cfg)
			var got *StorageProviderBootstrapError
			if !errors.As(err, &got) {
				t.Fatalf("expected StorageProviderBootstrapError, got=%T (%v)", err, err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
		})
	}
}

func TestResolveObjectStoreConnectFailed(t *testing.T) {
	srcErr := errors.New("dial tcp: connection refused")
	stubObjectStore(t, func(context.Context, *logger.Logger, storage.Config) (storage.ObjectStore, error) {
		return nil, srcErr
	})

	_, err := resolveObjectStore(context.Background(), testLogger(t), storage.Config{Mode: storage.ModeGCS, Bucket: "mes"})
	if storageProviderBootstrapErrorCode(err) != StorageProviderBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%v", StorageProviderBootstrapErrorConnectFailed, err)
	}
	if !errors.Is(err, srcErr) {
		t.Fatalf("expected cause to unwrap to %v", srcErr)
	}
}

func TestResolveObjectStoreEmulatorMode(t *testing.T) {
	var captured storage.Config
	expected := &testObjectStore{}
	stubObjectStore(t, func(_ context.Context, _ *logger.Logger, cfg storage.Config) (storage.ObjectStore, error) {
		captured = cfg
		return expected, nil
	})

	got, err := resolveObjectStore(context.Background(), testLogger(t), storage.Config{
		Mode:         storage.ModeGCSEmulator,
		Bucket:       "mes",
		EmulatorHost: "http://fake-gcs:4443",
	})
	if err != nil {
		t.Fatalf("resolveObjectStore: %v", err)
	}
	if got != expected {
		t.Fatalf("store: expected stub instance")
	}
	if captured.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host: want=%q got=%q", "http://fake-gcs:4443", captured.EmulatorHost)
	}
}

func TestResolveObjectStoreLocal(t *testing.T) {
	dir := t.TempDir()
	store, err := resolveObjectStore(context.Background(), testLogger(t), storage.Config{Mode: storage.ModeLocal, LocalDir: dir})
	if err != nil {
		t.Fatalf("resolveObjectStore: %v", err)
	}
	root, ok := storage.LocalRoot(store)
	if !ok || root == "" {
		t.Fatalf("expected a local store rooted under %q, got %q", dir, root)
	}
}

type testObjectStore struct{}

func (testObjectStore) Put(context.Context, storage.Category, string, io.Reader, string) error {
	return nil
}

func (testObjectStore) Delete(context.Context, storage.Category, string) error { return nil }

func (testObjectStore) Open(context.Context, storage.Category, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (testObjectStore) List(context.Context, storage.Category, string) ([]string, error) {
	return nil, nil
}

func (testObjectStore) PublicURL(storage.Category, string) string { return "" }
