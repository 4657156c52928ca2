package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"local ok", Config{Mode: ModeLocal, LocalDir: "/tmp/x"}, false},
		{"local missing dir", Config{Mode: ModeLocal}, true},
		{"gcs missing bucket", Config{Mode: ModeGCS}, true},
		{"gcs ok", Config{Mode: ModeGCS, Bucket: "mes-files"}, false},
		{"emulator bad host", Config{Mode: ModeGCSEmulator, Bucket: "b", EmulatorHost: "fake-gcs"}, true},
		{"emulator ok", Config{Mode: ModeGCSEmulator, Bucket: "b", EmulatorHost: "http://fake-gcs:4443"}, false},
		{"unknown mode", Config{Mode: "s3"}, true},
		{"bad public url", Config{Mode: ModeLocal, LocalDir: "/tmp/x", PublicBaseURL: "nope"}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(logger.Nop(), t.TempDir(), "http://mes.local")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	if err := store.Put(ctx, CategoryDocument, "box/1/invoice.pdf", strings.NewReader("pdf-bytes"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := store.Open(ctx, CategoryDocument, "box/1/invoice.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "pdf-bytes" {
		t.Fatalf("body = %q", body)
	}

	keys, err := store.List(ctx, CategoryDocument, "box/1/")
	if err != nil || len(keys) != 1 || keys[0] != "box/1/invoice.pdf" {
		t.Fatalf("List = %v, %v", keys, err)
	}

	if got := store.PublicURL(CategoryDocument, "box/1/invoice.pdf"); got != "http://mes.local/files/document/box/1/invoice.pdf" {
		t.Fatalf("PublicURL = %q", got)
	}

	if err := store.Delete(ctx, CategoryDocument, "box/1/invoice.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Open(ctx, CategoryDocument, "box/1/invoice.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Open after delete err = %v", err)
	}
	if err := store.Delete(ctx, CategoryDocument, "box/1/invoice.pdf"); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(logger.Nop(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := store.Put(context.Background(), CategoryAvatar, "../../etc/passwd", strings.NewReader("x"), ""); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}
