package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
)

var newObjectStore = storage.New

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorInvalidConfig       StorageProviderBootstrapErrorCode = "invalid_config"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveObjectStore opens the avatar/document store selected by STORAGE_MODE.
func resolveObjectStore(ctx context.Context, log *logger.Logger, cfg storage.Config) (storage.ObjectStore, error) {
	if err := checkStorageConfig(cfg); err != nil {
		log.Error(
			"Object storage provider selection failed",
			"mode", cfg.Mode,
			"emulator_host", cfg.EmulatorHost,
			"error_code", storageProviderBootstrapErrorCode(err),
			"error", err,
		)
		return nil, err
	}

	log.Info("Selecting object storage provider", "mode", cfg.Mode, "bucket", cfg.Bucket, "local_dir", cfg.LocalDir)

	store, err := newObjectStore(ctx, log, cfg)
	if err != nil {
		wrapped := &StorageProviderBootstrapError{
			Code:         StorageProviderBootstrapErrorConnectFailed,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", cfg.Mode,
			"emulator_host", cfg.EmulatorHost,
			"error_code", wrapped.Code,
			"error", err,
		)
		return nil, wrapped
	}
	return store, nil
}

func checkStorageConfig(cfg storage.Config) error {
	fail := func(code StorageProviderBootstrapErrorCode, cause error) error {
		return &StorageProviderBootstrapError{
			Code:         code,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        cause,
		}
	}
	switch cfg.Mode {
	case storage.ModeLocal, storage.ModeGCS:
	case storage.ModeGCSEmulator:
		host := strings.TrimSpace(cfg.EmulatorHost)
		if host == "" {
			return fail(StorageProviderBootstrapErrorMissingEmulatorHost, errors.New("STORAGE_EMULATOR_HOST is required"))
		}
		if u, err := url.Parse(host); err != nil || u.Scheme == "" || u.Host == "" {
			return fail(StorageProviderBootstrapErrorInvalidEmulatorHost, fmt.Errorf("STORAGE_EMULATOR_HOST=%q is not an absolute URL", host))
		}
	default:
		return fail(StorageProviderBootstrapErrorInvalidMode, fmt.Errorf("unsupported object storage mode %q", cfg.Mode))
	}
	if err := cfg.Validate(); err != nil {
		return fail(StorageProviderBootstrapErrorInvalidConfig, err)
	}
	return nil
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
