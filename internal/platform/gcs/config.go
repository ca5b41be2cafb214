package gcs

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"google.golang.org/api/option"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
)

type ObjectStorageConfig struct {
	Mode         ObjectStorageMode
	EmulatorHost string
}

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
)

type ObjectStorageConfigError struct {
	Code  ObjectStorageConfigErrorCode
	Mode  string
	Value string
}

func (e *ObjectStorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q; expected %q or %q", e.Mode, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		return "STORAGE_EMULATOR_HOST is required when OBJECT_STORAGE_MODE=gcs_emulator"
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://localhost:4443", e.Value)
	default:
		return "invalid object storage config"
	}
}

func ResolveObjectStorageConfigFromEnv() (ObjectStorageConfig, error) {
	mode := ObjectStorageMode(strings.ToLower(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))))
	if mode == "" {
		mode = ObjectStorageModeGCS
	}
	cfg := ObjectStorageConfig{
		Mode:         mode,
		EmulatorHost: strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")),
	}
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return ObjectStorageConfig{}, err
	}
	return cfg, nil
}

func ValidateObjectStorageConfig(cfg ObjectStorageConfig) error {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		return nil
	case ObjectStorageModeGCSEmulator:
		if cfg.EmulatorHost == "" {
			return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingEmulatorHost}
		}
		parsed, err := url.Parse(cfg.EmulatorHost)
		if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidEmulatorHost, Value: cfg.EmulatorHost}
		}
		return nil
	default:
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
}

func (c ObjectStorageConfig) IsEmulatorMode() bool {
	return c.Mode == ObjectStorageModeGCSEmulator
}

// ClientOptionsFromEnv honors GOOGLE_APPLICATION_CREDENTIALS_JSON for
// environments that inject credentials as a value instead of a file path.
func ClientOptionsFromEnv() []option.ClientOption {
	var opts []option.ClientOption
	if raw := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); raw != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(raw)))
	}
	return opts
}
