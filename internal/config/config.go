// Package config resolves the environment-variable configuration consumed by
// the capture and verify flows. Config-file precedence is handled by outer
// layers; this package only reads the process environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type StorageMode string

const (
	// ModeLocal stores signed reports in the reports area only.
	ModeLocal StorageMode = "local"
	// ModeQueue places signed reports in the queue area for publication.
	ModeQueue StorageMode = "queue"
	// ModeBoth stores locally and queues for publication.
	ModeBoth StorageMode = "both"
)

type Config struct {
	StoragePath     string      `env:"JUX_STORAGE_PATH"`
	KeyPath         string      `env:"JUX_KEY_PATH"`
	CertificatePath string      `env:"JUX_CERT_PATH"`
	StorageMode     StorageMode `env:"JUX_STORAGE_MODE" envDefault:"local"`
	DigestAlgorithm string      `env:"JUX_DIGEST_ALGORITHM" envDefault:"sha256"`
	KeepDays        int         `env:"JUX_KEEP_DAYS" envDefault:"90"`
}

func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	switch cfg.StorageMode {
	case ModeLocal, ModeQueue, ModeBoth:
	default:
		return Config{}, fmt.Errorf("invalid JUX_STORAGE_MODE %q", cfg.StorageMode)
	}
	if cfg.KeepDays < 0 {
		return Config{}, fmt.Errorf("invalid JUX_KEEP_DAYS %d", cfg.KeepDays)
	}
	return cfg, nil
}
