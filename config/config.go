// Package config defines the typed configuration surface for initialize
// and validates it with struct-tag rules before any cache state is
// touched, so a bad configuration never gets far enough to register a
// singleton for its value type.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/krisalay/tiercache/dormant"
	"github.com/krisalay/tiercache/logging"
)

// Config is the full set of options initialize accepts. Zero-valued
// fields fall back to Normalize's defaults.
type Config struct {
	Capacity         int           `validate:"required,gt=0"`
	ActiveTTL        time.Duration `validate:"required,gt=0"`
	CleanerPeriod    time.Duration `validate:"required,gt=0"`
	DormantTTL       time.Duration `validate:"required,gt=0"`
	DormantStoreKind dormant.Kind  `validate:"omitempty,oneof=file redis sqlite"`

	DormantFilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	SQLitePath string

	Logging logging.Config
}

// Default returns the configuration Normalize falls back to for any
// zero-valued field.
func Default() Config {
	return Config{
		Capacity:      1000,
		ActiveTTL:     300 * time.Second,
		CleanerPeriod: 400 * time.Second,
		DormantTTL:    500 * time.Second,
	}
}

var validate = validator.New()

// Validate runs struct-tag validation and returns a descriptive error
// listing the violations. This is the one error value that crosses the public
// API: a configuration mistake caught before any cache state exists.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("tiercache: invalid configuration: %w", err)
	}
	return nil
}

// Normalize fills in zero-valued optional fields with Default's values,
// leaving fields the caller set explicitly untouched.
func Normalize(cfg Config) Config {
	defaults := Default()
	if cfg.Capacity == 0 {
		cfg.Capacity = defaults.Capacity
	}
	if cfg.ActiveTTL == 0 {
		cfg.ActiveTTL = defaults.ActiveTTL
	}
	if cfg.CleanerPeriod == 0 {
		cfg.CleanerPeriod = defaults.CleanerPeriod
	}
	if cfg.DormantTTL == 0 {
		cfg.DormantTTL = defaults.DormantTTL
	}
	if cfg.DormantStoreKind == "" {
		cfg.DormantStoreKind = dormant.KindFile
	}
	if cfg.DormantStoreKind == dormant.KindRedis {
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "127.0.0.1:6379"
		}
		if cfg.RedisKey == "" {
			cfg.RedisKey = "tiercache:dormant"
		}
	}
	return cfg
}

// DormantOptions adapts a Config into the options the dormant registry's
// New expects.
func DormantOptions(cfg Config, log *logging.Logger) dormant.Options {
	return dormant.Options{
		Kind:          cfg.DormantStoreKind,
		TTL:           cfg.DormantTTL,
		Log:           log,
		FilePath:      cfg.DormantFilePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisKey:      cfg.RedisKey,
		SQLitePath:    cfg.SQLitePath,
	}
}
