// Package config resolves petabuf's bootstrap parameters: spool directory,
// page size, and page table size. Their defaults match the original C
// program's compile-time constants, now exposed as runtime knobs. The
// command wires each field to a kingpin flag with a matching Envar, so
// flag > environment > default precedence is kingpin's to keep; this
// package only supplies the defaults and validates the result.
package config

import (
	"github.com/pkg/errors"
)

// Reference constants: PAGESZ and TABLESZ from original_source/petabuf.c.
const (
	DefaultPageSize  = 16 << 20 // 16 MiB
	DefaultTableSize = 1 << 26  // enough slots for ~1 PiB at DefaultPageSize
	DefaultSpoolDir  = "/tmp"
	DefaultPrefix    = "petabuf"
)

// Config holds petabuf's resolved bootstrap parameters.
type Config struct {
	SpoolDir  string
	PageSize  uint32
	TableSize uint32
}

// Default returns the reference implementation's fixed configuration.
func Default() Config {
	return Config{
		SpoolDir:  DefaultSpoolDir,
		PageSize:  DefaultPageSize,
		TableSize: DefaultTableSize,
	}
}

// Resolve validates cfg, which the caller has already fully resolved from
// its kingpin flags (each wired with Envar, so the flag parser itself has
// already applied flag > environment > default precedence).
func Resolve(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration can back a working page table.
func (c Config) Validate() error {
	if c.PageSize == 0 {
		return errors.New("config: page size must be positive")
	}
	if c.TableSize == 0 {
		return errors.New("config: table size must be positive")
	}
	if c.SpoolDir == "" {
		return errors.New("config: spool dir must not be empty")
	}
	return nil
}
