// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package config holds the TOML-loaded configuration for the concurrent
// execution core, in the style of the project's own root Config struct:
// plain fields with `toml` tags, a NewConfig constructor supplying
// defaults, and a toml.Duration wrapper for time values.
package config

import (
	"io/ioutil"
	"os"

	"github.com/molecula/searchcore/toml"
	pkgtoml "github.com/pelletier/go-toml"
)

const (
	// DefaultSearchPoolSize is the thread count of the search pool when the
	// config doesn't say otherwise.
	DefaultSearchPoolSize = 4

	// DefaultIndexPoolSize is the fallback thread count of the index pool
	// when CPU auto-detection is disabled or fails.
	DefaultIndexPoolSize = 8

	// DefaultAsyncIndexInterval is how often the AsyncIndexQueue worker
	// wakes even with nothing queued.
	DefaultAsyncIndexInterval = 100 * 1000 * 1000 // 100ms, in nanoseconds

	// DefaultIndexBatchSize is the per-index dict size that triggers an
	// immediate wakeup of the AsyncIndexQueue worker.
	DefaultIndexBatchSize = 1000

	// DefaultYieldBudget is the SearchContext time budget before
	// CheckTimer yields the host lock, per spec.md section 6.
	DefaultYieldBudget = 100 * 1000 * 1000 // 100ms, in nanoseconds
)

// Config is the root configuration for the concurrent execution core.
type Config struct {
	// SearchPoolSize is the fixed thread count of the search pool.
	SearchPoolSize int `toml:"search-pool-size"`

	// IndexPoolSize is the fallback thread count of the index pool used
	// when PoolSizeNoAuto is set or CPU auto-detection fails.
	IndexPoolSize int `toml:"index-pool-size"`

	// PoolSizeNoAuto disables sizing the index pool from the number of
	// online processors.
	PoolSizeNoAuto bool `toml:"pool-size-no-auto"`

	AsyncIndex struct {
		// Interval is how often the worker wakes with nothing queued.
		Interval toml.Duration `toml:"interval"`
		// BatchSize is the per-index dict size that triggers a wakeup.
		BatchSize int `toml:"batch-size"`
	} `toml:"async-index"`

	SearchContext struct {
		// YieldBudget is how long a SearchContext holds the host lock
		// before CheckTimer yields it.
		YieldBudget toml.Duration `toml:"yield-budget"`
	} `toml:"search-context"`
}

// NewConfig returns a Config populated with the package defaults.
func NewConfig() *Config {
	c := &Config{
		SearchPoolSize: DefaultSearchPoolSize,
		IndexPoolSize:  DefaultIndexPoolSize,
		PoolSizeNoAuto: false,
	}
	c.AsyncIndex.Interval = toml.Duration(DefaultAsyncIndexInterval)
	c.AsyncIndex.BatchSize = DefaultIndexBatchSize
	c.SearchContext.YieldBudget = toml.Duration(DefaultYieldBudget)
	return c
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.SearchPoolSize < 1 {
		return errConfig("search-pool-size must be >= 1")
	}
	if c.IndexPoolSize < 1 {
		return errConfig("index-pool-size must be >= 1")
	}
	if c.AsyncIndex.BatchSize < 1 {
		return errConfig("async-index.batch-size must be >= 1")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

// LoadFile reads and parses a TOML config file at path into a new Config
// seeded with defaults, the way the project's server command loads its
// TOML file before applying command-line flag overrides.
func LoadFile(path string) (*Config, error) {
	c := NewConfig()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := pkgtoml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
