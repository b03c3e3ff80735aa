// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the optional TOML file that supplements
// MSM_OUTPUT with a few allocator policy knobs. None of it is
// required: every field defaults to the allocator's own default
// behavior.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// EnvVar names the environment variable that can point at a config
// file outside the current directory.
const EnvVar = "SECMALLOC_CONFIG"

// DefaultPath is tried when EnvVar is unset.
const DefaultPath = "secmalloc.toml"

// Canary controls the sentinel word strategy: a hardened deployment
// should substitute a per-process random word for the compile-time
// default.
type Canary struct {
	Random bool   `toml:"random"`
	Seed   uint32 `toml:"seed"`
}

// Audit controls the audit sink path when MSM_OUTPUT is not set.
// MSM_OUTPUT always wins when both are present — this is strictly a
// fallback for environments that prefer file-based config over env
// vars.
type Audit struct {
	Path string `toml:"path"`
}

// Allocator controls the free-list search policy.
type Allocator struct {
	BestFitAllocate bool `toml:"best_fit_allocate"`
}

// Config is the root of secmalloc.toml.
type Config struct {
	Canary    Canary    `toml:"canary"`
	Audit     Audit     `toml:"audit"`
	Allocator Allocator `toml:"allocator"`
}

// Load parses the TOML file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve locates and loads a config file from $SECMALLOC_CONFIG, or
// falls back to ./secmalloc.toml if that exists. Absence of either is
// not an error — it returns a zero Config, matching every allocator
// default. log receives a diagnostic if a named-but-unreadable config
// file exists, since that is worth surfacing even though it isn't
// fatal the way an unopenable MSM_OUTPUT path is.
func Resolve(log *logrus.Logger) *Config {
	path := os.Getenv(EnvVar)
	if path == "" {
		path = DefaultPath
	}

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("path", path).Warn("secmalloc: config file present but unreadable, using defaults")
		}
		return &Config{}
	}
	return cfg
}
