// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestLoadParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secmalloc.toml")
	const body = `
[canary]
random = true
seed = 7

[audit]
path = "/tmp/audit.log"

[allocator]
best_fit_allocate = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Canary.Random || cfg.Canary.Seed != 7 {
		t.Fatalf("Canary = %+v", cfg.Canary)
	}
	if cfg.Audit.Path != "/tmp/audit.log" {
		t.Fatalf("Audit.Path = %q", cfg.Audit.Path)
	}
	if !cfg.Allocator.BestFitAllocate {
		t.Fatalf("Allocator.BestFitAllocate = false, want true")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load of a missing file returned nil error")
	}
}

func TestResolveDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv(EnvVar)

	log, _ := test.NewNullLogger()
	cfg := Resolve(log)
	if *cfg != (Config{}) {
		t.Fatalf("Resolve() with no config present = %+v, want zero value", cfg)
	}
}

func TestResolveUsesEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(path, []byte("[allocator]\nbest_fit_allocate = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	log, _ := test.NewNullLogger()
	cfg := Resolve(log)
	if !cfg.Allocator.BestFitAllocate {
		t.Fatalf("Resolve() via %s did not pick up best_fit_allocate", EnvVar)
	}
}

func TestResolveWarnsOnUnreadableNamedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("not valid toml {{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	log, hook := test.NewNullLogger()
	_ = Resolve(log)
	if len(hook.Entries) == 0 {
		t.Fatalf("Resolve() did not log a warning for an unreadable named config file")
	}
	if hook.LastEntry().Level != logrus.WarnLevel {
		t.Fatalf("log level = %v, want Warn", hook.LastEntry().Level)
	}
}
