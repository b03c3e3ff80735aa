// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auditlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unsafe"

	"github.com/Esgr0bar/secmalloc"
)

func TestOpenFromEnvUnsetDisablesLogging(t *testing.T) {
	os.Unsetenv(EnvVar)
	s, err := OpenFromEnv()
	if s != nil || err != nil {
		t.Fatalf("OpenFromEnv() with %s unset = %v, %v, want nil, nil", EnvVar, s, err)
	}
}

func TestOpenFromEnvOpensConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	t.Setenv(EnvVar, path)

	s, err := OpenFromEnv()
	if err != nil || s == nil {
		t.Fatalf("OpenFromEnv() = %v, %v", s, err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("audit log not created at %s: %v", path, err)
	}
}

func TestEmitWireFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	var addr unsafe.Pointer = unsafe.Pointer(uintptr(0x1000))
	s.Emit(secmalloc.LevelOK, "Allocate", 128, addr)
	s.Emit(secmalloc.LevelError, "Release", 0, nil)
	s.Emit(secmalloc.LevelInfo, "Allocate", 0, nil)
	s.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), raw)
	}

	if want := "OK :  Function: Allocate, Size: 128, Address: 0x1000"; lines[0] != want {
		t.Fatalf("line 0 = %q, want %q", lines[0], want)
	}
	if want := "Error : Function: Release, Size: 0, Address: 0x0"; lines[1] != want {
		t.Fatalf("line 1 = %q, want %q", lines[1], want)
	}
	if want := "Info :  Function: Allocate"; lines[2] != want {
		t.Fatalf("line 2 = %q, want %q", lines[2], want)
	}
}

func TestCloseNilSinkIsNoop(t *testing.T) {
	var s *Sink
	if err := s.Close(); err != nil {
		t.Fatalf("Close on nil *Sink = %v, want nil", err)
	}
}
