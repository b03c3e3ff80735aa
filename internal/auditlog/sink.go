// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package auditlog is the file-backed audit sink, an external
// collaborator to the allocator engine: an append-only byte stream,
// bound to a filesystem path read from environment configuration, that
// the engine's Logger interface writes classified events to.
package auditlog

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/Esgr0bar/secmalloc"
)

// EnvVar is the environment variable naming the audit log path.
const EnvVar = "MSM_OUTPUT"

// Sink is a secmalloc.Logger that renders events in the allocator's
// wire format and fsyncs the underlying file after every write, for
// crash-time visibility.
type Sink struct {
	file *os.File
	log  *logrus.Logger
}

// Open opens path for writing (truncating any existing content, same
// as the C original's fopen(path, "w")) and returns a Sink backed by
// it. The caller is responsible for closing it.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(f)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(wireFormatter{})

	return &Sink{file: f, log: l}, nil
}

// OpenFromEnv opens a Sink from the MSM_OUTPUT environment variable.
// An unset variable disables logging entirely — this returns (nil,
// nil), and callers should fall back to a no-op Logger (the
// Allocator's zero-value logger already does this; OpenFromEnv need
// only be skipped).
func OpenFromEnv() (*Sink, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, nil
	}
	return Open(path)
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Emit satisfies secmalloc.Logger.
func (s *Sink) Emit(level secmalloc.Level, fn string, size uintptr, addr unsafe.Pointer) {
	if s == nil {
		return
	}
	s.log.WithFields(logrus.Fields{
		fieldLevel: level,
		fieldFn:    fn,
		fieldSize:  size,
		fieldAddr:  addr,
	}).Info()
	s.file.Sync()
}

const (
	fieldLevel = "secmalloc_level"
	fieldFn    = "secmalloc_fn"
	fieldSize  = "secmalloc_size"
	fieldAddr  = "secmalloc_addr"
)

// wireFormatter renders a logrus.Entry carrying the four fields above
// into the allocator's exact line format:
//
//	<TAG> Function: <name>, Size: <decimal>, Address: <hex pointer>\n
//
// with Info events shortened to `Function: <name>` only.
type wireFormatter struct{}

func (wireFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level, _ := e.Data[fieldLevel].(secmalloc.Level)
	fn, _ := e.Data[fieldFn].(string)
	size, _ := e.Data[fieldSize].(uintptr)
	addr, _ := e.Data[fieldAddr].(unsafe.Pointer)

	tag := wireTag(level)
	if level == secmalloc.LevelInfo {
		return []byte(fmt.Sprintf("%s Function: %s\n", tag, fn)), nil
	}
	return []byte(fmt.Sprintf("%s Function: %s, Size: %d, Address: %p\n", tag, fn, size, addr)), nil
}

func wireTag(level secmalloc.Level) string {
	switch level {
	case secmalloc.LevelError:
		return "Error :"
	case secmalloc.LevelOK:
		return "OK : "
	case secmalloc.LevelInfo:
		return "Info : "
	default:
		return ""
	}
}
