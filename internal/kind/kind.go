// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package kind names the error kinds used across the data, core, and
// net packages, layered on top of github.com/grailbio/base/errors the
// way the teacher (grailbio/bigslice) layers its own error sites on
// that package.
package kind

import "github.com/grailbio/base/errors"

// Underflow indicates a reader requested more bytes or items than were
// available.
func Underflow(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Invalid, "underflow"}, args...)...)
}

// TypeMismatch indicates a self-verify fingerprint mismatch on read.
func TypeMismatch(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Integrity, "type mismatch"}, args...)...)
}

// InvalidConfig indicates a hash-table or channel partitioning
// constraint was violated at construction time.
func InvalidConfig(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Invalid, "invalid config"}, args...)...)
}

// Closed indicates an operation on an already-closed writer, reader,
// or sink.
func Closed(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Invalid, "closed"}, args...)...)
}

// OutOfMemory indicates a byte-block allocation failure.
func OutOfMemory(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.OOM, "out of memory"}, args...)...)
}

// TransportFatal indicates an abnormal peer exit or protocol
// violation. The host that observes it aborts the dispatcher thread.
func TransportFatal(args ...interface{}) error {
	return errors.E(append([]interface{}{errors.Fatal, "transport fatal"}, args...)...)
}
