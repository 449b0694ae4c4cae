// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package core implements the pre-reduce partitioned hash table,
// matching thrill::core::ReducePreTable. It is single-threaded: one
// instance per operator per worker (spec.md §5).
package core

import (
	"bytes"

	"github.com/IMCG/thrill/data"
	"github.com/spaolacci/murmur3"
)

// DefaultHash hashes key's item encoding with murmur3, the table's
// default key hash function per spec.md §4.7. It panics if key's
// type cannot be serialized; callers with exotic key types should
// supply their own Hash in Config instead.
func DefaultHash[K any](key K) uint64 {
	var buf bytes.Buffer
	if err := data.Serialize(&buf, key); err != nil {
		panic(err)
	}
	return murmur3.Sum64(buf.Bytes())
}
