// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"sync"
	"sync/atomic"
)

// DefaultBlockSize is the default size, in bytes, of a ByteBlock as
// allocated by a Pool. It matches the block size used throughout
// Thrill's File, Channel, and BlockQueue containers.
const DefaultBlockSize = 2 << 20

// A ByteBlock is a fixed-size, reference-counted, immutable (once
// released by its producing writer) contiguous buffer. Multiple Block
// views can share one ByteBlock; the underlying memory is freed back
// to its Pool when the last holder releases it.
type ByteBlock struct {
	buf  []byte
	pool *Pool
	refs int32
}

// Bytes returns the full underlying buffer. Callers must not retain
// slices of it beyond the lifetime of their Block view's reference.
func (b *ByteBlock) Bytes() []byte { return b.buf }

// Size returns the allocated size of the byte block.
func (b *ByteBlock) Size() int { return len(b.buf) }

// Retain increments the reference count. It must be called by any
// holder that stores a *ByteBlock beyond the call that handed it to
// them (e.g. a second Block view into the same buffer).
func (b *ByteBlock) Retain() {
	atomic.AddInt32(&b.refs, 1)
}

// Release decrements the reference count, returning the buffer to its
// Pool once the count reaches zero. Release is safe to call from
// multiple goroutines, matching the ByteBlockPtr shared-ownership
// discipline in thrill::data::ByteBlock.
func (b *ByteBlock) Release() {
	if b == nil {
		return
	}
	if atomic.AddInt32(&b.refs, -1) == 0 && b.pool != nil {
		b.pool.put(b)
	}
}

// NewByteBlockFromBytes wraps an existing buffer in a ByteBlock with
// a single reference and no backing Pool, so Release simply drops it
// for GC rather than recycling it. Used for inbound network Blocks,
// whose payload length is dictated by the sender's header rather
// than a fixed pool block size.
func NewByteBlockFromBytes(buf []byte) *ByteBlock {
	return &ByteBlock{buf: buf, refs: 1}
}

// A Pool allocates and recycles fixed-size ByteBlocks. It stands in
// for the process-wide memory manager the spec describes as tracking
// allocation; accounting and eviction policy beyond simple reuse are
// out of this module's scope (see spec.md §1, "memory accounting
// instrumentation").
type Pool struct {
	blockSize int
	free      sync.Pool
}

// NewPool returns a Pool that allocates ByteBlocks of the given size.
func NewPool(blockSize int) *Pool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	p := &Pool{blockSize: blockSize}
	p.free.New = func() interface{} {
		return &ByteBlock{buf: make([]byte, p.blockSize)}
	}
	return p
}

// BlockSize returns the size of ByteBlocks minted by this Pool.
func (p *Pool) BlockSize() int { return p.blockSize }

// Allocate returns a new ByteBlock with a single reference held by the
// caller.
func (p *Pool) Allocate() *ByteBlock {
	bb := p.free.Get().(*ByteBlock)
	bb.pool = p
	bb.refs = 1
	return bb
}

func (p *Pool) put(bb *ByteBlock) {
	bb.pool = nil
	p.free.Put(bb)
}
