// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"

	"github.com/IMCG/thrill/internal/kind"
)

// A BlockWriter accumulates items or raw bytes, segmenting them
// across ByteBlock boundaries transparently, and emits completed
// Blocks to a BlockSink. It is the Go analogue of
// thrill::data::BlockWriter.
type BlockWriter struct {
	pool *Pool
	sink BlockSink

	cur       *ByteBlock
	write     int // write cursor within cur
	firstItem int // absolute offset of the first item begun in cur, -1 if none yet
	numItems  int // items fully begun in cur

	closed bool
}

// NewBlockWriter returns a BlockWriter that allocates ByteBlocks from
// pool and emits completed Blocks to sink.
func NewBlockWriter(pool *Pool, sink BlockSink) *BlockWriter {
	return &BlockWriter{pool: pool, sink: sink, firstItem: -1}
}

// PutRaw appends n raw bytes, spilling as many whole Blocks to the
// sink as necessary. Items spanning a spill are transparently
// continued in the next Block.
func (w *BlockWriter) PutRaw(ctx context.Context, p []byte) error {
	if w.closed {
		return kind.Closed("write after close")
	}
	for len(p) > 0 {
		if w.cur == nil {
			if err := w.allocate(); err != nil {
				return err
			}
		}
		room := len(w.cur.Bytes()) - w.write
		n := len(p)
		if n > room {
			n = room
		}
		copy(w.cur.Bytes()[w.write:], p[:n])
		w.write += n
		p = p[n:]
		if w.write == len(w.cur.Bytes()) {
			if err := w.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkItem records the byte boundary between items. If the current
// Block is exactly full, it is flushed and a new one allocated first;
// if this is the first item begun in the (possibly new) current
// Block, its offset is recorded as the Block's first-item offset.
func (w *BlockWriter) MarkItem(ctx context.Context) error {
	if w.closed {
		return kind.Closed("mark item after close")
	}
	if w.cur == nil {
		if err := w.allocate(); err != nil {
			return err
		}
	} else if w.write == len(w.cur.Bytes()) {
		if err := w.flush(ctx); err != nil {
			return err
		}
		if err := w.allocate(); err != nil {
			return err
		}
	}
	if w.numItems == 0 {
		w.firstItem = w.write
	}
	w.numItems++
	return nil
}

// Append marks an item boundary and serializes value into the
// writer's stream, spilling Blocks as needed.
func Append[T any](ctx context.Context, w *BlockWriter, value T) error {
	if err := w.MarkItem(ctx); err != nil {
		return err
	}
	return Serialize(&blockWriterIO{ctx: ctx, w: w}, value)
}

// blockWriterIO adapts BlockWriter.PutRaw to io.Writer for use by the
// generic Serialize function, which is ctx-agnostic.
type blockWriterIO struct {
	ctx context.Context
	w   *BlockWriter
}

func (b *blockWriterIO) Write(p []byte) (int, error) {
	if err := b.w.PutRaw(b.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close flushes any partial Block — even one that only continues a
// previous item — to the sink, then closes the sink.
func (w *BlockWriter) Close(ctx context.Context) error {
	if w.closed {
		return kind.Closed("double close")
	}
	w.closed = true
	if w.cur != nil && w.write > 0 {
		if err := w.flush(ctx); err != nil {
			return err
		}
	} else if w.cur != nil {
		w.cur.Release()
		w.cur = nil
	}
	return w.sink.Close(ctx)
}

func (w *BlockWriter) allocate() error {
	bb := w.pool.Allocate()
	if bb == nil {
		return kind.OutOfMemory("block writer allocation failed")
	}
	w.cur = bb
	w.write = 0
	w.firstItem = -1
	w.numItems = 0
	return nil
}

func (w *BlockWriter) flush(ctx context.Context) error {
	first := w.firstItem
	if first < 0 {
		first = w.write
	}
	block := MakeBlock(w.cur, 0, w.write, first, w.numItems)
	w.cur = nil
	w.write = 0
	w.firstItem = -1
	w.numItems = 0
	return w.sink.AppendBlock(ctx, block)
}
