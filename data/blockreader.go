// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"io"
	"reflect"

	"github.com/IMCG/thrill/internal/kind"
)

// A BlockSource produces Blocks one at a time. It returns an empty
// Block (Block.IsEmpty() true) with a nil error to signal end of
// stream, matching thrill::data::BlockQueue::Pop / File iteration.
type BlockSource interface {
	NextBlock(ctx context.Context) (Block, error)
}

// A BlockReader pulls Blocks from a BlockSource and reassembles items
// across Block boundaries, matching thrill::data::BlockReader.
type BlockReader struct {
	source   BlockSource
	cur      Block
	pos      int // cursor, relative to cur.Bytes()
	pending  int // items not yet consumed from cur
	eos      bool
}

// NewBlockReader returns a BlockReader pulling from source.
func NewBlockReader(source BlockSource) *BlockReader {
	return &BlockReader{source: source}
}

// HasNext reports whether at least one more byte is available,
// transparently advancing over zero-item continuation Blocks and
// fetching further Blocks from the source as needed.
func (r *BlockReader) HasNext(ctx context.Context) (bool, error) {
	for !r.eos && r.pos >= r.cur.Size() {
		if err := r.advance(ctx); err != nil {
			return false, err
		}
	}
	return !r.eos, nil
}

func (r *BlockReader) advance(ctx context.Context) error {
	r.cur.Release()
	b, err := r.source.NextBlock(ctx)
	if err != nil {
		return err
	}
	if b.IsEmpty() {
		r.eos = true
		r.cur = Block{}
		return nil
	}
	r.cur = b
	r.pos = 0
	r.pending = b.NumItems()
	return nil
}

// Read implements io.Reader over the logical, block-spanning byte
// stream. It is used internally by Deserialize and exposed so callers
// can skip raw bytes (e.g. to fast-path past fixed-size items).
func (r *BlockReader) Read(p []byte) (int, error) {
	ctx := context.Background()
	total := 0
	for total < len(p) {
		for !r.eos && r.pos >= r.cur.Size() {
			if err := r.advance(ctx); err != nil {
				return total, err
			}
		}
		if r.eos {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
		n := copy(p[total:], r.cur.Bytes()[r.pos:])
		r.pos += n
		total += n
	}
	return total, nil
}

// Next consumes and decodes exactly one item of type T, crossing
// Block boundaries transparently. In self-verify mode it first reads
// and checks the type fingerprint.
func Next[T any](ctx context.Context, r *BlockReader) (T, error) {
	var zero T
	has, err := r.HasNext(ctx)
	if err != nil {
		return zero, err
	}
	if !has {
		return zero, kind.Underflow("no more items")
	}
	if r.pending > 0 {
		r.pending--
	}
	return Deserialize[T](r)
}

// Close releases the reader's hold on its current Block.
func (r *BlockReader) Close() {
	r.cur.Release()
	r.cur = Block{}
}

// GetItemBatch returns up to n items as Block views, without
// deserializing them, for zero-copy forwarding (e.g. channel
// scatter). The returned Blocks share ByteBlocks with the source and
// are reference-counted; callers must Release them.
//
// For fixed-size T, the batch is sliced to exactly n items (or fewer
// at end of stream). For variable-size T, whole underlying Blocks are
// consumed until at least n items have been gathered, since splitting
// a Block at an arbitrary item boundary requires decoding — the
// returned count may then exceed n; callers must use the returned
// count, not assume it equals n.
func GetItemBatch[T any](ctx context.Context, r *BlockReader, n int) ([]Block, int, error) {
	if n <= 0 {
		return nil, 0, nil
	}
	fixed, size := fixedSize(reflectTypeOf[T]())
	if fixed {
		return getFixedBatch(ctx, r, n, size)
	}
	return getWholeBlockBatch(ctx, r, n)
}

func getFixedBatch(ctx context.Context, r *BlockReader, n, size int) ([]Block, int, error) {
	var out []Block
	got := 0
	for got < n {
		has, err := r.HasNext(ctx)
		if err != nil {
			return out, got, err
		}
		if !has {
			break
		}
		avail := r.cur.Size() - r.pos
		want := (n - got) * size
		take := want
		if take > avail {
			take = avail - avail%size
		}
		if take <= 0 {
			take = size
			if take > avail {
				take = avail
			}
		}
		items := take / size
		if items == 0 {
			items = 1
			take = avail
		}
		view := r.cur.Slice(r.cur.begin+r.pos, r.cur.begin+r.pos+take).Retain()
		view.numItems = items
		view.firstItem = view.begin
		out = append(out, view)
		r.pos += take
		got += items
		if r.pending > items {
			r.pending -= items
		} else {
			r.pending = 0
		}
	}
	return out, got, nil
}

func getWholeBlockBatch(ctx context.Context, r *BlockReader, n int) ([]Block, int, error) {
	var out []Block
	got := 0
	// First, hand out the remainder of the current block, if any.
	if r.pos < r.cur.Size() && r.cur.IsValid() {
		view := r.cur.Slice(r.cur.begin+r.pos, r.cur.end).Retain()
		view.numItems = r.pending
		view.firstItem = r.cur.firstItem
		if view.firstItem < view.begin {
			view.firstItem = view.begin
		}
		out = append(out, view)
		got += r.pending
		r.pos = r.cur.Size()
		r.pending = 0
	}
	for got < n {
		has, err := r.HasNext(ctx)
		if err != nil {
			return out, got, err
		}
		if !has {
			break
		}
		view := r.cur.Retain()
		out = append(out, view)
		got += r.pending
		r.pos = r.cur.Size()
		r.pending = 0
	}
	return out, got, nil
}

func reflectTypeOf[T any]() reflect.Type {
	var v T
	return reflect.TypeOf(v)
}
