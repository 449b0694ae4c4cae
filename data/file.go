// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"sort"

	"github.com/IMCG/thrill/internal/kind"
)

// A File is an append-only ordered sequence of Blocks, implementing
// BlockSink. A monotonic prefix-sum vector over item counts allows
// seeking to the Block containing any item index by binary search,
// matching thrill::data::File.
type File struct {
	pool *Pool

	blocks    []Block
	itemsSum  []int // itemsSum[i] = total items in blocks[0..i]
	size      int
	closed    bool
}

// NewFile returns an empty File whose writers allocate from pool.
func NewFile(pool *Pool) *File {
	return &File{pool: pool}
}

// AppendBlock implements BlockSink. Zero-byte Blocks are dropped, as
// in the teacher's append paths that skip empty writes; a Block that
// only continues a previous item (zero items, non-zero bytes) is kept.
func (f *File) AppendBlock(ctx context.Context, b Block) error {
	if f.closed {
		return kind.Closed("append to closed file")
	}
	if b.Size() == 0 {
		return nil
	}
	f.blocks = append(f.blocks, b)
	f.size += b.Size()
	prev := 0
	if n := len(f.itemsSum); n > 0 {
		prev = f.itemsSum[n-1]
	}
	f.itemsSum = append(f.itemsSum, prev+b.NumItems())
	return nil
}

// Close implements BlockSink. Close must be called once; a second
// call returns kind.Closed.
func (f *File) Close(ctx context.Context) error {
	if f.closed {
		return kind.Closed("double close")
	}
	f.closed = true
	return nil
}

// NumBlocks returns the number of Blocks in the File.
func (f *File) NumBlocks() int { return len(f.blocks) }

// NumItems returns the total number of items across all Blocks.
func (f *File) NumItems() int {
	if n := len(f.itemsSum); n > 0 {
		return f.itemsSum[n-1]
	}
	return 0
}

// Empty reports whether the File holds no Blocks.
func (f *File) Empty() bool { return len(f.blocks) == 0 }

// TotalSize returns the number of payload bytes across all Blocks.
func (f *File) TotalSize() int { return f.size }

// Block returns the i'th Block.
func (f *File) Block(i int) Block { return f.blocks[i] }

// ItemsStartIn returns the number of items beginning in block i.
func (f *File) ItemsStartIn(i int) int {
	if i == 0 {
		return f.itemsSum[0]
	}
	return f.itemsSum[i] - f.itemsSum[i-1]
}

// Writer returns a BlockWriter appending to the File via pool.
func (f *File) Writer() *BlockWriter {
	return NewBlockWriter(f.pool, f)
}

// fileSource is a BlockSource that replays a File's Blocks starting
// at a given block index, Retaining each Block so the File itself
// keeps its own references alive independent of any reader.
type fileSource struct {
	file *File
	next int
}

func (s *fileSource) NextBlock(ctx context.Context) (Block, error) {
	if s.next >= len(s.file.blocks) {
		return Block{}, nil
	}
	b := s.file.blocks[s.next].Retain()
	s.next++
	return b, nil
}

// KeepReader returns a BlockReader over the entire File, starting
// from the first Block, without consuming the File's own Blocks.
func (f *File) KeepReader() *BlockReader {
	return NewBlockReader(&fileSource{file: f})
}

// findBlock returns the index of the unique Block b such that
// itemsSum[b-1] <= itemIdx < itemsSum[b], via binary search over the
// prefix-sum vector, and the number of items in preceding Blocks.
func (f *File) findBlock(itemIdx int) (blockIdx, itemsBefore int) {
	i := sort.Search(len(f.itemsSum), func(i int) bool {
		return f.itemsSum[i] > itemIdx
	})
	before := 0
	if i > 0 {
		before = f.itemsSum[i-1]
	}
	return i, before
}

// ReaderAt returns a BlockReader positioned so that the next call to
// Next[T] yields the item at itemIdx, implementing the binary-search
// seek described in spec.md §4.4. It fast-paths by skipping whole
// fixed-size items within the starting Block; for variable-size T it
// must deserialize and drop the preceding items in that Block.
func ReaderAt[T any](ctx context.Context, f *File, itemIdx int) (*BlockReader, error) {
	if itemIdx < 0 || itemIdx >= f.NumItems() {
		return nil, kind.Underflow("item index out of range")
	}
	blockIdx, itemsBefore := f.findBlock(itemIdx)
	skip := itemIdx - itemsBefore

	r := NewBlockReader(&fileSource{file: f, next: blockIdx + 1})
	b := f.blocks[blockIdx].Retain()
	if err := seedReader(r, b); err != nil {
		return nil, err
	}

	if fixed, size := fixedSize(reflectTypeOf[T]()); fixed && skip > 0 {
		skipBytes := skip * size
		r.pos += skipBytes
		r.pending -= skip
		return r, nil
	}
	for i := 0; i < skip; i++ {
		if _, err := Next[T](ctx, r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// seedReader primes r's current Block without going through advance,
// so ReaderAt can start mid-File rather than at block index 0.
func seedReader(r *BlockReader, b Block) error {
	r.cur = b
	r.pos = b.FirstItemRelative()
	if r.pos < 0 {
		r.pos = 0
	}
	r.pending = b.NumItems()
	return nil
}

// ItemAt deserializes and returns the item at itemIdx, documented in
// spec.md as equivalent to ReaderAt(index).Next(). Non-performant:
// it re-seeks on every call.
func ItemAt[T any](ctx context.Context, f *File, itemIdx int) (T, error) {
	var zero T
	r, err := ReaderAt[T](ctx, f, itemIdx)
	if err != nil {
		return zero, err
	}
	defer r.Close()
	return Next[T](ctx, r)
}

// IndexOf returns the smallest item index i for which cmp(item_at(i))
// reports zero, using binary search over [0, NumItems()) under the
// assumption that cmp's sign is monotonic in i. O(log N) calls to
// ItemAt, each itself O(log N) to seek: documented non-performant,
// matching spec.md §4.4.
func IndexOf[T any](ctx context.Context, f *File, cmp func(T) int) (int, bool, error) {
	lo, hi := 0, f.NumItems()
	found := false
	for lo < hi {
		mid := (lo + hi) / 2
		v, err := ItemAt[T](ctx, f, mid)
		if err != nil {
			return 0, false, err
		}
		c := cmp(v)
		switch {
		case c < 0:
			lo = mid + 1
		default:
			if c == 0 {
				found = true
			}
			hi = mid
		}
	}
	if found {
		return lo, true, nil
	}
	return 0, false, nil
}
