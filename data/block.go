// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

// A Block is a view (byteBlock, begin, end, firstItem, numItems) over a
// shared ByteBlock: [begin, end) is the valid byte range, firstItem is
// the offset of the first item that wholly starts inside this range,
// and numItems counts items whose first byte lies in [firstItem, end).
// Items may straddle into the following Block. See thrill::data::Block.
type Block struct {
	byteBlock *ByteBlock
	begin     int
	end       int
	firstItem int
	numItems  int
}

// MakeBlock constructs a Block view over byteBlock. It panics if the
// invariant begin <= firstItem <= end <= byteBlock.Size() does not
// hold.
func MakeBlock(byteBlock *ByteBlock, begin, end, firstItem, numItems int) Block {
	if byteBlock == nil {
		if begin != 0 || end != 0 || firstItem != 0 || numItems != 0 {
			panic("data: nil byte block with non-empty bounds")
		}
		return Block{}
	}
	if !(begin <= firstItem && firstItem <= end && end <= byteBlock.Size()) {
		panic("data: invalid block bounds")
	}
	return Block{byteBlock: byteBlock, begin: begin, end: end, firstItem: firstItem, numItems: numItems}
}

// IsValid reports whether the Block has a backing ByteBlock.
func (b Block) IsValid() bool { return b.byteBlock != nil }

// IsEmpty reports whether the Block carries no bytes. An empty Block
// is used as the end-of-stream sentinel returned by a BlockSource.
func (b Block) IsEmpty() bool { return !b.IsValid() || b.end == b.begin }

// NumItems returns the number of items beginning within this Block.
func (b Block) NumItems() int { return b.numItems }

// FirstItem returns the absolute offset, within the backing
// ByteBlock, of the first item that begins in this Block.
func (b Block) FirstItem() int { return b.firstItem }

// FirstItemRelative returns FirstItem relative to Bytes()'s start.
func (b Block) FirstItemRelative() int { return b.firstItem - b.begin }

// Size returns the number of valid bytes in the view.
func (b Block) Size() int { return b.end - b.begin }

// Bytes returns the valid byte range [begin, end) of the backing
// ByteBlock. The slice is read-only: the producing writer has
// released the ByteBlock by the time any reader observes it.
func (b Block) Bytes() []byte {
	if !b.IsValid() {
		return nil
	}
	return b.byteBlock.Bytes()[b.begin:b.end]
}

// ByteBlock returns the backing ByteBlock, or nil for an invalid
// Block.
func (b Block) ByteBlock() *ByteBlock { return b.byteBlock }

// Retain increments the reference count of the backing ByteBlock, so
// this Block view can be held independently of the Block that handed
// it out (e.g. forwarded zero-copy into another writer).
func (b Block) Retain() Block {
	if b.byteBlock != nil {
		b.byteBlock.Retain()
	}
	return b
}

// Release drops this Block's reference to its backing ByteBlock.
func (b Block) Release() {
	if b.byteBlock != nil {
		b.byteBlock.Release()
	}
}

// Slice returns a Block view over the same ByteBlock restricted to
// [begin, end) (absolute offsets), with no items attributed to it.
// Used to hand out a zero-copy batch of raw bytes whose item
// boundaries are tracked separately.
func (b Block) Slice(begin, end int) Block {
	return MakeBlock(b.byteBlock, begin, end, end, 0)
}
