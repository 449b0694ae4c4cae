// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"encoding/binary"
	"io"

	"github.com/IMCG/thrill/internal/kind"
)

// HeaderKind discriminates the framing of a StreamBlockHeader,
// folding in thrill::data::MagicByte from multiplexer_header.hpp.
type HeaderKind uint8

const (
	// KindInvalid marks a zero-value header; never sent on the wire.
	KindInvalid HeaderKind = iota
	// KindChannelBlock frames an ordinary Channel block.
	KindChannelBlock
	// KindPartitionBlock frames a block produced by a pre-reduce
	// hash table's partitioned scatter.
	KindPartitionBlock
)

// A StreamBlockHeader precedes every Block sent over a Channel's
// wire connection, matching thrill::data::ChannelBlockHeader with two
// fields folded in from the original's receiver/sender local worker
// ids (see SPEC_FULL.md §5). A header with Bytes == 0 is the
// end-of-stream sentinel for its (ChannelID, SenderRank) pair.
type StreamBlockHeader struct {
	Kind      HeaderKind
	ChannelID ObjectID
	Bytes     uint64
	FirstItem uint64
	NumItems  uint64

	SenderRank     int
	ReceiverWorker int
	SenderWorker   int
}

// IsEnd reports whether this header is the end-of-stream sentinel.
func (h StreamBlockHeader) IsEnd() bool { return h.Bytes == 0 }

// headerWireSize is the fixed encoded size of a StreamBlockHeader: 1
// byte Kind, then seven little-endian uint64 fields (the last three
// promoted from int to uint64 on the wire for a fixed-width frame).
const headerWireSize = 1 + 7*8

// WriteTo serializes h to w in the fixed layout consumed by
// ReadStreamBlockHeader,
// used by ChannelSink before every Block flush.
func (h StreamBlockHeader) WriteTo(w io.Writer) error {
	var buf [headerWireSize]byte
	buf[0] = byte(h.Kind)
	binary.LittleEndian.PutUint64(buf[1:], uint64(h.ChannelID))
	binary.LittleEndian.PutUint64(buf[9:], h.Bytes)
	binary.LittleEndian.PutUint64(buf[17:], h.FirstItem)
	binary.LittleEndian.PutUint64(buf[25:], h.NumItems)
	binary.LittleEndian.PutUint64(buf[33:], uint64(h.SenderRank))
	binary.LittleEndian.PutUint64(buf[41:], uint64(h.ReceiverWorker))
	binary.LittleEndian.PutUint64(buf[49:], uint64(h.SenderWorker))
	_, err := w.Write(buf[:])
	return err
}

// ReadStreamBlockHeader reads a StreamBlockHeader written by WriteTo.
func ReadStreamBlockHeader(r io.Reader) (StreamBlockHeader, error) {
	var buf [headerWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return StreamBlockHeader{}, underflowOnEOF(err)
	}
	h := StreamBlockHeader{
		Kind:           HeaderKind(buf[0]),
		ChannelID:      ObjectID(binary.LittleEndian.Uint64(buf[1:])),
		Bytes:          binary.LittleEndian.Uint64(buf[9:]),
		FirstItem:      binary.LittleEndian.Uint64(buf[17:]),
		NumItems:       binary.LittleEndian.Uint64(buf[25:]),
		SenderRank:     int(binary.LittleEndian.Uint64(buf[33:])),
		ReceiverWorker: int(binary.LittleEndian.Uint64(buf[41:])),
		SenderWorker:   int(binary.LittleEndian.Uint64(buf[49:])),
	}
	if h.Kind == KindInvalid {
		return StreamBlockHeader{}, kind.TransportFatal("invalid stream block header on wire")
	}
	return h, nil
}
