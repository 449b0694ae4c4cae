// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"

	"github.com/IMCG/thrill/internal/kind"
)

// A ChannelConnection is the subset of net.Connection a ChannelSink
// needs to ship framed Blocks to one remote peer. Any net.Connection
// satisfies it.
type ChannelConnection interface {
	SyncSend(ctx context.Context, p []byte) error
}

// A ChannelSink is the outbound half of a Channel's connection to one
// remote worker: every AppendBlock call serializes a
// StreamBlockHeader ahead of the Block's payload bytes, and Close
// emits the end-of-stream sentinel header (bytes=0, nitems=0),
// matching spec.md §4.8.
type ChannelSink struct {
	conn      ChannelConnection
	channelID ObjectID
	myRank    int
	receiver  int
	sender    int
	kind      HeaderKind
	closed    bool
}

// NewChannelSink returns a ChannelSink writing Blocks of kind k,
// tagged with channelID and the sending worker's identity, to conn.
func NewChannelSink(conn ChannelConnection, channelID ObjectID, myRank, receiverWorker, senderWorker int, k HeaderKind) *ChannelSink {
	return &ChannelSink{conn: conn, channelID: channelID, myRank: myRank, receiver: receiverWorker, sender: senderWorker, kind: k}
}

// AppendBlock implements BlockSink.
func (s *ChannelSink) AppendBlock(ctx context.Context, b Block) error {
	if s.closed {
		return kind.Closed("append to closed channel sink")
	}
	return s.send(ctx, b)
}

func (s *ChannelSink) send(ctx context.Context, b Block) error {
	h := StreamBlockHeader{
		Kind:           s.kind,
		ChannelID:      s.channelID,
		Bytes:          uint64(b.Size()),
		FirstItem:      uint64(b.FirstItemRelative()),
		NumItems:       uint64(b.NumItems()),
		SenderRank:     s.myRank,
		ReceiverWorker: s.receiver,
		SenderWorker:   s.sender,
	}
	var buf []byte
	pw := &sliceWriter{buf: &buf}
	if err := h.WriteTo(pw); err != nil {
		return err
	}
	if err := s.conn.SyncSend(ctx, buf); err != nil {
		return err
	}
	if b.Size() == 0 {
		return nil
	}
	return s.conn.SyncSend(ctx, b.Bytes())
}

// Close implements BlockSink, emitting the end-of-stream sentinel.
func (s *ChannelSink) Close(ctx context.Context) error {
	if s.closed {
		return kind.Closed("double close")
	}
	s.closed = true
	return s.send(ctx, Block{})
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// A Channel is the per-(logical-channel) endpoint held by one local
// worker: one BlockWriter per destination worker (local loopback or
// remote ChannelSink), and one inbound BlockQueue per sending worker.
// It matches thrill::data::Channel/Multiplexer's per-channel state.
type Channel struct {
	id          ObjectID
	numWorkers  int
	localWorker int

	inbound []*BlockQueue // one per sender rank
}

// NewChannel returns a Channel with numWorkers inbound queues, one
// per sender, and no writers yet (OpenWriters creates those).
func NewChannel(id ObjectID, localWorker, numWorkers int) *Channel {
	c := &Channel{id: id, numWorkers: numWorkers, localWorker: localWorker}
	c.inbound = make([]*BlockQueue, numWorkers)
	for i := range c.inbound {
		c.inbound[i] = NewBlockQueue()
	}
	return c
}

// Inbound returns the BlockQueue carrying Blocks received from
// sender.
func (c *Channel) Inbound(sender int) *BlockQueue { return c.inbound[sender] }

// OpenWriters returns one BlockWriter per worker: the entry for
// c.localWorker targets the local loop-back queue inbound[c.localWorker]
// directly; every other entry targets sinks, one per remote peer,
// supplied by the caller (the Multiplexer, which owns the
// connections) via the sinks slice — sinks[c.localWorker] is ignored.
func (c *Channel) OpenWriters(blockSize int, sinks []BlockSink) []*BlockWriter {
	writers := make([]*BlockWriter, c.numWorkers)
	pool := NewPool(blockSize)
	for w := 0; w < c.numWorkers; w++ {
		var sink BlockSink
		if w == c.localWorker {
			sink = c.inbound[c.localWorker]
		} else {
			sink = sinks[w]
		}
		writers[w] = NewBlockWriter(pool, sink)
	}
	return writers
}

// Scatter appends, for each destination d, the items
// [offsets[d-1], offsets[d]) of file (offsets[-1] == 0) to writers[d],
// then closes writers[d], matching spec.md §4.8's channel.scatter<T>.
// For fixed-size T this is zero-copy, via GetItemBatch's exact
// fixed-size slicing. Variable-size T cannot be cut at an arbitrary
// item boundary without decoding (GetItemBatch instead hands back
// whole Blocks and may overshoot n, per its own doc comment), so for
// those types Scatter falls back to a decode/re-encode item loop that
// guarantees exactly n items land on each destination.
func Scatter[T any](ctx context.Context, file *File, offsets []int, writers []*BlockWriter) error {
	if len(offsets) != len(writers) {
		return kind.InvalidConfig("offsets must have one entry per destination writer")
	}
	fixed := IsFixedSize[T]()
	prev := 0
	for d, end := range offsets {
		n := end - prev
		if n < 0 {
			return kind.InvalidConfig("offsets must be non-decreasing")
		}
		if n > 0 {
			r, err := ReaderAt[T](ctx, file, prev)
			if err != nil {
				return err
			}
			if fixed {
				err = scatterFixed[T](ctx, r, n, writers[d])
			} else {
				err = scatterVariable[T](ctx, r, n, writers[d])
			}
			r.Close()
			if err != nil {
				return err
			}
		}
		if err := writers[d].Close(ctx); err != nil {
			return err
		}
		prev = end
	}
	return nil
}

// scatterFixed zero-copy forwards exactly n fixed-size items from r
// to w's sink.
func scatterFixed[T any](ctx context.Context, r *BlockReader, n int, w *BlockWriter) error {
	blocks, got, err := GetItemBatch[T](ctx, r, n)
	if err != nil {
		return err
	}
	if got != n {
		return kind.Underflow("scatter: fixed-size batch came up short")
	}
	for _, b := range blocks {
		if err := w.sink.AppendBlock(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// scatterVariable decodes and re-encodes exactly n variable-size
// items from r into w, since their byte boundaries cannot be sliced
// without decoding.
func scatterVariable[T any](ctx context.Context, r *BlockReader, n int, w *BlockWriter) error {
	for i := 0; i < n; i++ {
		v, err := Next[T](ctx, r)
		if err != nil {
			return err
		}
		if err := Append(ctx, w, v); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every outbound writer — emitting the end-of-stream
// sentinel on remote sinks, and flushing any partial final Block on
// the local loop-back writer before closing its queue — then blocks
// until every inbound queue has observed write-close.
func (c *Channel) Close(ctx context.Context, writers []*BlockWriter) error {
	for _, writer := range writers {
		if err := writer.Close(ctx); err != nil {
			return err
		}
	}
	return c.WaitAllClosed(ctx)
}

// WaitAllClosed blocks until every inbound queue has observed
// write-close, without itself closing any writer. Used after a
// Scatter, whose own writer.Close calls already close every
// destination (including the local loop-back queue), so the barrier
// here must not attempt to close them a second time.
func (c *Channel) WaitAllClosed(ctx context.Context) error {
	for _, q := range c.inbound {
		if err := q.WaitClosed(ctx); err != nil {
			return err
		}
	}
	return nil
}
