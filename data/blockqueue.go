// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"sync"

	"github.com/IMCG/thrill/ctxsync"
	"github.com/IMCG/thrill/internal/kind"
)

// A BlockQueue is an MPSC-safe ordered queue of Blocks with a
// write-closed flag, matching thrill::data::BlockQueue. Exactly one
// producer and one consumer are expected; Pop blocks on emptiness
// until a Block arrives or the queue is write-closed.
type BlockQueue struct {
	mu     sync.Mutex
	cond   *ctxsync.Cond
	blocks []Block
	closed bool

	cache *File // non-nil for the caching variant
}

// NewBlockQueue returns an empty, open BlockQueue.
func NewBlockQueue() *BlockQueue {
	q := &BlockQueue{}
	q.cond = ctxsync.NewCond(&q.mu)
	return q
}

// NewCachingBlockQueue returns a BlockQueue whose every appended
// Block is also recorded into a companion File, allowing secondary
// readers to replay history before switching to live queue reads.
func NewCachingBlockQueue(pool *Pool) *BlockQueue {
	q := NewBlockQueue()
	q.cache = NewFile(pool)
	return q
}

// AppendBlock implements BlockSink. It enqueues b and wakes one
// waiting reader (Thrill semantics say "wake one"; since there is
// exactly one consumer, Broadcast here is equivalent and reuses the
// same ctxsync.Cond primitive the teacher uses elsewhere for
// single-waiter signaling).
func (q *BlockQueue) AppendBlock(ctx context.Context, b Block) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return kind.Closed("append to write-closed queue")
	}
	if q.cache != nil {
		if err := q.cache.AppendBlock(ctx, b.Retain()); err != nil {
			return err
		}
	}
	q.blocks = append(q.blocks, b)
	q.cond.Broadcast()
	return nil
}

// Close marks the queue write-closed and wakes all waiting readers.
// It implements BlockSink.Close; a second call returns kind.Closed.
func (q *BlockQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return kind.Closed("double close")
	}
	q.closed = true
	if q.cache != nil {
		if err := q.cache.Close(ctx); err != nil {
			return err
		}
	}
	q.cond.Broadcast()
	return nil
}

// Pop blocks until a Block is available or the queue is closed, in
// which case it returns an empty Block and nil error (the BlockSource
// end-of-stream sentinel).
func (q *BlockQueue) Pop(ctx context.Context) (Block, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.blocks) == 0 {
		if q.closed {
			return Block{}, nil
		}
		if err := q.cond.Wait(ctx); err != nil {
			return Block{}, err
		}
	}
	b := q.blocks[0]
	q.blocks = q.blocks[1:]
	return b, nil
}

// WaitClosed blocks until the queue has been write-closed, without
// consuming any Blocks. Used by Channel.Close to wait for every
// inbound queue to observe the sender's end-of-stream sentinel.
func (q *BlockQueue) WaitClosed(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed {
		if err := q.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NextBlock implements BlockSource by delegating to Pop, so a
// BlockQueue can be wrapped directly in a BlockReader.
func (q *BlockQueue) NextBlock(ctx context.Context) (Block, error) {
	return q.Pop(ctx)
}

// Source returns the BlockSource consuming this queue live.
func (q *BlockQueue) Source() BlockSource { return q }

// CachingSource returns a BlockSource that first replays the
// companion File from the beginning, then continues as a live reader
// of this queue — used by secondary readers of a caching queue, per
// spec.md §4.5.
func (q *BlockQueue) CachingSource() BlockSource {
	if q.cache == nil {
		return q
	}
	return &cachingQueueSource{queue: q}
}

// cacheBlockAt blocks until the companion cache File holds at least
// idx+1 Blocks or the queue has been write-closed, without ever
// consuming from q.blocks. This lets a secondary caching reader trail
// the primary consumer's live Pop calls without racing it for Blocks:
// every Block a caching queue sees is recorded to the cache File
// under the same mutex (see AppendBlock), so waiting on that File's
// growth is equivalent to waiting on the live queue without stealing
// from it.
func (q *BlockQueue) cacheBlockAt(ctx context.Context, idx int) (Block, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.cache.NumBlocks() <= idx {
		if q.closed {
			return Block{}, false, nil
		}
		if err := q.cond.Wait(ctx); err != nil {
			return Block{}, false, err
		}
	}
	return q.cache.Block(idx).Retain(), true, nil
}

type cachingQueueSource struct {
	queue    *BlockQueue
	fileNext int
}

// NextBlock never calls queue.Pop: it always reads through the
// companion cache File, so a secondary reader cannot steal Blocks
// from the primary consumer's queue, matching spec.md §4.5's intent
// that the caching tee let a secondary reader replay full history
// without disturbing the primary stream.
func (s *cachingQueueSource) NextBlock(ctx context.Context) (Block, error) {
	b, ok, err := s.queue.cacheBlockAt(ctx, s.fileNext)
	if err != nil || !ok {
		return Block{}, err
	}
	s.fileNext++
	return b, nil
}
