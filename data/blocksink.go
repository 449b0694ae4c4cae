// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import "context"

// A BlockSink is the unified consumer of completed Blocks produced by
// a BlockWriter. File, BlockQueue, and ChannelSink all implement
// BlockSink, matching thrill::data::BlockSink's role as the base of
// File, CatChannelSink, and friends.
type BlockSink interface {
	// AppendBlock appends a completed Block to the sink. AppendBlock
	// must not be called after Close.
	AppendBlock(ctx context.Context, b Block) error

	// Close flushes and closes the sink. For a destination that is
	// shared across peers (a ChannelSink), Close emits the
	// end-of-stream sentinel. Close must be called exactly once; a
	// second call returns kind.Closed.
	Close(ctx context.Context) error
}
