// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec composes the data, net, and core packages into the
// per-worker runtime a DIA-front-end operator would execute against:
// a Context owning one ByteBlock pool, one Multiplexer, and the
// allocate/get-or-create sequencing that keeps channel ids agreed
// across peers (spec.md §4.6, §4.8). Building the operator graph
// itself is out of scope (spec.md §1 Non-goals).
package exec

import (
	"context"

	"github.com/IMCG/thrill/data"
	"github.com/IMCG/thrill/net"
)

// A Context is the per-worker handle to the shuffle core: it mints
// ByteBlocks from a shared Pool, allocates and opens Channels through
// the host's Multiplexer, and exposes the net.Group its worker
// participates in for collective communication.
type Context struct {
	LocalWorker int
	Group       net.Group

	pool *data.Pool
	mux  *data.Multiplexer
}

// NewContext returns a Context for localWorker, backed by pool for
// ByteBlock allocation and mux for Channel creation/dispatch.
func NewContext(localWorker int, group net.Group, pool *data.Pool, mux *data.Multiplexer) *Context {
	return &Context{LocalWorker: localWorker, Group: group, pool: pool, mux: mux}
}

// Pool returns the Context's ByteBlock pool, shared across every File,
// BlockQueue, and Channel this worker creates.
func (c *Context) Pool() *data.Pool { return c.pool }

// NewFile returns an empty File backed by the Context's pool.
func (c *Context) NewFile() *data.File { return data.NewFile(c.pool) }

// NewChannel allocates the next deterministic channel id for this
// worker and returns the corresponding Channel, lazily shared with
// whichever worker (local or remote) refers to the same id next.
// Every worker on every host must call NewChannel the same number of
// times, in the same relative order, for ids to line up (spec.md
// §4.6).
func (c *Context) NewChannel() *data.Channel {
	id := c.mux.AllocateChannelID(c.LocalWorker)
	return c.mux.GetOrCreateChannel(id, c.LocalWorker)
}

// Channel returns the Channel already registered under id, creating
// it if this worker has not referenced it yet (e.g. it is about to
// receive on a channel some other worker allocated).
func (c *Context) Channel(id data.ObjectID) *data.Channel {
	return c.mux.GetOrCreateChannel(id, c.LocalWorker)
}

// Scatter opens writers for ch, scatters file's items across them per
// offsets — which itself closes every writer, including the local
// loop-back one, as data.Scatter finishes with each destination — and
// then blocks until every inbound queue on this end has observed
// write-close.
func Scatter[T any](ctx context.Context, ch *data.Channel, blockSize int, sinks []data.BlockSink, file *data.File, offsets []int) error {
	writers := ch.OpenWriters(blockSize, sinks)
	if err := data.Scatter[T](ctx, file, offsets, writers); err != nil {
		return err
	}
	return ch.WaitAllClosed(ctx)
}
