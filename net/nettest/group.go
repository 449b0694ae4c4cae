// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package nettest provides an in-process net.Group and net.Dispatcher
// for testing the collective-communication and Multiplexer layers
// without a real transport, in the spirit of the mock net::Group used
// by the original's tests/net/mock test suite.
package nettest

import (
	"bytes"
	"context"

	"github.com/IMCG/thrill/data"
	"github.com/IMCG/thrill/internal/kind"
	"github.com/IMCG/thrill/net"
)

// NewGroups returns n net.Group values, one per rank, all backed by
// the same set of in-process channels, so that rank i's SendTo(j, v)
// is delivered to rank j's matching ReceiveFrom(i, &dst).
func NewGroups(n int) []net.Group {
	mat := make([][]chan []byte, n)
	for i := range mat {
		mat[i] = make([]chan []byte, n)
		for j := range mat[i] {
			mat[i][j] = make(chan []byte, 256)
		}
	}
	groups := make([]net.Group, n)
	for r := 0; r < n; r++ {
		groups[r] = &group{rank: r, hosts: n, mat: mat}
	}
	return groups
}

type group struct {
	rank, hosts int
	mat         [][]chan []byte
}

func (g *group) MyRank() int    { return g.rank }
func (g *group) NumHosts() int  { return g.hosts }

func (g *group) Connection(rank int) net.Connection {
	return &conn{send: g.mat[g.rank][rank], recv: g.mat[rank][g.rank]}
}

func (g *group) SendTo(ctx context.Context, rank int, value interface{}) error {
	var buf bytes.Buffer
	if err := data.SerializeValue(&buf, value); err != nil {
		return err
	}
	select {
	case g.mat[g.rank][rank] <- buf.Bytes():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *group) ReceiveFrom(ctx context.Context, rank int, dst interface{}) error {
	select {
	case p, ok := <-g.mat[rank][g.rank]:
		if !ok {
			return kind.TransportFatal("peer connection closed")
		}
		return data.DeserializeValue(bytes.NewReader(p), dst)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// conn is a raw byte-oriented net.Connection over the same channel
// matrix, used by tests that exercise the Multiplexer's header/payload
// framing directly rather than Group.SendTo/ReceiveFrom.
type conn struct {
	send chan []byte
	recv chan []byte
}

func (c *conn) SyncSend(ctx context.Context, p []byte) error {
	buf := append([]byte(nil), p...)
	select {
	case c.send <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) SyncRecv(ctx context.Context, p []byte) error {
	select {
	case buf, ok := <-c.recv:
		if !ok {
			return kind.TransportFatal("peer connection closed")
		}
		if len(buf) != len(p) {
			return kind.TransportFatal("short read: wanted ", len(p), " got ", len(buf))
		}
		copy(p, buf)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher is a trivial net.Dispatcher that runs every async
// operation on its own goroutine, sufficient for the in-process test
// transport; a real dispatch loop is out of scope (spec.md §1).
type Dispatcher struct{}

func (d *Dispatcher) AsyncRead(c net.Connection, n int, cb func([]byte, error)) {
	go func() {
		buf := make([]byte, n)
		err := c.SyncRecv(context.Background(), buf)
		cb(buf, err)
	}()
}

func (d *Dispatcher) AsyncWrite(c net.Connection, buf []byte, cb func(error)) {
	go func() {
		err := c.SyncSend(context.Background(), buf)
		if cb != nil {
			cb(err)
		}
	}()
}
