// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package net defines the abstract transport contracts consumed by
// the collective-communication layer and the Multiplexer, matching
// thrill::net::Group / Connection / Dispatcher. It deliberately stops
// at these contracts: socket plumbing and the dispatcher's event loop
// are out of scope (spec.md §1 Non-goals); exec/bigmachine_group.go
// supplies the one concrete Group this module ships.
package net

import "context"

// A Connection is a single point-to-point link to one peer, offering
// blocking synchronous byte transfer. It matches
// thrill::net::Connection::SyncSend/SyncRecv.
type Connection interface {
	SyncSend(ctx context.Context, p []byte) error
	SyncRecv(ctx context.Context, p []byte) error
}

// A Dispatcher submits asynchronous reads and writes against
// Connections to a single event-loop thread per host, matching
// thrill::net::Dispatcher. The Multiplexer is the only consumer.
// The only implementation in this module is the in-process test
// Dispatcher in net/nettest (spec.md §1 Non-goals exclude the
// transport dispatch loop); exec's bigmachine adapter implements
// Group, not Dispatcher.
type Dispatcher interface {
	// AsyncRead arranges for exactly n bytes to be read from conn,
	// invoking cb with the bytes (or an error) once available.
	AsyncRead(conn Connection, n int, cb func([]byte, error))
	// AsyncWrite submits buf for writing to conn, invoking cb (if
	// non-nil) once the write completes or fails.
	AsyncWrite(conn Connection, buf []byte, cb func(error))
}

// A Group is the abstract set of peers participating in a
// collective-communication round, matching thrill::net::Group. All
// Send/Receive calls are blocking; every host in the Group must issue
// the same sequence of calls in the same order.
type Group interface {
	MyRank() int
	NumHosts() int
	Connection(rank int) Connection

	// SendTo serializes value and sends it to rank, blocking until
	// the send completes.
	SendTo(ctx context.Context, rank int, value interface{}) error
	// ReceiveFrom blocks until a value has been received from rank,
	// decodes it into dst (a pointer), and returns.
	ReceiveFrom(ctx context.Context, rank int, dst interface{}) error
}
