// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"bytes"
	"context"

	"github.com/IMCG/thrill/net"
	"github.com/grailbio/base/log"
)

// A Multiplexer holds, per host, one connection to each other host
// (via an external net.Group) and demultiplexes inbound Blocks onto
// the right Channel and local-worker inbound queue. It matches
// thrill::data::Multiplexer, except that the socket plumbing and the
// dispatcher's event loop themselves are supplied by the caller
// (spec.md §1 Non-goals) via net.Group/net.Dispatcher.
type Multiplexer struct {
	group             net.Group
	dispatcher        net.Dispatcher
	numWorkersPerHost int
	channels          *Repository[*Channel]
}

// NewMultiplexer returns a Multiplexer for a host with
// numWorkersPerHost local workers, reading headers from every other
// host in group via dispatcher. It immediately arms a header read on
// every peer connection.
func NewMultiplexer(group net.Group, dispatcher net.Dispatcher, numWorkersPerHost int) *Multiplexer {
	m := &Multiplexer{
		group:             group,
		dispatcher:        dispatcher,
		numWorkersPerHost: numWorkersPerHost,
		channels:          NewRepository[*Channel](numWorkersPerHost),
	}
	for host := 0; host < group.NumHosts(); host++ {
		if host == group.MyRank() {
			continue
		}
		m.armHeaderRead(host)
	}
	return m
}

// NumWorkers returns the total number of workers across all hosts.
func (m *Multiplexer) NumWorkers() int { return m.group.NumHosts() * m.numWorkersPerHost }

// workerID maps (host rank, local worker) to a single global worker
// id, since Channel.inbound is indexed across every worker on every
// host, not just the hosts in net.Group.
func (m *Multiplexer) workerID(host, localWorker int) int {
	return host*m.numWorkersPerHost + localWorker
}

// AllocateChannelID returns the next deterministic channel id for
// localWorker, via the shared Repository.
func (m *Multiplexer) AllocateChannelID(localWorker int) ObjectID {
	return m.channels.AllocateID(localWorker)
}

// GetOrCreateChannel returns the Channel registered under id for
// localWorker, creating it (with NumWorkers() inbound queues) if this
// is the first reference.
func (m *Multiplexer) GetOrCreateChannel(id ObjectID, localWorker int) *Channel {
	return m.channels.GetOrCreate(id, func() *Channel {
		return NewChannel(id, localWorker, m.NumWorkers())
	})
}

func (m *Multiplexer) armHeaderRead(host int) {
	conn := m.group.Connection(host)
	m.dispatcher.AsyncRead(conn, headerWireSize, func(buf []byte, err error) {
		if err != nil {
			log.Error.Printf("data: multiplexer: header read from host %d failed: %v", host, err)
			return
		}
		h, err := ReadStreamBlockHeader(bytes.NewReader(buf))
		if err != nil {
			log.Error.Printf("data: multiplexer: malformed header from host %d: %v", host, err)
			return
		}
		m.handleHeader(conn, host, h)
	})
}

func (m *Multiplexer) handleHeader(conn net.Connection, senderHost int, h StreamBlockHeader) {
	ch := m.GetOrCreateChannel(h.ChannelID, h.ReceiverWorker)
	sender := m.workerID(senderHost, h.SenderWorker)

	if h.IsEnd() {
		if err := ch.Inbound(sender).Close(context.Background()); err != nil {
			log.Error.Printf("data: multiplexer: closing inbound queue: %v", err)
		}
		m.armHeaderRead(senderHost)
		return
	}

	m.dispatcher.AsyncRead(conn, int(h.Bytes), func(payload []byte, err error) {
		if err != nil {
			log.Error.Printf("data: multiplexer: payload read from host %d failed: %v", senderHost, err)
			return
		}
		bb := NewByteBlockFromBytes(payload)
		b := MakeBlock(bb, 0, len(payload), int(h.FirstItem), int(h.NumItems))
		if err := ch.Inbound(sender).AppendBlock(context.Background(), b); err != nil {
			log.Error.Printf("data: multiplexer: enqueuing inbound block: %v", err)
		}
		m.armHeaderRead(senderHost)
	})
}
