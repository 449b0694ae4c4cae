// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	"github.com/IMCG/thrill/data"
	"github.com/IMCG/thrill/internal/kind"
	"github.com/IMCG/thrill/net"
	"github.com/grailbio/bigmachine"
)

func init() {
	gob.Register(&netWorker{})
}

// DeliverRequest carries one Group.SendTo's serialized value. GroupID
// disambiguates concurrent net.Group instances sharing the same
// machine set (e.g. a collective running while a Channel drains);
// SenderRank addresses the receiver's per-peer inbox.
type DeliverRequest struct {
	GroupID    uint64
	SenderRank int
	Payload    []byte
}

// netWorker is the bigmachine service registered on every machine
// under the name "Net", matching the teacher's own single
// process-wide RPC service registered under "Worker"
// (bigmachine.go's bigmachine.Services{"Worker": &worker{}}).
// Deliver is invoked by a peer's BigmachineGroup.SendTo and routes
// the payload into the addressed group's per-sender inbox.
type netWorker struct {
	// Exported satisfies gob's requirement that a registered type
	// have at least one exported field, as in the teacher's worker.
	Exported struct{}

	mu     sync.Mutex
	groups map[uint64]*BigmachineGroup
}

// Init implements bigmachine.Service.
func (w *netWorker) Init(b *bigmachine.B) error {
	w.groups = make(map[uint64]*BigmachineGroup)
	return nil
}

// Deliver implements the "Net.Deliver" RPC method.
func (w *netWorker) Deliver(ctx context.Context, req DeliverRequest, _ *struct{}) error {
	w.mu.Lock()
	g, ok := w.groups[req.GroupID]
	w.mu.Unlock()
	if !ok {
		return kind.TransportFatal("delivery for unregistered group", req.GroupID)
	}
	g.deliver(req.SenderRank, req.Payload)
	return nil
}

func (w *netWorker) register(g *BigmachineGroup) {
	w.mu.Lock()
	w.groups[g.id] = g
	w.mu.Unlock()
}

// BigmachineGroup implements net.Group over a fixed set of
// bigmachine.Machines, using Machine.RetryCall to invoke the
// netWorker service's Deliver method on the peer addressed by each
// SendTo — the one concrete Group this module ships, since socket
// plumbing and the dispatch loop themselves are out of scope
// (spec.md §1 Non-goals; SPEC_FULL.md §6).
type BigmachineGroup struct {
	id       uint64
	rank     int
	machines []*bigmachine.Machine // indexed by rank
	worker   *netWorker

	inbox []chan []byte // one per peer rank
}

// NewBigmachineGroup returns a Group of rank among len(machines)
// peers, registering itself with worker so inbound Deliver RPCs
// addressed to id are routed here. id must be agreed by every peer
// out of band (e.g. derived the same way every rank numbers its
// collectives).
func NewBigmachineGroup(id uint64, rank int, machines []*bigmachine.Machine, worker *netWorker) *BigmachineGroup {
	g := &BigmachineGroup{id: id, rank: rank, machines: machines, worker: worker}
	g.inbox = make([]chan []byte, len(machines))
	for i := range g.inbox {
		g.inbox[i] = make(chan []byte, 64)
	}
	worker.register(g)
	return g
}

func (g *BigmachineGroup) MyRank() int   { return g.rank }
func (g *BigmachineGroup) NumHosts() int { return len(g.machines) }

// Connection returns a byte-oriented net.Connection to rank, backed
// by the same Deliver RPC, for consumers (the Multiplexer) that need
// SyncSend/SyncRecv framing rather than typed SendTo/ReceiveFrom.
func (g *BigmachineGroup) Connection(rank int) net.Connection {
	return &machineConnection{group: g, rank: rank}
}

// SendTo implements net.Group.
func (g *BigmachineGroup) SendTo(ctx context.Context, rank int, value interface{}) error {
	var buf bytes.Buffer
	if err := data.SerializeValue(&buf, value); err != nil {
		return err
	}
	req := DeliverRequest{GroupID: g.id, SenderRank: g.rank, Payload: buf.Bytes()}
	return g.machines[rank].RetryCall(ctx, "Net.Deliver", req, nil)
}

// ReceiveFrom implements net.Group.
func (g *BigmachineGroup) ReceiveFrom(ctx context.Context, rank int, dst interface{}) error {
	select {
	case p := <-g.inbox[rank]:
		return data.DeserializeValue(bytes.NewReader(p), dst)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *BigmachineGroup) deliver(senderRank int, payload []byte) {
	g.inbox[senderRank] <- payload
}

type machineConnection struct {
	group *BigmachineGroup
	rank  int
}

func (c *machineConnection) SyncSend(ctx context.Context, p []byte) error {
	req := DeliverRequest{
		GroupID:    c.group.id,
		SenderRank: c.group.rank,
		Payload:    append([]byte(nil), p...),
	}
	return c.group.machines[c.rank].RetryCall(ctx, "Net.Deliver", req, nil)
}

func (c *machineConnection) SyncRecv(ctx context.Context, p []byte) error {
	select {
	case buf := <-c.group.inbox[c.rank]:
		if len(buf) != len(p) {
			return kind.TransportFatal("short read: wanted ", len(p), " got ", len(buf))
		}
		copy(p, buf)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
