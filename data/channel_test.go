// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"testing"
)

// TestChannelScatter exercises a two-worker scatter without any
// transport: sinks for remote destinations are simply the peer
// Channel's inbound queue for this sender, which is exactly what a
// Multiplexer would deliver into once a StreamBlockHeader/payload
// round trip over the wire.
func TestChannelScatter(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(64)

	ch0 := NewChannel(1, 0, 2) // local worker 0's view of channel 1
	ch1 := NewChannel(1, 1, 2) // local worker 1's view of the same channel

	f := NewFile(pool)
	w := f.Writer()
	const n = 40
	for i := 0; i < n; i++ {
		if err := Append(ctx, w, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	// Destination 0 is local to ch0; destination 1's sink is ch1's
	// inbound queue for sender 0.
	sinks := []BlockSink{nil, ch1.Inbound(0)}
	writers := ch0.OpenWriters(pool.BlockSize(), sinks)

	offsets := []int{25, n} // items [0,25) to worker0, [25,40) to worker1
	if err := Scatter[int64](ctx, f, offsets, writers); err != nil {
		t.Fatal(err)
	}

	r0 := NewBlockReader(ch0.Inbound(0).Source())
	defer r0.Close()
	for i := 0; i < 25; i++ {
		got, err := Next[int64](ctx, r0)
		if err != nil {
			t.Fatalf("worker0 item %d: %v", i, err)
		}
		if got != int64(i) {
			t.Fatalf("worker0 item %d: got %d, want %d", i, got, i)
		}
	}

	r1 := NewBlockReader(ch1.Inbound(0).Source())
	defer r1.Close()
	for i := 25; i < n; i++ {
		got, err := Next[int64](ctx, r1)
		if err != nil {
			t.Fatalf("worker1 item %d: %v", i, err)
		}
		if got != int64(i) {
			t.Fatalf("worker1 item %d: got %d, want %d", i, got, i)
		}
	}
}

func TestChannelWaitAllClosedAfterScatter(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(64)
	ch := NewChannel(2, 0, 1)

	f := NewFile(pool)
	w := f.Writer()
	if err := Append(ctx, w, int64(7)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	writers := ch.OpenWriters(pool.BlockSize(), []BlockSink{nil})
	if err := Scatter[int64](ctx, f, []int{1}, writers); err != nil {
		t.Fatal(err)
	}

	if err := ch.WaitAllClosed(ctx); err != nil {
		t.Fatalf("WaitAllClosed should return immediately once Scatter closed every writer: %v", err)
	}
}
