// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec_test

import (
	"context"
	"testing"

	"github.com/IMCG/thrill/data"
	"github.com/IMCG/thrill/exec"
	"github.com/IMCG/thrill/net/nettest"
)

// TestContextChannelAcrossHosts exercises a Context's Channel wiring
// end to end: host 0 scatters a File across two destinations — its
// own local worker and a single remote worker on host 1 — and host 1
// observes the remote share, plus the sender's end-of-stream
// sentinel, through its own Context and Multiplexer.
func TestContextChannelAcrossHosts(t *testing.T) {
	ctxBg := context.Background()
	const hosts = 2
	groups := nettest.NewGroups(hosts)
	disp := &nettest.Dispatcher{}

	pool0 := data.NewPool(64)
	pool1 := data.NewPool(64)
	mux0 := data.NewMultiplexer(groups[0], disp, 1)
	mux1 := data.NewMultiplexer(groups[1], disp, 1)

	c0 := exec.NewContext(0, groups[0], pool0, mux0)
	c1 := exec.NewContext(0, groups[1], pool1, mux1)

	ch0 := c0.NewChannel()
	ch1 := c1.NewChannel()
	if c0.Channel(0) != ch0 || c1.Channel(0) != ch1 {
		t.Fatal("expected both channels to allocate under the same id")
	}

	f := data.NewFile(pool0)
	w := f.Writer()
	const n = 20
	for i := 0; i < n; i++ {
		if err := data.Append(ctxBg, w, int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(ctxBg); err != nil {
		t.Fatal(err)
	}

	conn := groups[0].Connection(1)
	remoteSink := data.NewChannelSink(conn, 0 /*channel id*/, 0 /*sender host rank*/, 0 /*receiver local worker*/, 0 /*sender local worker*/, data.KindChannelBlock)
	writers := ch0.OpenWriters(pool0.BlockSize(), []data.BlockSink{nil, remoteSink})

	offsets := []int{12, n} // items [0,12) stay local, [12,20) go to host 1
	if err := data.Scatter[int64](ctxBg, f, offsets, writers); err != nil {
		t.Fatal(err)
	}

	localReader := data.NewBlockReader(ch0.Inbound(0).Source())
	defer localReader.Close()
	for i := 0; i < 12; i++ {
		got, err := data.Next[int64](ctxBg, localReader)
		if err != nil {
			t.Fatalf("local item %d: %v", i, err)
		}
		if got != int64(i) {
			t.Fatalf("local item %d: got %d, want %d", i, got, i)
		}
	}

	remoteReader := data.NewBlockReader(c1.Channel(0).Inbound(0).Source())
	defer remoteReader.Close()
	for i := 12; i < n; i++ {
		got, err := data.Next[int64](ctxBg, remoteReader)
		if err != nil {
			t.Fatalf("remote item %d: %v", i, err)
		}
		if got != int64(i) {
			t.Fatalf("remote item %d: got %d, want %d", i, got, i)
		}
	}
	if has, err := remoteReader.HasNext(ctxBg); err != nil || has {
		t.Fatalf("expected remote queue closed after sentinel, HasNext=%v err=%v", has, err)
	}
}
