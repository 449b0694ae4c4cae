// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package core

import (
	"context"
	"testing"

	"github.com/IMCG/thrill/data"
)

type kvPair struct {
	Key   int64
	Value int64
}

func newWriters(n int, pool *data.Pool) ([]*data.BlockWriter, []*data.File) {
	files := make([]*data.File, n)
	writers := make([]*data.BlockWriter, n)
	for i := range files {
		files[i] = data.NewFile(pool)
		writers[i] = files[i].Writer()
	}
	return writers, files
}

func readEntries(t *testing.T, f *data.File) []Entry[int64, int64] {
	t.Helper()
	ctx := context.Background()
	r := f.KeepReader()
	defer r.Close()
	var out []Entry[int64, int64]
	for {
		has, err := r.HasNext(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !has {
			break
		}
		e, err := data.Next[Entry[int64, int64]](ctx, r)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, e)
	}
	return out
}

func TestPreReduceTwoPartitions(t *testing.T) {
	ctx := context.Background()
	pool := data.NewPool(4096)
	writers, files := newWriters(2, pool)

	tbl, err := NewTable(Config[int64, int64]{
		Partitions:       2,
		InitialSlots:     8,
		ResizeMultiplier: 2,
		MaxFillRatio:     0.9,
		Layout:           Chained,
		KeyExtractor:     func(v int64) int64 { return v % 10 },
		Reduce:           func(a, b int64) int64 { return a + b },
		Writers:          writers,
	})
	if err != nil {
		t.Fatal(err)
	}

	// 5 keys (0..4), each seen 4 times: every key's reduced value
	// should equal 4 * key.
	for rep := 0; rep < 4; rep++ {
		for k := int64(0); k < 5; k++ {
			if err := tbl.Insert(ctx, k); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tbl.CloseEmitters(ctx); err != nil {
		t.Fatal(err)
	}

	got := map[int64]int64{}
	for _, f := range files {
		for _, e := range readEntries(t, f) {
			got[e.Key] = e.Value
		}
	}
	if len(got) != 5 {
		t.Fatalf("got %d distinct keys, want 5", len(got))
	}
	for k := int64(0); k < 5; k++ {
		if got[k] != 4*k {
			t.Fatalf("key %d: got %d, want %d", k, got[k], 4*k)
		}
	}
}

func TestPreReduceManyKeysTriggersResize(t *testing.T) {
	ctx := context.Background()
	pool := data.NewPool(4096)
	writers, files := newWriters(1, pool)

	tbl, err := NewTable(Config[int64, int64]{
		Partitions:       1,
		InitialSlots:     4,
		ResizeMultiplier: 2,
		MaxFillRatio:     0.75,
		Layout:           Chained,
		KeyExtractor:     func(v int64) int64 { return v },
		Reduce:           func(a, b int64) int64 { return a + b },
		Writers:          writers,
	})
	if err != nil {
		t.Fatal(err)
	}

	const n = 100
	for k := int64(0); k < n; k++ {
		if err := tbl.Insert(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	if tbl.SlotsPerPartition() <= 4 {
		t.Fatalf("expected the table to have resized beyond its initial 4 slots, got %d", tbl.SlotsPerPartition())
	}
	if err := tbl.CloseEmitters(ctx); err != nil {
		t.Fatal(err)
	}

	entries := readEntries(t, files[0])
	if len(entries) != n {
		t.Fatalf("got %d entries, want %d", len(entries), n)
	}
	seen := map[int64]bool{}
	for _, e := range entries {
		if e.Value != e.Key {
			t.Fatalf("key %d: value %d != key (each key inserted once)", e.Key, e.Value)
		}
		seen[e.Key] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct keys, want %d", len(seen), n)
	}
}

func TestPreReduceResizePreservesPartitionAssignment(t *testing.T) {
	ctx := context.Background()
	pool := data.NewPool(4096)
	const partitions = 4
	writers, files := newWriters(partitions, pool)

	tbl, err := NewTable(Config[int64, int64]{
		Partitions:       partitions,
		InitialSlots:     2,
		ResizeMultiplier: 2,
		MaxFillRatio:     1, // only MaxChainLen-driven resizes in this test
		MaxChainLen:      1,
		Layout:           Chained,
		KeyExtractor:     func(v int64) int64 { return v },
		Reduce:           func(a, b int64) int64 { return b },
		Writers:          writers,
	})
	if err != nil {
		t.Fatal(err)
	}

	partitionOf := func(k int64) int {
		h := DefaultHash(k)
		return int(h % uint64(partitions))
	}

	before := map[int64]int{}
	for k := int64(0); k < 64; k++ {
		before[k] = partitionOf(k)
	}

	for k := int64(0); k < 64; k++ {
		if err := tbl.Insert(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	if tbl.SlotsPerPartition() <= 2 {
		t.Fatal("expected chain-length pressure to have resized the table")
	}

	if err := tbl.CloseEmitters(ctx); err != nil {
		t.Fatal(err)
	}
	for p, f := range files {
		for _, e := range readEntries(t, f) {
			if before[e.Key] != p {
				t.Fatalf("partition assignment for key %d changed across resize: was %d, now %d", e.Key, before[e.Key], p)
			}
		}
	}
}

func TestPreReduceLinearProbing(t *testing.T) {
	ctx := context.Background()
	pool := data.NewPool(4096)
	writers, files := newWriters(1, pool)

	tbl, err := NewTable(Config[int64, int64]{
		Partitions:       1,
		InitialSlots:     4,
		ResizeMultiplier: 2,
		MaxFillRatio:     0.75,
		Layout:           LinearProbing,
		KeyExtractor:     func(v int64) int64 { return v },
		Reduce:           func(a, b int64) int64 { return a + b },
		Writers:          writers,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		for k := int64(0); k < 10; k++ {
			if err := tbl.Insert(ctx, k); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tbl.CloseEmitters(ctx); err != nil {
		t.Fatal(err)
	}
	entries := readEntries(t, files[0])
	if len(entries) != 10 {
		t.Fatalf("got %d entries, want 10", len(entries))
	}
	for _, e := range entries {
		if e.Value != 3*e.Key {
			t.Fatalf("key %d: got %d, want %d", e.Key, e.Value, 3*e.Key)
		}
	}
}

func TestNewTableWithTotalSlotsRejectsIndivisible(t *testing.T) {
	writers, _ := newWriters(3, data.NewPool(4096))
	_, err := NewTableWithTotalSlots(10, Config[int64, int64]{
		Partitions:       3,
		ResizeMultiplier: 2,
		MaxFillRatio:     0.9,
		KeyExtractor:     func(v int64) int64 { return v },
		Reduce:           func(a, b int64) int64 { return a + b },
		Writers:          writers,
	})
	if err == nil {
		t.Fatal("expected InvalidConfig for a total slot count not divisible by partitions")
	}
}
