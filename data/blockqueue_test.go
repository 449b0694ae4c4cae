// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"testing"
	"time"
)

func TestBlockQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewBlockQueue()
	pool := NewPool(64)

	w := NewBlockWriter(pool, q)
	want := []int64{1, 2, 3, 4, 5}
	for _, v := range want {
		if err := Append(ctx, w, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	r := NewBlockReader(q.Source())
	defer r.Close()
	for i, v := range want {
		got, err := Next[int64](ctx, r)
		if err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
		if got != v {
			t.Fatalf("item %d: got %d, want %d", i, got, v)
		}
	}
	if has, err := r.HasNext(ctx); err != nil || has {
		t.Fatalf("HasNext after draining: %v, %v", has, err)
	}
}

func TestBlockQueuePopBlocksUntilClose(t *testing.T) {
	q := NewBlockQueue()
	done := make(chan Block, 1)
	go func() {
		b, err := q.Pop(context.Background())
		if err != nil {
			t.Error(err)
		}
		done <- b
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before queue had any Block or was closed")
	case <-time.After(20 * time.Millisecond):
	}

	if err := q.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case b := <-done:
		if !b.IsEmpty() {
			t.Fatal("expected empty sentinel Block after close")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Close")
	}
}

func TestBlockQueueWaitClosed(t *testing.T) {
	q := NewBlockQueue()
	done := make(chan error, 1)
	go func() { done <- q.WaitClosed(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitClosed returned before the queue was closed")
	case <-time.After(20 * time.Millisecond):
	}

	if err := q.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitClosed did not return after Close")
	}
}

func TestBlockQueueDoubleCloseFails(t *testing.T) {
	q := NewBlockQueue()
	ctx := context.Background()
	if err := q.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(ctx); err == nil {
		t.Fatal("expected error on double close")
	}
	if err := q.AppendBlock(ctx, Block{}); err == nil {
		t.Fatal("expected error appending after close")
	}
}

func TestCachingBlockQueueReplay(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(64)
	q := NewCachingBlockQueue(pool)

	w := NewBlockWriter(pool, q)
	want := []int64{10, 20, 30}
	for _, v := range want {
		if err := Append(ctx, w, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	r := NewBlockReader(q.CachingSource())
	defer r.Close()
	for i, v := range want {
		got, err := Next[int64](ctx, r)
		if err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
		if got != v {
			t.Fatalf("item %d: got %d, want %d", i, got, v)
		}
	}
}
