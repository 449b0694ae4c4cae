// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"context"
	"strconv"
	"testing"
)

func writeStrings(t *testing.T, f *File, n int) []string {
	t.Helper()
	ctx := context.Background()
	w := f.Writer()
	want := make([]string, n)
	for i := 0; i < n; i++ {
		s := "item-" + strconv.Itoa(i)
		want[i] = s
		if err := Append(ctx, w, s); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return want
}

func TestFileStringRoundTrip(t *testing.T) {
	ctx := context.Background()
	// Small blocks force many Blocks per File, exercising item
	// continuation across Block boundaries.
	pool := NewPool(64)
	f := NewFile(pool)
	want := writeStrings(t, f, 500)

	if f.NumItems() != len(want) {
		t.Fatalf("NumItems() = %d, want %d", f.NumItems(), len(want))
	}
	if f.NumBlocks() < 2 {
		t.Fatalf("expected multiple Blocks with a 64-byte pool, got %d", f.NumBlocks())
	}

	r := f.KeepReader()
	defer r.Close()
	for i, w := range want {
		got, err := Next[string](ctx, r)
		if err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
		if got != w {
			t.Fatalf("item %d: got %q, want %q", i, got, w)
		}
	}
	if has, err := r.HasNext(ctx); err != nil || has {
		t.Fatalf("HasNext after last item: %v, %v", has, err)
	}
}

func TestFileItemAtAndIndexOf(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(64)
	f := NewFile(pool)
	w := f.Writer()
	const n = 300
	for i := 0; i < n; i++ {
		if err := Append(ctx, w, int64(i*2)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	for _, idx := range []int{0, 1, 137, n - 1} {
		got, err := ItemAt[int64](ctx, f, idx)
		if err != nil {
			t.Fatalf("ItemAt(%d): %v", idx, err)
		}
		if want := int64(idx * 2); got != want {
			t.Fatalf("ItemAt(%d) = %d, want %d", idx, got, want)
		}
	}

	idx, ok, err := IndexOf[int64](ctx, f, func(v int64) int {
		switch {
		case v < 274:
			return -1
		case v > 274:
			return 1
		default:
			return 0
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || idx != 137 {
		t.Fatalf("IndexOf(274) = (%d, %v), want (137, true)", idx, ok)
	}
}

func TestReaderAtSeeksMidFile(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(64)
	f := NewFile(pool)
	want := writeStrings(t, f, 200)

	for _, start := range []int{0, 5, 50, 199} {
		r, err := ReaderAt[string](ctx, f, start)
		if err != nil {
			t.Fatalf("ReaderAt(%d): %v", start, err)
		}
		got, err := Next[string](ctx, r)
		r.Close()
		if err != nil {
			t.Fatalf("Next after ReaderAt(%d): %v", start, err)
		}
		if got != want[start] {
			t.Fatalf("ReaderAt(%d) got %q, want %q", start, got, want[start])
		}
	}
}

func TestFileEmpty(t *testing.T) {
	pool := NewPool(64)
	f := NewFile(pool)
	if !f.Empty() {
		t.Fatal("new File should be Empty")
	}
	if f.NumItems() != 0 {
		t.Fatal("new File should have no items")
	}
}

func TestFileDoubleCloseFails(t *testing.T) {
	ctx := context.Background()
	f := NewFile(NewPool(64))
	if err := f.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(ctx); err == nil {
		t.Fatal("expected error on double close")
	}
	if err := f.AppendBlock(ctx, Block{}); err == nil {
		t.Fatal("expected error appending to closed File")
	}
}
