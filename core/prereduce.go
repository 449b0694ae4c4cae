// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package core

import (
	"context"

	"github.com/IMCG/thrill/data"
	"github.com/IMCG/thrill/internal/kind"
	basedata "github.com/grailbio/base/data"
	"github.com/grailbio/base/log"
)

// Layout selects the pre-reduce table's slot layout. Both layouts
// have identical external behavior (spec.md §4.7).
type Layout int

const (
	// Chained stores collisions as a per-slot list.
	Chained Layout = iota
	// LinearProbing stores at most one entry per slot, advancing
	// within a partition on collision.
	LinearProbing
)

// Entry is the (key, value) pair emitted to a partition's writer on
// flush.
type Entry[K any, V any] struct {
	Key   K
	Value V
}

// Config configures a Table. Partitions, InitialSlots (B0),
// ResizeMultiplier (R), and MaxFillRatio must be set; MaxItems of
// zero disables the global spill trigger; MaxChainLen of zero
// disables the chained-layout resize trigger.
type Config[K comparable, V any] struct {
	Partitions       int
	InitialSlots     int
	ResizeMultiplier int
	MaxFillRatio     float64
	MaxItems         int
	MaxChainLen      int
	Layout           Layout

	KeyExtractor func(V) K
	Reduce       func(a, b V) V
	Hash         func(K) uint64

	// Writers receives the flushed Entry[K, V] values for each
	// partition; len(Writers) must equal Partitions.
	Writers []*data.BlockWriter
}

// maxResizeAttemptsPerInsert bounds how many times a single Insert
// call will resize the table chasing a chain under MaxChainLen,
// matching spec.md §4.7's documented fallback: beyond this, continue
// with an unbounded chain rather than resize forever.
const maxResizeAttemptsPerInsert = 8

type linSlot[K comparable, V any] struct {
	used  bool
	key   K
	value V
}

type kv[K comparable, V any] struct {
	key   K
	value V
}

type partition[K comparable, V any] struct {
	buckets [][]kv[K, V]   // Chained layout, len == slotsPerPartition
	slots   []linSlot[K, V] // LinearProbing layout, len == slotsPerPartition
	count   int
}

// Table is a partitioned hash table used to pre-reduce items by key
// before a shuffle, matching thrill::core::ReducePreTable. It is not
// safe for concurrent use.
type Table[K comparable, V any] struct {
	cfg               Config[K, V]
	slotsPerPartition int
	partitions        []*partition[K, V]
	total             int
}

// NewTable constructs a Table from cfg, with cfg.InitialSlots used
// directly as the per-partition slot count.
func NewTable[K comparable, V any](cfg Config[K, V]) (*Table[K, V], error) {
	if cfg.Partitions <= 0 || cfg.InitialSlots <= 0 {
		return nil, kind.InvalidConfig("partitions and initial slots must be positive")
	}
	if len(cfg.Writers) != cfg.Partitions {
		return nil, kind.InvalidConfig("writers must have one entry per partition")
	}
	if cfg.ResizeMultiplier <= 1 {
		return nil, kind.InvalidConfig("resize multiplier must exceed 1")
	}
	if cfg.MaxFillRatio <= 0 || cfg.MaxFillRatio > 1 {
		return nil, kind.InvalidConfig("max fill ratio must be in (0, 1]")
	}
	if cfg.KeyExtractor == nil || cfg.Reduce == nil {
		return nil, kind.InvalidConfig("key extractor and reduce function are required")
	}
	if cfg.Hash == nil {
		cfg.Hash = DefaultHash[K]
	}
	t := &Table[K, V]{cfg: cfg, slotsPerPartition: cfg.InitialSlots}
	t.partitions = make([]*partition[K, V], cfg.Partitions)
	for i := range t.partitions {
		t.partitions[i] = t.newPartition()
	}
	return t, nil
}

// NewTableWithTotalSlots is a convenience constructor matching
// spec.md §4.7's stated failure mode directly: it fails with
// InvalidConfig if partitions does not evenly divide totalSlots,
// rather than silently rounding.
func NewTableWithTotalSlots[K comparable, V any](totalSlots int, cfg Config[K, V]) (*Table[K, V], error) {
	if cfg.Partitions <= 0 || totalSlots%cfg.Partitions != 0 {
		return nil, kind.InvalidConfig("partitions must evenly divide total slot count")
	}
	cfg.InitialSlots = totalSlots / cfg.Partitions
	return NewTable(cfg)
}

func (t *Table[K, V]) newPartition() *partition[K, V] {
	p := &partition[K, V]{}
	switch t.cfg.Layout {
	case Chained:
		p.buckets = make([][]kv[K, V], t.slotsPerPartition)
	case LinearProbing:
		p.slots = make([]linSlot[K, V], t.slotsPerPartition)
	}
	return p
}

// partitionAndOffset computes (partition, offset) from key's hash,
// splitting hash(key) into a partition id that depends only on the
// key (so it survives resize) and an offset within that partition
// that depends on the current slot count.
func (t *Table[K, V]) partitionAndOffset(k K) (int, int) {
	h := t.cfg.Hash(k)
	p := int(h % uint64(t.cfg.Partitions))
	offset := int((h / uint64(t.cfg.Partitions)) % uint64(t.slotsPerPartition))
	return p, offset
}

// Insert merges item into the table, combining with any existing
// value for the same key via Reduce. It runs the post-insert checks
// from spec.md §4.7 in order: global spill, then per-partition
// resize.
func (t *Table[K, V]) Insert(ctx context.Context, item V) error {
	k := t.cfg.KeyExtractor(item)
	p, offset := t.partitionAndOffset(k)
	part := t.partitions[p]

	switch t.cfg.Layout {
	case Chained:
		before := part.count
		t.insertChained(part, offset, k, item)
		if part.count > before {
			t.total++
		}
		for attempt := 0; t.cfg.MaxChainLen > 0 && len(part.buckets[offset]) > t.cfg.MaxChainLen; attempt++ {
			if attempt >= maxResizeAttemptsPerInsert {
				log.Error.Printf("core: chain length still exceeds %d after %d resizes; continuing with unbounded chain", t.cfg.MaxChainLen, attempt)
				break
			}
			if err := t.resizeUp(ctx); err != nil {
				return err
			}
			p, offset = t.partitionAndOffset(k)
			part = t.partitions[p]
		}
	case LinearProbing:
		before := part.count
		if !t.insertLinear(part, offset, k, item) {
			if err := t.resizeUp(ctx); err != nil {
				return err
			}
			// Key was not yet stored: resize and retry once against
			// the new, larger layout.
			p, offset = t.partitionAndOffset(k)
			part = t.partitions[p]
			if !t.insertLinear(part, offset, k, item) {
				return kind.InvalidConfig("linear probing partition full after resize")
			}
			t.total++
		} else if part.count > before {
			t.total++
		}
	}

	if t.cfg.MaxItems > 0 && t.total > t.cfg.MaxItems {
		if err := t.flushLargestPartition(ctx); err != nil {
			return err
		}
	}
	if float64(part.count)/float64(t.slotsPerPartition) > t.cfg.MaxFillRatio {
		if err := t.resizeUp(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[K, V]) insertChained(part *partition[K, V], offset int, k K, item V) {
	chain := part.buckets[offset]
	for i := range chain {
		if chain[i].key == k {
			chain[i].value = t.cfg.Reduce(chain[i].value, item)
			return
		}
	}
	part.buckets[offset] = append(chain, kv[K, V]{key: k, value: item})
	part.count++
}

// insertLinear returns false if the probe wrapped all the way around
// the partition without finding a free or matching slot, signaling
// the caller to resize and retry.
func (t *Table[K, V]) insertLinear(part *partition[K, V], offset int, k K, item V) bool {
	b := t.slotsPerPartition
	for i := 0; i < b; i++ {
		idx := (offset + i) % b
		slot := &part.slots[idx]
		if !slot.used {
			slot.used = true
			slot.key = k
			slot.value = item
			part.count++
			return true
		}
		if slot.key == k {
			slot.value = t.cfg.Reduce(slot.value, item)
			return true
		}
	}
	return false
}

// FlushPartition emits every (key, value) in partition p, in layout
// order, to Writers[p], then clears the partition and subtracts its
// count from the running total.
func (t *Table[K, V]) FlushPartition(ctx context.Context, p int) error {
	part := t.partitions[p]
	w := t.cfg.Writers[p]
	flushed := part.count
	switch t.cfg.Layout {
	case Chained:
		for i, chain := range part.buckets {
			for _, e := range chain {
				if err := data.Append(ctx, w, Entry[K, V]{Key: e.key, Value: e.value}); err != nil {
					return err
				}
			}
			part.buckets[i] = nil
		}
	case LinearProbing:
		for i := range part.slots {
			if !part.slots[i].used {
				continue
			}
			e := part.slots[i]
			if err := data.Append(ctx, w, Entry[K, V]{Key: e.key, Value: e.value}); err != nil {
				return err
			}
			part.slots[i] = linSlot[K, V]{}
		}
	}
	t.total -= part.count
	part.count = 0
	if flushed > 0 {
		if data.IsFixedSize[Entry[K, V]]() {
			log.Debug.Printf("core: flushed partition %d: %d items (%s)", p, flushed, basedata.Size(int64(flushed*data.FixedSize[Entry[K, V]]())))
		} else {
			log.Debug.Printf("core: flushed partition %d: %d items", p, flushed)
		}
	}
	return nil
}

// FlushAll flushes every partition in index order.
func (t *Table[K, V]) FlushAll(ctx context.Context) error {
	for p := range t.partitions {
		if err := t.FlushPartition(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// flushLargestPartition flushes the partition with the maximum item
// count, breaking ties by smallest index.
func (t *Table[K, V]) flushLargestPartition(ctx context.Context) error {
	largest := 0
	for i, p := range t.partitions {
		if p.count > t.partitions[largest].count {
			largest = i
		}
	}
	return t.FlushPartition(ctx, largest)
}

// resizeUp multiplies the per-partition slot count by
// ResizeMultiplier and re-inserts every live entry. Partition
// assignment is unaffected, since it is a function of the key alone
// (see partitionAndOffset); only intra-partition position changes.
func (t *Table[K, V]) resizeUp(ctx context.Context) error {
	old := t.partitions
	oldSlots := t.slotsPerPartition
	t.slotsPerPartition *= t.cfg.ResizeMultiplier
	log.Debug.Printf("core: resizing pre-reduce table from %d to %d slots per partition", oldSlots, t.slotsPerPartition)

	t.partitions = make([]*partition[K, V], t.cfg.Partitions)
	for i := range t.partitions {
		t.partitions[i] = t.newPartition()
	}
	t.total = 0
	for _, part := range old {
		switch t.cfg.Layout {
		case Chained:
			for _, chain := range part.buckets {
				for _, e := range chain {
					if err := t.reinsert(e.key, e.value); err != nil {
						return err
					}
				}
			}
		case LinearProbing:
			for _, slot := range part.slots {
				if !slot.used {
					continue
				}
				if err := t.reinsert(slot.key, slot.value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// reinsert re-adds an already-deduplicated entry during resize,
// without the MaxItems/MaxFillRatio post-insert checks (those are
// evaluated against the new layout only after resize completes).
func (t *Table[K, V]) reinsert(k K, v V) error {
	p, offset := t.partitionAndOffset(k)
	part := t.partitions[p]
	switch t.cfg.Layout {
	case Chained:
		part.buckets[offset] = append(part.buckets[offset], kv[K, V]{key: k, value: v})
		part.count++
	case LinearProbing:
		if !t.insertLinear(part, offset, k, v) {
			return kind.InvalidConfig("partition still full immediately after resize")
		}
	}
	t.total++
	return nil
}

// CloseEmitters flushes every partition, then closes each writer.
func (t *Table[K, V]) CloseEmitters(ctx context.Context) error {
	if err := t.FlushAll(ctx); err != nil {
		return err
	}
	for _, w := range t.cfg.Writers {
		if err := w.Close(ctx); err != nil {
			return err
		}
	}
	return nil
}

// NumItems returns the total number of live items across all
// partitions.
func (t *Table[K, V]) NumItems() int { return t.total }

// SlotsPerPartition returns the current per-partition slot count,
// exposed for tests verifying resize behavior.
func (t *Table[K, V]) SlotsPerPartition() int { return t.slotsPerPartition }
