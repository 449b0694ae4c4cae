// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package data

import "sync"

// An ObjectID addresses an object shared among the workers of a
// host, matching c7a::data::Repository::Id.
type ObjectID uint64

// A Repository holds objects shared among the local workers of a
// host. Each local worker allocates ids from its own deterministic
// counter via AllocateID, so that every worker that executes the same
// sequence of Allocate/GetOrCreate calls arrives at identical id
// assignments — required for peers to agree on channel ids without
// any handshake.
type Repository[T any] struct {
	mu     sync.Mutex
	nextID []ObjectID // one counter per local worker
	byID   map[ObjectID]T
}

// NewRepository returns a Repository with numLocalWorkers independent
// id counters, each starting at zero.
func NewRepository[T any](numLocalWorkers int) *Repository[T] {
	return &Repository[T]{
		nextID: make([]ObjectID, numLocalWorkers),
		byID:   make(map[ObjectID]T),
	}
}

// AllocateID returns the next id for localWorker and advances its
// counter. Calls must happen in the same order on every peer.
func (r *Repository[T]) AllocateID(localWorker int) ObjectID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID[localWorker]
	r.nextID[localWorker]++
	return id
}

// GetOrCreate returns the object already registered under id, or
// calls new_ to construct and register one if none exists yet.
func (r *Repository[T]) GetOrCreate(id ObjectID, new_ func() T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.byID[id]; ok {
		return v
	}
	v := new_()
	r.byID[id] = v
	return v
}

// Get returns the object registered under id, if any.
func (r *Repository[T]) Get(id ObjectID) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	return v, ok
}

// Delete removes the object registered under id, e.g. once a Channel
// has been fully drained and closed on all sides.
func (r *Repository[T]) Delete(id ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}
