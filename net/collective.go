// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package net

import "context"

// PrefixSum computes, for every host, the aggregation of op over the
// values of all hosts with lesser rank (including itself when
// inclusive is true), using the pointer-doubling algorithm from
// thrill::net::collective::PrefixSum. With inclusive false, rank 0
// gets the zero value of T. op is required to be associative, not
// commutative: the received operand is always placed to the left.
func PrefixSum[T any](ctx context.Context, g Group, value T, op func(a, b T) T, inclusive bool) (T, error) {
	rank, hosts := g.MyRank(), g.NumHosts()
	toForward := value
	first := true

	for d := 1; d < hosts; d <<= 1 {
		if rank+d < hosts {
			if err := g.SendTo(ctx, rank+d, toForward); err != nil {
				return value, err
			}
		}
		if rank >= d {
			var recv T
			if err := g.ReceiveFrom(ctx, rank-d, &recv); err != nil {
				return value, err
			}
			toForward = op(recv, toForward)
			if !first || inclusive {
				value = op(recv, value)
			} else {
				value = recv
				first = false
			}
		}
	}
	if !inclusive && rank == 0 {
		var zero T
		value = zero
	}
	return value, nil
}

// PrefixSumHypercube is PrefixSum restricted to NumHosts a power of
// two, exchanging the running total directly across each hypercube
// dimension instead of pointer-doubling, matching
// thrill::net::collective::PrefixSumHypercube.
func PrefixSumHypercube[T any](ctx context.Context, g Group, value T, op func(a, b T) T) (T, error) {
	rank, hosts := g.MyRank(), g.NumHosts()
	totalSum := value

	for d := 1; d < hosts; d <<= 1 {
		peer := rank ^ d
		if peer >= hosts {
			continue
		}
		if err := g.SendTo(ctx, peer, totalSum); err != nil {
			return value, err
		}
		var recv T
		if err := g.ReceiveFrom(ctx, peer, &recv); err != nil {
			return value, err
		}
		if rank&d != 0 {
			totalSum = op(recv, totalSum)
			value = op(recv, value)
		} else {
			totalSum = op(totalSum, recv)
		}
	}
	return value, nil
}

// BroadcastTrivial sends value from rank 0 directly to every other
// rank, with no tree structure. Kept alongside the binomial-tree
// Broadcast as a baseline for tests and for groups small enough that
// tree fan-out adds nothing.
func BroadcastTrivial[T any](ctx context.Context, g Group, value T) (T, error) {
	rank, hosts := g.MyRank(), g.NumHosts()
	if rank == 0 {
		for p := 1; p < hosts; p++ {
			if err := g.SendTo(ctx, p, value); err != nil {
				return value, err
			}
		}
		return value, nil
	}
	if err := g.ReceiveFrom(ctx, 0, &value); err != nil {
		return value, err
	}
	return value, nil
}

// roundUpToPowerOfTwo returns the smallest power of two >= n.
func roundUpToPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// BroadcastBinomialTree sends value from rank 0 to every other rank
// via a binomial tree in ceil(log2(P)) rounds, matching
// thrill::net::collective::BroadcastBinomialTree.
func BroadcastBinomialTree[T any](ctx context.Context, g Group, value T) (T, error) {
	rank, hosts := g.MyRank(), g.NumHosts()
	r, d := 0, 1

	if rank > 0 {
		for rank&d == 0 {
			d <<= 1
			r++
		}
		from := rank ^ d
		if err := g.ReceiveFrom(ctx, from, &value); err != nil {
			return value, err
		}
	} else {
		d = roundUpToPowerOfTwo(hosts)
	}

	for d >>= 1; d > 0; d, r = d>>1, r+1 {
		if rank+d < hosts {
			if err := g.SendTo(ctx, rank+d, value); err != nil {
				return value, err
			}
		}
	}
	return value, nil
}

// Broadcast sends value from rank 0 to every other rank. It is
// BroadcastBinomialTree, the default per
// thrill::net::collective::Broadcast.
func Broadcast[T any](ctx context.Context, g Group, value T) (T, error) {
	return BroadcastBinomialTree(ctx, g, value)
}

// ReduceToRoot aggregates value from every host onto rank 0 via op,
// matching thrill::net::collective::ReduceToRoot. Every non-root rank
// eventually sends once and goes inactive; the returned bool is true
// only for rank 0, where the result is meaningful.
func ReduceToRoot[T any](ctx context.Context, g Group, value T, op func(a, b T) T) (T, bool, error) {
	rank, hosts := g.MyRank(), g.NumHosts()
	active := true

	for d := 1; d < hosts; d <<= 1 {
		if !active {
			continue
		}
		if rank&d != 0 {
			if err := g.SendTo(ctx, rank-d, value); err != nil {
				return value, false, err
			}
			active = false
		} else if rank+d < hosts {
			var recv T
			if err := g.ReceiveFrom(ctx, rank+d, &recv); err != nil {
				return value, false, err
			}
			value = op(value, recv)
		}
	}
	return value, rank == 0, nil
}

// AllReduce aggregates value across every host via op and delivers
// the identical result to every host, via ReduceToRoot followed by
// Broadcast, matching thrill::net::collective::AllReduce.
func AllReduce[T any](ctx context.Context, g Group, value T, op func(a, b T) T) (T, error) {
	value, _, err := ReduceToRoot(ctx, g, value, op)
	if err != nil {
		return value, err
	}
	return Broadcast(ctx, g, value)
}

// AllReduceHypercube is AllReduce restricted to NumHosts a power of
// two: at each hypercube dimension every host exchanges its current
// aggregate with its peer and combines, so all hosts converge on the
// identical result without a separate broadcast phase, matching
// thrill::net::collective::AllReduceHypercube.
func AllReduceHypercube[T any](ctx context.Context, g Group, value T, op func(a, b T) T) (T, error) {
	rank, hosts := g.MyRank(), g.NumHosts()

	for d := 1; d < hosts; d <<= 1 {
		peer := rank ^ d
		if peer >= hosts {
			continue
		}
		if err := g.SendTo(ctx, peer, value); err != nil {
			return value, err
		}
		var recv T
		if err := g.ReceiveFrom(ctx, peer, &recv); err != nil {
			return value, err
		}
		// The lower-ranked side's aggregate is always the left operand,
		// so both peers compute the same value for a non-commutative op.
		if rank&d != 0 {
			value = op(recv, value)
		} else {
			value = op(value, recv)
		}
	}
	return value, nil
}
