// Copyright 2024 The s4 Authors
// This file is part of s4.
//
// s4 is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// s4 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with s4. If not, see <http://www.gnu.org/licenses/>.

package relindex

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	mapset "github.com/deckarep/golang-set/v2"
)

// Pointer is an opaque, stable reference to a per-value bucket (§4.3):
// an arena with generational indexes rather than raw addresses. A
// Pointer dereferenced after its slot has been freed and reused is
// detected via the generation mismatch and reports not-found rather
// than returning the wrong bucket.
type Pointer struct {
	slot uint32
	gen  uint32
}

// bucket is the "set of other-side tuples" living under one (key,
// value) pair.
type bucket struct {
	sides mapset.Set[otherSide]
}

func newBucket() *bucket {
	return &bucket{sides: mapset.NewThreadUnsafeSet[otherSide]()}
}

type slot struct {
	gen  uint32
	live bool
	val  *bucket
}

// arena allocates and reclaims buckets behind generational Pointers,
// tracking free slots in a roaring bitmap rather than a plain free list
// so that large, sparsely-reclaimed indexes stay compact in memory.
type arena struct {
	mu    sync.Mutex
	slots []slot
	free  *roaring.Bitmap
}

func newArena() *arena {
	return &arena{free: roaring.New()}
}

// alloc reserves a fresh slot for v and returns a Pointer to it.
func (a *arena) alloc(v *bucket) Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.free.IsEmpty() {
		id := a.free.Minimum()
		a.free.Remove(id)
		s := &a.slots[id]
		s.live = true
		s.val = v
		return Pointer{slot: id, gen: s.gen}
	}

	id := uint32(len(a.slots))
	a.slots = append(a.slots, slot{gen: 0, live: true, val: v})
	return Pointer{slot: id, gen: 0}
}

// releasePointer releases the slot referenced by p. A stale or already-freed
// Pointer is a silent no-op, matching the idempotent delete semantics of
// the index above it.
func (a *arena) releasePointer(p Pointer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(p.slot) >= len(a.slots) {
		return
	}
	s := &a.slots[p.slot]
	if !s.live || s.gen != p.gen {
		return
	}
	s.live = false
	s.val = nil
	s.gen++
	a.free.Add(p.slot)
}

// deref resolves p to its bucket, reporting false for a stale or
// out-of-range Pointer.
func (a *arena) deref(p Pointer) (*bucket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(p.slot) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[p.slot]
	if !s.live || s.gen != p.gen {
		return nil, false
	}
	return s.val, true
}
