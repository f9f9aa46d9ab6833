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

// Package relindex is the primary in-memory store of relationships
// (§4.3): for each interned key, a map from value to the set of
// "other side" tuples, plus a per-key auxiliary B-tree ordered by value
// for range and predicate queries.
package relindex

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/value"
)

// OtherSide is one half-edge's target: "for this key the entry has, for
// OtherKey, value OtherVal, asserted by Source".
type OtherSide struct {
	OtherKey intern.StringID
	OtherVal value.Value
	Source   intern.StringID
}

// otherSide is the set-element type; it is an alias of OtherSide, so
// the two are the same type.
type otherSide = OtherSide

type auxEntry struct {
	val value.Value
	ptr Pointer
}

type keyEntry struct {
	values map[value.Value]Pointer
	aux    *btree.BTreeG[auxEntry]
}

// Index is the relation index: key -> value -> set of other-side
// tuples, with a per-key ordered auxiliary index over values.
// Index.mu is the single writer/reader lock described in §5: writers
// take the exclusive lock for the duration of a commit's mutations,
// readers take the shared lock for the duration of a query.
type Index struct {
	mu    sync.RWMutex
	tbl   *intern.Table
	arena *arena
	keys  map[intern.StringID]*keyEntry
}

// New returns an empty Index backed by tbl for atom resolution and
// ordering.
func New(tbl *intern.Table) *Index {
	return &Index{
		tbl:   tbl,
		arena: newArena(),
		keys:  make(map[intern.StringID]*keyEntry),
	}
}

// Lock/Unlock/RLock/RUnlock expose the index's single writer lock to
// txn.Commit and the query evaluator, matching the "index writer lock"
// / "shared lock" split of §4.7 and §5.
func (idx *Index) Lock()    { idx.mu.Lock() }
func (idx *Index) Unlock()  { idx.mu.Unlock() }
func (idx *Index) RLock()   { idx.mu.RLock() }
func (idx *Index) RUnlock() { idx.mu.RUnlock() }

func (idx *Index) lessFunc() btree.LessFunc[auxEntry] {
	tbl := idx.tbl
	return func(a, b auxEntry) bool {
		return value.Compare(tbl, a.val, b.val) < 0
	}
}

func (idx *Index) entry(key intern.StringID, create bool) *keyEntry {
	e, ok := idx.keys[key]
	if !ok {
		if !create {
			return nil
		}
		e = &keyEntry{
			values: make(map[value.Value]Pointer),
			aux:    btree.NewG[auxEntry](32, idx.lessFunc()),
		}
		idx.keys[key] = e
	}
	return e
}

// insertHalf adds the half-edge (key,val) -> side, returning whether it
// was newly added (false means the exact tuple already existed: add is
// idempotent per §3).
func (idx *Index) insertHalf(key intern.StringID, val value.Value, side OtherSide) bool {
	e := idx.entry(key, true)
	ptr, ok := e.values[val]
	var b *bucket
	if !ok {
		b = newBucket()
		ptr = idx.arena.alloc(b)
		e.values[val] = ptr
		e.aux.ReplaceOrInsert(auxEntry{val: val, ptr: ptr})
	} else {
		var derefOK bool
		b, derefOK = idx.arena.deref(ptr)
		if !derefOK {
			// Stale pointer left behind by a prior bug elsewhere; heal by
			// reallocating rather than panicking.
			b = newBucket()
			ptr = idx.arena.alloc(b)
			e.values[val] = ptr
			e.aux.ReplaceOrInsert(auxEntry{val: val, ptr: ptr})
		}
	}
	return b.sides.Add(side)
}

// deleteHalf removes the half-edge (key,val) -> side if side is present
// with the same source, reporting whether anything was removed.
func (idx *Index) deleteHalf(key intern.StringID, val value.Value, side OtherSide) bool {
	e := idx.entry(key, false)
	if e == nil {
		return false
	}
	ptr, ok := e.values[val]
	if !ok {
		return false
	}
	b, ok := idx.arena.deref(ptr)
	if !ok || !b.sides.Contains(side) {
		return false
	}
	b.sides.Remove(side)
	if b.sides.Cardinality() == 0 {
		delete(e.values, val)
		e.aux.Delete(auxEntry{val: val})
		idx.arena.releasePointer(ptr)
		if len(e.values) == 0 {
			delete(idx.keys, key)
		}
	}
	return true
}

// InsertEdge performs the symmetric two-sided mutation: storing
// (ka,va,kb,vb,src) also stores its inverse. Callers never see a
// single-direction store. It reports whether the edge was newly added.
func (idx *Index) InsertEdge(ka intern.StringID, va value.Value, kb intern.StringID, vb value.Value, src intern.StringID) bool {
	a := idx.insertHalf(ka, va, OtherSide{OtherKey: kb, OtherVal: vb, Source: src})
	b := idx.insertHalf(kb, vb, OtherSide{OtherKey: ka, OtherVal: va, Source: src})
	return a || b
}

// DeleteEdge removes both halves of (ka,va,kb,vb,src). It reports
// whether the tuple existed (and was removed) — a del of a nonexistent
// tuple with matching source is the "precondition failure" that makes
// txn.Commit roll back and fail per §4.7 step 2.
func (idx *Index) DeleteEdge(ka intern.StringID, va value.Value, kb intern.StringID, vb value.Value, src intern.StringID) bool {
	existed := idx.deleteHalf(ka, va, OtherSide{OtherKey: kb, OtherVal: vb, Source: src})
	idx.deleteHalf(kb, vb, OtherSide{OtherKey: ka, OtherVal: va, Source: src})
	return existed
}

// OtherSides returns a snapshot slice of the other-side tuples stored
// under (key, val).
func (idx *Index) OtherSides(key intern.StringID, val value.Value) []OtherSide {
	e := idx.entry(key, false)
	if e == nil {
		return nil
	}
	ptr, ok := e.values[val]
	if !ok {
		return nil
	}
	b, ok := idx.arena.deref(ptr)
	if !ok {
		return nil
	}
	return b.sides.ToSlice()
}

// HasValue reports whether val is present under key, an O(1) point
// lookup used by the query evaluator's equality fast path.
func (idx *Index) HasValue(key intern.StringID, val value.Value) bool {
	e := idx.entry(key, false)
	if e == nil {
		return false
	}
	_, ok := e.values[val]
	return ok
}

// Values returns every distinct value present under key, in ascending
// order, used for full-key scans.
func (idx *Index) Values(key intern.StringID) []value.Value {
	e := idx.entry(key, false)
	if e == nil {
		return nil
	}
	out := make([]value.Value, 0, len(e.values))
	e.aux.Ascend(func(it auxEntry) bool {
		out = append(out, it.val)
		return true
	})
	return out
}

// ScanRange returns the values under key in [lo, hi), in ascending
// order; hasLo/hasHi false leaves that end of the range open. Backed by
// the per-key B-tree so
// equality/range filters (§4.5) never degrade to a linear scan.
func (idx *Index) ScanRange(key intern.StringID, lo value.Value, hasLo bool, hi value.Value, hasHi bool) []value.Value {
	e := idx.entry(key, false)
	if e == nil {
		return nil
	}
	var out []value.Value
	visit := func(it auxEntry) bool {
		out = append(out, it.val)
		return true
	}
	switch {
	case hasLo && hasHi:
		e.aux.AscendRange(auxEntry{val: lo}, auxEntry{val: hi}, visit)
	case hasLo:
		e.aux.AscendGreaterOrEqual(auxEntry{val: lo}, visit)
	case hasHi:
		e.aux.AscendLessThan(auxEntry{val: hi}, visit)
	default:
		e.aux.Ascend(visit)
	}
	return out
}

// ScanPredicate returns every value under key for which pred holds. It
// walks the ordered B-tree (so callers whose predicate happens to carve
// out a contiguous range still benefit from in-order iteration), but,
// per §4.5, makes no assumption that the predicate forms a contiguous
// range: match-glob and token-exists predicates may accept values
// scattered throughout the order, so the full per-key range is walked.
func (idx *Index) ScanPredicate(key intern.StringID, pred func(value.Value) bool) []value.Value {
	e := idx.entry(key, false)
	if e == nil {
		return nil
	}
	var out []value.Value
	e.aux.Ascend(func(it auxEntry) bool {
		if pred(it.val) {
			out = append(out, it.val)
		}
		return true
	})
	return out
}

// KeyCount reports how many distinct keys currently have at least one
// stored value, used by snapshot and diagnostics.
func (idx *Index) KeyCount() int {
	return len(idx.keys)
}

// Keys returns every interned key id with at least one stored value.
func (idx *Index) Keys() []intern.StringID {
	out := make([]intern.StringID, 0, len(idx.keys))
	for k := range idx.keys {
		out = append(out, k)
	}
	return out
}

// EachTuple calls fn once for every stored half-edge in the index, in
// (key, value, otherside) order. Keys and, within a value's
// bucket, other-sides are visited in a fixed deterministic order (not
// map/set iteration order) so that two EachTuple walks over the same
// index content, in the same process, always emit the same sequence —
// the property snapshot.Save's round-trip test relies on. It is used
// by snapshot.Save and by the check_db-style test helper to
// materialize the full tuple set.
func (idx *Index) EachTuple(fn func(key intern.StringID, val value.Value, side OtherSide)) {
	keys := idx.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		e := idx.keys[k]
		e.aux.Ascend(func(it auxEntry) bool {
			b, ok := idx.arena.deref(it.ptr)
			if !ok {
				return true
			}
			sides := b.sides.ToSlice()
			sort.Slice(sides, func(i, j int) bool { return otherSideLess(sides[i], sides[j]) })
			for _, s := range sides {
				fn(k, it.val, s)
			}
			return true
		})
	}
}

// otherSideLess orders two otherSide values deterministically by their
// interned ids, not by any property of the strings/ints they name.
func otherSideLess(a, b otherSide) bool {
	if a.OtherKey != b.OtherKey {
		return a.OtherKey < b.OtherKey
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.OtherVal.Kind() != b.OtherVal.Kind() {
		return a.OtherVal.Kind() < b.OtherVal.Kind()
	}
	if a.OtherVal.Kind() == value.KindInt {
		ai, _ := a.OtherVal.IntID()
		bi, _ := b.OtherVal.IntID()
		return ai < bi
	}
	as, _ := a.OtherVal.StringID()
	bs, _ := b.OtherVal.StringID()
	return as < bs
}
