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

// Package intern provides process-local interning of strings and
// integers to stable ids (§4.2). Interning is idempotent and thread
// safe; two ids compare equal iff the underlying string/int does.
package intern

import "sync"

// StringID is a stable handle for an interned string. The zero value
// never corresponds to a real interned string; valid ids start at 1.
type StringID uint32

// IntID is a stable handle for an interned int64.
type IntID uint32

// Table interns strings and integers into stable ids for the lifetime
// of the owning DB handle. The zero Table is empty and ready to use,
// grounded on the bufbuild/protocompile intern.Table RWMutex fast path:
// lookups take a read lock first and only escalate to a write lock on a
// miss.
type Table struct {
	smu     sync.RWMutex
	sidx    map[string]StringID
	sval    []string // sval[id-1] == original string for id

	imu  sync.RWMutex
	iidx map[int64]IntID
	ival []int64
}

// NewTable returns an empty, ready-to-use Table.
func NewTable() *Table {
	return &Table{
		sidx: make(map[string]StringID),
		iidx: make(map[int64]IntID),
	}
}

// InternString returns the stable id for s, interning it on first sight.
func (t *Table) InternString(s string) StringID {
	t.smu.RLock()
	if id, ok := t.sidx[s]; ok {
		t.smu.RUnlock()
		return id
	}
	t.smu.RUnlock()

	t.smu.Lock()
	defer t.smu.Unlock()
	if id, ok := t.sidx[s]; ok {
		return id
	}
	t.sval = append(t.sval, s)
	id := StringID(len(t.sval))
	t.sidx[s] = id
	return id
}

// String reverse-looks-up the original bytes for id.
func (t *Table) String(id StringID) (string, bool) {
	if id == 0 {
		return "", false
	}
	t.smu.RLock()
	defer t.smu.RUnlock()
	i := int(id) - 1
	if i < 0 || i >= len(t.sval) {
		return "", false
	}
	return t.sval[i], true
}

// LookupString returns the id already assigned to s, if any, without
// interning it.
func (t *Table) LookupString(s string) (StringID, bool) {
	t.smu.RLock()
	defer t.smu.RUnlock()
	id, ok := t.sidx[s]
	return id, ok
}

// InternInt returns the stable id for v, interning it on first sight.
func (t *Table) InternInt(v int64) IntID {
	t.imu.RLock()
	if id, ok := t.iidx[v]; ok {
		t.imu.RUnlock()
		return id
	}
	t.imu.RUnlock()

	t.imu.Lock()
	defer t.imu.Unlock()
	if id, ok := t.iidx[v]; ok {
		return id
	}
	t.ival = append(t.ival, v)
	id := IntID(len(t.ival))
	t.iidx[v] = id
	return id
}

// Int reverse-looks-up the original integer for id.
func (t *Table) Int(id IntID) (int64, bool) {
	if id == 0 {
		return 0, false
	}
	t.imu.RLock()
	defer t.imu.RUnlock()
	i := int(id) - 1
	if i < 0 || i >= len(t.ival) {
		return 0, false
	}
	return t.ival[i], true
}

// StringCount reports how many distinct strings have been interned.
func (t *Table) StringCount() int {
	t.smu.RLock()
	defer t.smu.RUnlock()
	return len(t.sval)
}

// IntCount reports how many distinct integers have been interned.
func (t *Table) IntCount() int {
	t.imu.RLock()
	defer t.imu.RUnlock()
	return len(t.ival)
}

// EachString calls fn for every interned string in id order, used by
// snapshot.Save to serialize the string table.
func (t *Table) EachString(fn func(id StringID, s string)) {
	t.smu.RLock()
	defer t.smu.RUnlock()
	for i, s := range t.sval {
		fn(StringID(i+1), s)
	}
}

// EachInt calls fn for every interned integer in id order, used by
// snapshot.Save to serialize the int table.
func (t *Table) EachInt(fn func(id IntID, v int64)) {
	t.imu.RLock()
	defer t.imu.RUnlock()
	for i, v := range t.ival {
		fn(IntID(i+1), v)
	}
}
