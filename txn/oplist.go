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

package txn

import (
	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/value"
)

// OpKind tags one entry of an Oplist.
type OpKind int

const (
	// OpAdd stores a relationship.
	OpAdd OpKind = iota
	// OpDel removes a relationship; it fails the whole commit if the
	// exact (ka,va,kb,vb,src) tuple is not currently present.
	OpDel
	// OpWriting names the snapshot-coordination boundary described in
	// §4.8. Commit neither applies nor logs it; the WAL's WRITING record
	// is written by s4's checkpoint directly.
	OpWriting
)

// Op is one already-interned mutation, the shape live commits consume.
// WAL replay does not use Op: it hands wal.ReplayOp values to s4's
// apply callback instead.
type Op struct {
	Kind        OpKind
	KA, KB, Src intern.StringID
	VA, VB      value.Value
}

// Oplist accumulates the operations of one transaction in program
// order; Commit walks it once to mutate the index, a second time to
// build the WAL payloads.
type Oplist []Op

// Cursor iterates an Oplist forward, grounded on hashicorp/go-memdb's
// iterator-over-mutations shape. Neither Commit nor WAL replay uses it;
// each walks its own slice with a range loop.
type Cursor struct {
	ops Oplist
	pos int
}

// Cursor returns a fresh forward iterator over ops.
func (ops Oplist) Cursor() *Cursor {
	return &Cursor{ops: ops}
}

// Next returns the next Op, or ok=false once the cursor is exhausted.
func (c *Cursor) Next() (Op, bool) {
	if c.pos >= len(c.ops) {
		return Op{}, false
	}
	op := c.ops[c.pos]
	c.pos++
	return op, true
}
