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

// Package value implements the tagged atom stored on either side of a
// relationship: a 32-bit signed integer or an interned string id.
package value

import (
	"fmt"
	"strings"

	"github.com/trofi/s4/intern"
)

// Kind discriminates the payload held by a Value.
type Kind uint8

const (
	// KindInt marks a Value holding an interned int32 id.
	KindInt Kind = iota
	// KindString marks a Value holding an interned string id.
	KindString
)

// Value is a small, cheap-to-copy tagged union of an interned int32 id
// and an interned string id. Both payload kinds are interned (§3: "Integer
// values are interned through an analogous table so equality checks and
// index keys are uniform") so that Equal never needs the owning Table.
// The zero Value is KindInt(id 0).
type Value struct {
	kind Kind
	i    intern.IntID
	s    intern.StringID
}

// Int builds an integer-kind Value by interning v through tbl.
func Int(tbl *intern.Table, v int32) Value {
	return Value{kind: KindInt, i: tbl.InternInt(int64(v))}
}

// IntFromID builds an integer-kind Value from an already-interned id,
// used by WAL replay and snapshot load which intern independently before
// constructing the Value.
func IntFromID(id intern.IntID) Value {
	return Value{kind: KindInt, i: id}
}

// String builds a string-kind Value from an already-interned id.
func String(id intern.StringID) Value {
	return Value{kind: KindString, s: id}
}

// Kind reports which payload this Value carries.
func (v Value) Kind() Kind { return v.kind }

// IntID returns the interned integer id payload and whether v is KindInt.
func (v Value) IntID() (intern.IntID, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// StringID returns the interned string id payload and whether v is
// KindString.
func (v Value) StringID() (intern.StringID, bool) {
	if v.kind != KindString {
		return 0, false
	}
	return v.s, true
}

// Resolve renders v as its de-interned bytes, consulting tbl.
func (v Value) Resolve(tbl *intern.Table) string {
	switch v.kind {
	case KindInt:
		n, _ := tbl.Int(v.i)
		return fmt.Sprintf("%d", n)
	case KindString:
		s, _ := tbl.String(v.s)
		return s
	default:
		return ""
	}
}

// Compare orders values per spec: ints compare numerically, strings
// lexicographically by de-interned bytes, and every int sorts before
// every string. tbl resolves both interned ints and interned strings
// back to comparable bytes/numbers.
func Compare(tbl *intern.Table, a, b Value) int {
	if a.kind != b.kind {
		if a.kind == KindInt {
			return -1
		}
		return 1
	}
	if a.kind == KindInt {
		an, _ := tbl.Int(a.i)
		bn, _ := tbl.Int(b.i)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	as, _ := tbl.String(a.s)
	bs, _ := tbl.String(b.s)
	return strings.Compare(as, bs)
}

// CompareFold is the case-insensitive variant of Compare used by
// case-insensitive string filters (§4.5). Int values compare as in
// Compare; string values are uppercased before comparison.
func CompareFold(tbl *intern.Table, a, b Value) int {
	if a.kind != b.kind {
		return Compare(tbl, a, b)
	}
	if a.kind == KindInt {
		return Compare(tbl, a, b)
	}
	as, _ := tbl.String(a.s)
	bs, _ := tbl.String(b.s)
	return strings.Compare(strings.ToUpper(as), strings.ToUpper(bs))
}

// Equal reports whether a and b are the same atom. Both kinds are
// interned, so id equality implies semantic equality without consulting
// tbl (§3 invariant 2).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindInt {
		return a.i == b.i
	}
	return a.s == b.s
}

// String implements fmt.Stringer for debugging; it does not resolve
// interned ids (use Resolve for that).
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("Int(#%d)", v.i)
	case KindString:
		return fmt.Sprintf("String(#%d)", v.s)
	default:
		return "Value(?)"
	}
}
