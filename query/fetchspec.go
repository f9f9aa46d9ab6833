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

// Package query implements the fetch specification / condition tree
// query engine (§4.5) and the 2-D result grid it produces (§4.6).
package query

import (
	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/sourcepref"
)

// ColumnFlags selects what a ColumnRequest returns for a matching
// attribute.
type ColumnFlags uint32

const (
	// FetchData names the full (key, source, value) result record. Query
	// does not consult the flags: every Record carries key, source and
	// value whether or not FetchData is set.
	FetchData ColumnFlags = 1 << iota
	// reserved bits, kept for forward compatibility with named-but-
	// undefined flags (§4.5).
	reservedFlag1
	reservedFlag2
)

// ColumnRequest is one projected column: a key to project (or wildcard
// when Key is nil), an optional source preference for ranking competing
// values, and flags.
type ColumnRequest struct {
	Key   *intern.StringID // nil => wildcard: project every key under the entry
	Pref  *sourcepref.Pref
	Flags ColumnFlags
}

// Column builds a ColumnRequest for a concrete key.
func Column(tbl *intern.Table, key string, pref *sourcepref.Pref, flags ColumnFlags) ColumnRequest {
	id := tbl.InternString(key)
	return ColumnRequest{Key: &id, Pref: pref, Flags: flags}
}

// WildcardColumn builds a ColumnRequest that projects every key under
// the matching entry.
func WildcardColumn(pref *sourcepref.Pref, flags ColumnFlags) ColumnRequest {
	return ColumnRequest{Key: nil, Pref: pref, Flags: flags}
}

// FetchSpec is an ordered list of column requests.
type FetchSpec []ColumnRequest

// NewFetchSpec builds a FetchSpec from column requests, in order.
func NewFetchSpec(cols ...ColumnRequest) FetchSpec {
	out := make(FetchSpec, len(cols))
	copy(out, cols)
	return out
}
