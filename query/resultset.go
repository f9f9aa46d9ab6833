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

package query

import (
	"sort"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/sourcepref"
	"github.com/trofi/s4/value"
)

// Record is one (key, source, value) result, read-only and borrowing
// interned atoms by id. Records for a cell are chained via next in
// source-pref priority order (ties broken by first-encountered order).
type Record struct {
	Key    intern.StringID
	Source intern.StringID
	Val    value.Value
	next   *Record
}

// ResultSet is a dense 2-D grid: rows are matching entries, columns
// correspond 1:1 to FetchSpec requests (§4.6).
type ResultSet struct {
	cols int
	rows [][]*Record
}

// ColCount reports the number of columns.
func (rs *ResultSet) ColCount() int { return rs.cols }

// RowCount reports the number of matching rows.
func (rs *ResultSet) RowCount() int { return len(rs.rows) }

// Get returns the first record in cell (row,col), if any.
func (rs *ResultSet) Get(row, col int) (*Record, bool) {
	if row < 0 || row >= len(rs.rows) || col < 0 || col >= rs.cols {
		return nil, false
	}
	r := rs.rows[row][col]
	return r, r != nil
}

// Next walks the result list for a cell.
func (rs *ResultSet) Next(r *Record) (*Record, bool) {
	if r == nil || r.next == nil {
		return nil, false
	}
	return r.next, true
}

type scored struct {
	rec      *Record
	priority int
	seq      int
}

// buildCell materializes one (row, column) cell for anchor (anchorKey,
// anchorVal), honoring wildcard expansion and source-pref ranking.
func buildCell(ec *evalContext, anchorKey intern.StringID, anchorVal value.Value, col ColumnRequest) *Record {
	sides := ec.idx.OtherSides(anchorKey, anchorVal)

	var items []scored
	if col.Key == nil {
		// Wildcard: one record per distinct (key, source) pair.
		seen := make(map[[2]intern.StringID]bool)
		for i, s := range sides {
			k := [2]intern.StringID{s.OtherKey, s.Source}
			if seen[k] {
				continue
			}
			seen[k] = true
			items = append(items, scored{
				rec:      &Record{Key: s.OtherKey, Source: s.Source, Val: s.OtherVal},
				priority: priorityFor(ec, col.Pref, s.Source),
				seq:      i,
			})
		}
	} else {
		for i, s := range sides {
			if s.OtherKey != *col.Key {
				continue
			}
			items = append(items, scored{
				rec:      &Record{Key: s.OtherKey, Source: s.Source, Val: s.OtherVal},
				priority: priorityFor(ec, col.Pref, s.Source),
				seq:      i,
			})
		}
	}
	if len(items) == 0 {
		return nil
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority < items[j].priority
		}
		return items[i].seq < items[j].seq
	})

	head := items[0].rec
	cur := head
	for _, it := range items[1:] {
		cur.next = it.rec
		cur = it.rec
	}
	return head
}

func priorityFor(ec *evalContext, pref *sourcepref.Pref, source intern.StringID) int {
	if pref == nil {
		return sourcepref.MaxPriority
	}
	return pref.PriorityOf(ec.tbl, source)
}

// Query runs spec/cond over idx, enumerating candidate entries under
// anchorKey (the interned "join anchor" key, conventionally "entry").
func Query(idx *relindex.Index, tbl *intern.Table, anchorKey intern.StringID, spec FetchSpec, cond Condition) *ResultSet {
	ec := &evalContext{idx: idx, tbl: tbl}
	matches := evalEntries(ec, anchorKey, cond)

	rs := &ResultSet{cols: len(spec)}
	for _, v := range matches {
		row := make([]*Record, len(spec))
		for c, col := range spec {
			row[c] = buildCell(ec, anchorKey, v, col)
		}
		rs.rows = append(rs.rows, row)
	}
	return rs
}
