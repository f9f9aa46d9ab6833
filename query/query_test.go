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

package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/query"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/sourcepref"
	"github.com/trofi/s4/value"
)

type fixture struct {
	tbl      *intern.Table
	idx      *relindex.Index
	entryKey intern.StringID
	titleKey intern.StringID
	yearKey  intern.StringID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tbl := intern.NewTable()
	idx := relindex.New(tbl)
	f := &fixture{
		tbl:      tbl,
		idx:      idx,
		entryKey: tbl.InternString("entry"),
		titleKey: tbl.InternString("title"),
		yearKey:  tbl.InternString("year"),
	}

	entries := []struct {
		id    int32
		title string
		year  int32
	}{
		{1, "Alpha", 1990},
		{2, "Beta", 2000},
		{3, "Gamma", 2010},
	}
	src := tbl.InternString("tagger")
	for _, e := range entries {
		ev := value.Int(tbl, e.id)
		idx.InsertEdge(f.entryKey, ev, f.titleKey, value.String(tbl.InternString(e.title)), src)
		idx.InsertEdge(f.entryKey, ev, f.yearKey, value.Int(tbl, e.year), src)
	}
	return f
}

func TestQueryEqualFilterOnAttribute(t *testing.T) {
	f := newFixture(t)
	cond := query.NewFilter(f.tbl, "title", query.Equal, ptr(value.String(f.tbl.InternString("Beta"))), nil, true, false)
	spec := query.NewFetchSpec(query.Column(f.tbl, "year", nil, 0))

	rs := query.Query(f.idx, f.tbl, f.entryKey, spec, cond)
	require.Equal(t, 1, rs.RowCount())
	rec, ok := rs.Get(0, 0)
	require.True(t, ok)
	require.Equal(t, "2000", rec.Val.Resolve(f.tbl))
}

func TestQueryRangeFilterOnAttribute(t *testing.T) {
	f := newFixture(t)
	cond := query.NewFilter(f.tbl, "year", query.Greater, ptr(value.Int(f.tbl, 1995)), nil, true, false)
	spec := query.NewFetchSpec(query.Column(f.tbl, "title", nil, 0))

	rs := query.Query(f.idx, f.tbl, f.entryKey, spec, cond)
	require.Equal(t, 2, rs.RowCount())
}

func TestQueryGreaterFilterOnParentKeyExcludesOperand(t *testing.T) {
	f := newFixture(t)
	cond := query.NewFilter(f.tbl, "entry", query.Greater, ptr(value.Int(f.tbl, 2)), nil, true, true)
	spec := query.NewFetchSpec(query.Column(f.tbl, "title", nil, 0))

	rs := query.Query(f.idx, f.tbl, f.entryKey, spec, cond)
	require.Equal(t, 1, rs.RowCount())
	rec, ok := rs.Get(0, 0)
	require.True(t, ok)
	require.Equal(t, "Gamma", rec.Val.Resolve(f.tbl))
}

func TestQueryAndCombinator(t *testing.T) {
	f := newFixture(t)
	cond := query.And(
		query.NewFilter(f.tbl, "year", query.Greater, ptr(value.Int(f.tbl, 1995)), nil, true, false),
		query.NewFilter(f.tbl, "title", query.Equal, ptr(value.String(f.tbl.InternString("Gamma"))), nil, true, false),
	)
	spec := query.NewFetchSpec(query.Column(f.tbl, "title", nil, 0))
	rs := query.Query(f.idx, f.tbl, f.entryKey, spec, cond)
	require.Equal(t, 1, rs.RowCount())
}

func TestQueryNotCombinator(t *testing.T) {
	f := newFixture(t)
	cond := query.Not(query.NewFilter(f.tbl, "title", query.Equal, ptr(value.String(f.tbl.InternString("Beta"))), nil, true, false))
	spec := query.NewFetchSpec(query.Column(f.tbl, "title", nil, 0))
	rs := query.Query(f.idx, f.tbl, f.entryKey, spec, cond)
	require.Equal(t, 2, rs.RowCount())
}

func TestQueryWildcardColumnExpandsEveryKey(t *testing.T) {
	f := newFixture(t)
	spec := query.NewFetchSpec(query.WildcardColumn(nil, 0))
	rs := query.Query(f.idx, f.tbl, f.entryKey, spec, nil)
	require.Equal(t, 3, rs.RowCount())

	rec, ok := rs.Get(0, 0)
	require.True(t, ok)
	seen := map[string]bool{}
	for rec != nil {
		s, _ := f.tbl.String(rec.Key)
		seen[s] = true
		rec, ok = rs.Next(rec)
		if !ok {
			break
		}
	}
	require.True(t, seen["title"])
	require.True(t, seen["year"])
}

func TestQuerySourcePreferenceOrdersCell(t *testing.T) {
	tbl := intern.NewTable()
	idx := relindex.New(tbl)
	entryKey := tbl.InternString("entry")
	titleKey := tbl.InternString("title")
	entry := value.Int(tbl, 1)

	idx.InsertEdge(entryKey, entry, titleKey, value.String(tbl.InternString("Low Priority")), tbl.InternString("user.bob"))
	idx.InsertEdge(entryKey, entry, titleKey, value.String(tbl.InternString("High Priority")), tbl.InternString("imdb.com"))

	pref := sourcepref.New([]string{"imdb.*", "user.*"})
	spec := query.NewFetchSpec(query.Column(tbl, "title", pref, 0))
	rs := query.Query(idx, tbl, entryKey, spec, nil)
	require.Equal(t, 1, rs.RowCount())

	rec, ok := rs.Get(0, 0)
	require.True(t, ok)
	require.Equal(t, "High Priority", rec.Val.Resolve(tbl))

	next, ok := rs.Next(rec)
	require.True(t, ok)
	require.Equal(t, "Low Priority", next.Val.Resolve(tbl))
}

func ptr(v value.Value) *value.Value { return &v }
