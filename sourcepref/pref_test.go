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

package sourcepref_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/sourcepref"
)

func TestPriorityOfFirstMatchWins(t *testing.T) {
	tbl := intern.NewTable()
	pref := sourcepref.New([]string{"imdb.*", "user.*", "*"})

	require.Equal(t, 0, pref.PriorityOf(tbl, tbl.InternString("imdb.com")))
	require.Equal(t, 1, pref.PriorityOf(tbl, tbl.InternString("user.alice")))
	require.Equal(t, 2, pref.PriorityOf(tbl, tbl.InternString("anything-else")))
}

func TestPriorityOfNoMatchIsMaxPriority(t *testing.T) {
	tbl := intern.NewTable()
	pref := sourcepref.New([]string{"imdb.*"})
	require.Equal(t, sourcepref.MaxPriority, pref.PriorityOf(tbl, tbl.InternString("tmdb.org")))
}

func TestNilPrefAlwaysMaxPriority(t *testing.T) {
	tbl := intern.NewTable()
	var pref *sourcepref.Pref
	require.Equal(t, sourcepref.MaxPriority, pref.PriorityOf(tbl, tbl.InternString("anything")))
	require.Equal(t, 0, pref.Len())
}

func TestPriorityOfIsMemoized(t *testing.T) {
	tbl := intern.NewTable()
	pref := sourcepref.New([]string{"a*", "b*"})
	src := tbl.InternString("alpha")

	first := pref.PriorityOf(tbl, src)
	second := pref.PriorityOf(tbl, src)
	require.Equal(t, first, second)
}

func TestPriorityOfUnknownSourceIsMaxPriority(t *testing.T) {
	tbl := intern.NewTable()
	pref := sourcepref.New([]string{"a*"})
	require.Equal(t, sourcepref.MaxPriority, pref.PriorityOf(tbl, intern.StringID(9999)))
}
