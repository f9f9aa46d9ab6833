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

package s4_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trofi/s4"
	"github.com/trofi/s4/query"
	"github.com/trofi/s4/sourcepref"
	"github.com/trofi/s4/value"
)

func TestMemoryDBAddDelRoundTrip(t *testing.T) {
	db, err := s4.Open("", nil, s4.Memory)
	require.NoError(t, err)
	defer db.Close()
	tbl := db.Table()

	tx, err := db.Begin(0)
	require.NoError(t, err)
	entry := value.Int(tbl, 1)
	title := value.String(tbl.InternString("Alpha"))
	require.NoError(t, tx.Add("entry", entry, "title", title, "tagger"))
	require.NoError(t, tx.Commit())

	require.Equal(t, 1, queryTitle(t, db, 1).RowCount())

	tx2, err := db.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tx2.Del("entry", entry, "title", title, "tagger"))
	require.NoError(t, tx2.Commit())

	require.Equal(t, 0, queryTitle(t, db, 1).RowCount())
}

// TestDurabilityAcrossReopen closes a file-backed DB after committing
// data and reopens it, checking the data survives; Close's final
// checkpoint writes it to the snapshot file, which Open loads.
func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.s4")

	db, err := s4.Open(path, nil, s4.New)
	require.NoError(t, err)

	tbl := db.Table()
	tx, err := db.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("Alpha")), "tagger"))
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	db2, err := s4.Open(path, nil, s4.Exists)
	require.NoError(t, err)
	defer db2.Close()

	rs := queryTitle(t, db2, 1)
	require.Equal(t, 1, rs.RowCount())
	rec, ok := rs.Get(0, 0)
	require.True(t, ok)
	require.Equal(t, "Alpha", rec.Val.Resolve(db2.Table()))
}

func TestOpenFlagsConflictNewExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.s4")

	db, err := s4.Open(path, nil, s4.New)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = s4.Open(path, nil, s4.New)
	require.ErrorIs(t, err, s4.ErrExists)

	missing := filepath.Join(t.TempDir(), "missing.s4")
	_, err = s4.Open(missing, nil, s4.Exists)
	require.ErrorIs(t, err, s4.ErrNotExist)
}

func TestQuerySourcePreferenceRanking(t *testing.T) {
	db, err := s4.Open("", nil, s4.Memory)
	require.NoError(t, err)
	defer db.Close()

	tbl := db.Table()
	tx, err := db.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("Low")), "user.bob"))
	require.NoError(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("High")), "imdb.com"))
	require.NoError(t, tx.Commit())

	pref := sourcepref.New([]string{"imdb.*", "user.*"})
	rtx, err := db.Begin(s4.ReadOnly)
	require.NoError(t, err)
	defer rtx.Commit()

	spec := query.NewFetchSpec(query.Column(tbl, "title", pref, 0))
	rs, err := rtx.Query("entry", spec, nil)
	require.NoError(t, err)
	rec, ok := rs.Get(0, 0)
	require.True(t, ok)
	require.Equal(t, "High", rec.Val.Resolve(tbl))
}

func TestWALWrapAroundSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.s4")
	// A low checkpoint threshold keeps the background checkpoint goroutine
	// comfortably ahead of the write loop below, so the ring wraps
	// without ever hitting ErrLogFull.
	cfg := s4.NewConfig(s4.WithCheckpointThreshold(0.05))
	db, err := s4.Open(path, cfg, s4.New)
	require.NoError(t, err)

	tbl := db.Table()
	pad := make([]byte, 400)
	for i := range pad {
		pad[i] = 'x'
	}

	for i := 0; i < 6000; i++ {
		tx, err := db.Begin(0)
		require.NoError(t, err)
		title := fmt.Sprintf("%s-%d", pad, i)
		require.NoError(t, tx.Add("entry", value.Int(tbl, int32(i)), "title", value.String(tbl.InternString(title)), "tagger"))
		require.NoError(t, tx.Commit())
	}
	require.NoError(t, db.Close())

	db2, err := s4.Open(path, nil, s4.Exists)
	require.NoError(t, err)
	defer db2.Close()

	rs := queryTitle(t, db2, 5999)
	require.Equal(t, 1, rs.RowCount())
}

// TestCommitOverBudgetReportsLogFullErrno pins down that a commit
// rejected by the WAL's size check is visible to callers both as
// errors.Is(err, s4.ErrLogFull) and as db.Errno() == s4.LOG_FULL, not
// folded into the generic IO errno.
func TestCommitOverBudgetReportsLogFullErrno(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.s4")
	db, err := s4.Open(path, nil, s4.New)
	require.NoError(t, err)
	defer db.Close()

	tbl := db.Table()
	tx, err := db.Begin(0)
	require.NoError(t, err)
	huge := make([]byte, 3*1024*1024)
	for i := range huge {
		huge[i] = 'x'
	}
	require.NoError(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString(string(huge))), "tagger"))

	err = tx.Commit()
	require.ErrorIs(t, err, s4.ErrLogFull)
	require.Equal(t, s4.LOG_FULL, db.Errno())
}

func TestBatchedVsPerOpCommitEquivalence(t *testing.T) {
	dbBatched, err := s4.Open("", nil, s4.Memory)
	require.NoError(t, err)
	defer dbBatched.Close()

	dbSeparate, err := s4.Open("", nil, s4.Memory)
	require.NoError(t, err)
	defer dbSeparate.Close()

	btbl := dbBatched.Table()
	batched, err := dbBatched.Begin(0)
	require.NoError(t, err)
	require.NoError(t, batched.Add("entry", value.Int(btbl, 1), "title", value.String(btbl.InternString("Alpha")), "tagger"))
	require.NoError(t, batched.Add("entry", value.Int(btbl, 2), "title", value.String(btbl.InternString("Beta")), "tagger"))
	require.NoError(t, batched.Commit())

	stbl := dbSeparate.Table()
	tx1, err := dbSeparate.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tx1.Add("entry", value.Int(stbl, 1), "title", value.String(stbl.InternString("Alpha")), "tagger"))
	require.NoError(t, tx1.Commit())

	tx2, err := dbSeparate.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tx2.Add("entry", value.Int(stbl, 2), "title", value.String(stbl.InternString("Beta")), "tagger"))
	require.NoError(t, tx2.Commit())

	rsBatched := queryTitle(t, dbBatched, 1)
	rsSeparate := queryTitle(t, dbSeparate, 1)
	require.Equal(t, rsBatched.RowCount(), rsSeparate.RowCount())

	recBatched, ok := rsBatched.Get(0, 0)
	require.True(t, ok)
	recSeparate, ok := rsSeparate.Get(0, 0)
	require.True(t, ok)
	require.Equal(t, recBatched.Val.Resolve(btbl), recSeparate.Val.Resolve(stbl))
}

func queryTitle(t *testing.T, db *s4.DB, id int32) *query.ResultSet {
	t.Helper()
	tbl := db.Table()
	tx, err := db.Begin(s4.ReadOnly)
	require.NoError(t, err)
	defer tx.Commit()

	spec := query.NewFetchSpec(query.Column(tbl, "title", nil, 0))
	operand := value.Int(tbl, id)
	cond := query.NewFilter(tbl, "entry", query.Equal, &operand, nil, true, true)
	rs, err := tx.Query("entry", spec, cond)
	require.NoError(t, err)
	return rs
}
