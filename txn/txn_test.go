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

package txn_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/query"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/txn"
	"github.com/trofi/s4/value"
	"github.com/trofi/s4/wal"
)

func newMemoryFixture() (*intern.Table, *relindex.Index) {
	tbl := intern.NewTable()
	return tbl, relindex.New(tbl)
}

func TestAddCommitStoresSymmetricEdge(t *testing.T) {
	tbl, idx := newMemoryFixture()
	tx := txn.Begin(tbl, idx, nil, 0)

	v := value.Int(tbl, 1)
	require.NoError(t, tx.Add("entry", v, "title", value.String(tbl.InternString("Movie")), "tagger"))
	require.NoError(t, tx.Commit())

	titleKey := tbl.InternString("title")
	require.True(t, idx.HasValue(titleKey, value.String(tbl.InternString("Movie"))))
}

func TestDelCommitPreconditionFailureRollsBackWholeCommit(t *testing.T) {
	tbl, idx := newMemoryFixture()

	// Seed one edge directly so we can later confirm the rollback left it
	// untouched.
	entryKey := tbl.InternString("entry")
	titleKey := tbl.InternString("title")
	src := tbl.InternString("tagger")
	v1 := value.Int(tbl, 1)
	title1 := value.String(tbl.InternString("Seed"))
	idx.InsertEdge(entryKey, v1, titleKey, title1, src)

	tx := txn.Begin(tbl, idx, nil, 0)
	v2 := value.Int(tbl, 2)
	title2 := value.String(tbl.InternString("New"))
	require.NoError(t, tx.Add("entry", v2, "title", title2, "tagger"))
	// This delete targets a tuple that was never inserted: the whole
	// commit, including the Add above, must roll back.
	require.NoError(t, tx.Del("entry", v1, "title", value.String(tbl.InternString("Nonexistent")), "tagger"))

	err := tx.Commit()
	require.ErrorIs(t, err, txn.ErrPrecondition)

	require.False(t, idx.HasValue(titleKey, title2), "the Add from the failed commit must have been rolled back")
	require.True(t, idx.HasValue(titleKey, title1), "the pre-existing seed edge must be untouched")
}

func TestReadOnlyTxnQueryAndCommitReleasesLock(t *testing.T) {
	tbl, idx := newMemoryFixture()
	entryKey := tbl.InternString("entry")
	titleKey := tbl.InternString("title")
	src := tbl.InternString("tagger")
	idx.InsertEdge(entryKey, value.Int(tbl, 1), titleKey, value.String(tbl.InternString("Movie")), src)

	tx := txn.Begin(tbl, idx, nil, txn.ReadOnly)
	spec := query.NewFetchSpec(query.Column(tbl, "title", nil, 0))
	rs, err := tx.Query("entry", spec, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rs.RowCount())
	require.NoError(t, tx.Commit())

	// A second write transaction must be able to take the exclusive lock
	// immediately; if Commit above had failed to release the read lock,
	// this would deadlock (the test runner enforces a timeout).
	tx2 := txn.Begin(tbl, idx, nil, 0)
	require.NoError(t, tx2.Add("entry", value.Int(tbl, 2), "title", value.String(tbl.InternString("Other")), "tagger"))
	require.NoError(t, tx2.Commit())
}

func TestAddOnReadOnlyTxnErrors(t *testing.T) {
	tbl, idx := newMemoryFixture()
	tx := txn.Begin(tbl, idx, nil, txn.ReadOnly)
	defer tx.Commit()
	err := tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("x")), "tagger")
	require.Error(t, err)
}

func TestUseAfterCommitErrors(t *testing.T) {
	tbl, idx := newMemoryFixture()
	tx := txn.Begin(tbl, idx, nil, 0)
	require.NoError(t, tx.Commit())
	require.Error(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("x")), "tagger"))
	require.Error(t, tx.Del("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("x")), "tagger"))
	require.Error(t, tx.Commit())
}

func TestCommitAppendsToWALAndSurvivesRecovery(t *testing.T) {
	tbl, idx := newMemoryFixture()
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := wal.Recover(path, nil, 0, func(ops []wal.ReplayOp) error { return nil })
	require.NoError(t, err)

	tx := txn.Begin(tbl, idx, w, 0)
	require.NoError(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString("Movie")), "tagger"))
	require.NoError(t, tx.Commit())
	require.NoError(t, w.Close())

	tbl2 := intern.NewTable()
	idx2 := relindex.New(tbl2)
	w2, err := wal.Recover(path, nil, 0, func(ops []wal.ReplayOp) error {
		for _, op := range ops {
			ka := tbl2.InternString(op.Edge.KA)
			kb := tbl2.InternString(op.Edge.KB)
			src := tbl2.InternString(op.Edge.Src)
			va := rawToValue(tbl2, op.Edge.VA)
			vb := rawToValue(tbl2, op.Edge.VB)
			switch op.Kind {
			case wal.Add:
				idx2.InsertEdge(ka, va, kb, vb, src)
			case wal.Del:
				idx2.DeleteEdge(ka, va, kb, vb, src)
			}
		}
		return nil
	})
	require.NoError(t, err)
	defer w2.Close()

	titleKey := tbl2.InternString("title")
	require.True(t, idx2.HasValue(titleKey, value.String(tbl2.InternString("Movie"))))
}

func rawToValue(tbl *intern.Table, raw wal.RawValue) value.Value {
	if raw.IsInt {
		return value.Int(tbl, raw.IntVal)
	}
	return value.String(tbl.InternString(raw.StrVal))
}

func TestCommitReportsLogFullWithoutMutatingIndex(t *testing.T) {
	tbl, idx := newMemoryFixture()
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := wal.Recover(path, nil, 0, func(ops []wal.ReplayOp) error { return nil })
	require.NoError(t, err)
	defer w.Close()

	tx := txn.Begin(tbl, idx, w, 0)
	huge := make([]byte, wal.Capacity)
	require.NoError(t, tx.Add("entry", value.Int(tbl, 1), "title", value.String(tbl.InternString(string(huge))), "tagger"))

	err = tx.Commit()
	require.ErrorIs(t, err, wal.ErrLogFull)

	require.Empty(t, idx.OtherSides(tbl.InternString("entry"), value.Int(tbl, 1)), "a log-full commit must leave the index unchanged")
}
