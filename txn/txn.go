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

// Package txn implements the transaction and oplist machinery of §4.7:
// a Txn accumulates Add/Del operations and applies them to the relation
// index and WAL atomically on Commit, or discards them on Abort.
package txn

import (
	"github.com/pkg/errors"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/query"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/value"
	"github.com/trofi/s4/wal"
)

// Flags controls how Begin opens a transaction.
type Flags uint32

const (
	// ReadOnly transactions take the index's shared reader lock at
	// Begin and never touch the WAL; Commit and Abort both simply
	// release that lock.
	ReadOnly Flags = 1 << iota
)

// ErrPrecondition is returned by Commit when a Del op's tuple was not
// present, the "precondition failure" of §4.7 step 2 that rolls back
// every op already applied in this commit.
var ErrPrecondition = errors.New("txn: delete precondition failed, tuple not present")

// Txn is one transaction against a DB: accumulate ops with Add/Del,
// finish with Commit or Abort. The zero Txn is not usable; build one
// with Begin.
type Txn struct {
	tbl *intern.Table
	idx *relindex.Index
	w   *wal.WAL // nil in Memory-mode DBs; commits then skip the log entirely

	flags Flags
	ops   Oplist
	done  bool
}

// Begin opens a transaction against idx/tbl/w. A read-only Begin takes
// idx's shared lock immediately and holds it until Commit/Abort;
// a read-write Begin takes no lock until Commit (§4.7: the writer lock
// is only held for the duration of the commit's mutations, not for the
// lifetime of the whole transaction).
func Begin(tbl *intern.Table, idx *relindex.Index, w *wal.WAL, flags Flags) *Txn {
	t := &Txn{tbl: tbl, idx: idx, w: w, flags: flags}
	if flags&ReadOnly != 0 {
		idx.RLock()
	}
	return t
}

func (t *Txn) readOnly() bool { return t.flags&ReadOnly != 0 }

// Add enqueues a relationship to be stored on Commit. It interns every
// atom immediately so Oplist holds only stable ids.
func (t *Txn) Add(ka string, va value.Value, kb string, vb value.Value, src string) error {
	if t.readOnly() {
		return errors.New("txn: Add on a read-only transaction")
	}
	if t.done {
		return errors.New("txn: use after Commit/Abort")
	}
	t.ops = append(t.ops, Op{
		Kind: OpAdd,
		KA:   t.tbl.InternString(ka), VA: va,
		KB: t.tbl.InternString(kb), VB: vb,
		Src: t.tbl.InternString(src),
	})
	return nil
}

// Del enqueues a relationship removal to be applied on Commit.
func (t *Txn) Del(ka string, va value.Value, kb string, vb value.Value, src string) error {
	if t.readOnly() {
		return errors.New("txn: Del on a read-only transaction")
	}
	if t.done {
		return errors.New("txn: use after Commit/Abort")
	}
	t.ops = append(t.ops, Op{
		Kind: OpDel,
		KA:   t.tbl.InternString(ka), VA: va,
		KB: t.tbl.InternString(kb), VB: vb,
		Src: t.tbl.InternString(src),
	})
	return nil
}

// Query runs spec/cond over the index, anchored at the interned key
// anchorKey (conventionally "entry"). Safe on both read-only and
// read-write transactions; a read-write Txn takes the shared lock for
// the duration of this call only, since it does not hold it between
// ops the way a read-only Txn does.
func (t *Txn) Query(anchorKey string, spec query.FetchSpec, cond query.Condition) (*query.ResultSet, error) {
	if t.done {
		return nil, errors.New("txn: use after Commit/Abort")
	}
	key := t.tbl.InternString(anchorKey)
	if !t.readOnly() {
		t.idx.RLock()
		defer t.idx.RUnlock()
	}
	return query.Query(t.idx, t.tbl, key, spec, cond), nil
}

// Commit runs the 5-step protocol of §4.7: acquire the writer lock,
// apply every op with rollback-on-precondition-failure, size-check the
// WAL bracket before anything is written to it, append and fsync, then
// release the lock. A read-only Txn's Commit only releases the shared
// lock taken at Begin.
func (t *Txn) Commit() error {
	if t.done {
		return errors.New("txn: use after Commit/Abort")
	}
	t.done = true

	if t.readOnly() {
		t.idx.RUnlock()
		return nil
	}

	t.idx.Lock()
	defer t.idx.Unlock()

	applied := make([]Op, 0, len(t.ops))
	var precondErr error
	for _, op := range t.ops {
		switch op.Kind {
		case OpAdd:
			t.idx.InsertEdge(op.KA, op.VA, op.KB, op.VB, op.Src)
			applied = append(applied, op)
		case OpDel:
			if !t.idx.DeleteEdge(op.KA, op.VA, op.KB, op.VB, op.Src) {
				precondErr = ErrPrecondition
			} else {
				applied = append(applied, op)
			}
		}
		if precondErr != nil {
			break
		}
	}
	if precondErr != nil {
		rollback(t.idx, applied)
		return precondErr
	}

	if t.w == nil {
		// Memory-mode DB: no log to append to.
		return nil
	}

	kinds, payloads := t.buildWALRecords()
	if !t.w.CanAppend(kinds, payloads) {
		rollback(t.idx, applied)
		return wal.ErrLogFull
	}
	if err := t.w.AppendTxn(kinds, payloads); err != nil {
		// The WAL handle is now read-only (§7); the in-memory index stays
		// as applied since the failure is a durability failure, not a
		// validity failure, matching the "mark read-only" policy rather
		// than a full rollback.
		return errors.Wrap(err, "txn: wal append")
	}
	return nil
}

// Abort discards the oplist without mutating the index. A read-only
// Txn's Abort releases the shared lock taken at Begin.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	if t.readOnly() {
		t.idx.RUnlock()
		return
	}
	t.ops = nil
}

// rollback undoes already-applied ops in reverse order: an applied Add
// is undone with DeleteEdge, an applied Del is undone with InsertEdge.
func rollback(idx *relindex.Index, applied []Op) {
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		switch op.Kind {
		case OpAdd:
			idx.DeleteEdge(op.KA, op.VA, op.KB, op.VB, op.Src)
		case OpDel:
			idx.InsertEdge(op.KA, op.VA, op.KB, op.VB, op.Src)
		}
	}
}

func (t *Txn) buildWALRecords() ([]wal.RecordType, [][]byte) {
	kinds := make([]wal.RecordType, 0, len(t.ops))
	payloads := make([][]byte, 0, len(t.ops))
	for _, op := range t.ops {
		var kind wal.RecordType
		switch op.Kind {
		case OpAdd:
			kind = wal.Add
		case OpDel:
			kind = wal.Del
		default:
			continue
		}
		edge := wal.Edge{
			KA:  mustString(t.tbl, op.KA),
			VA:  rawValue(t.tbl, op.VA),
			KB:  mustString(t.tbl, op.KB),
			VB:  rawValue(t.tbl, op.VB),
			Src: mustString(t.tbl, op.Src),
		}
		kinds = append(kinds, kind)
		payloads = append(payloads, edge.EncodePayload())
	}
	return kinds, payloads
}

func mustString(tbl *intern.Table, id intern.StringID) string {
	s, _ := tbl.String(id)
	return s
}

// rawValue recovers the exact wire form of v: interning is lossless
// for both kinds (an interned string yields its original bytes back; an
// interned int32 was widened to int64 on the way in and narrows back
// exactly), so the WAL payload never needs a separate un-interned copy
// alongside the live Value.
func rawValue(tbl *intern.Table, v value.Value) wal.RawValue {
	if id, ok := v.IntID(); ok {
		n, _ := tbl.Int(id)
		return wal.RawValue{IsInt: true, IntVal: int32(n)}
	}
	id, _ := v.StringID()
	s, _ := tbl.String(id)
	return wal.RawValue{StrVal: s}
}
