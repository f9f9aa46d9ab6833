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

// Package s4 is an embedded, single-process storage engine over
// interned atoms and symmetric relationships (§1). Open a DB, Begin a
// Txn, Add/Del relationships and Query them, Commit or Abort, Close.
package s4

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/snapshot"
	"github.com/trofi/s4/txn"
	"github.com/trofi/s4/value"
	"github.com/trofi/s4/wal"
)

// OpenFlags select how Open treats an existing/missing database, per
// §4.10.
type OpenFlags uint32

const (
	// Memory builds an ephemeral, path-less DB: no snapshot file, no
	// WAL, state lives only in the process.
	Memory OpenFlags = 1 << iota
	// New requires that no database exists yet at path; Open fails with
	// ErrExists if one does.
	New
	// Exists requires that a database already exists at path; Open
	// fails with ErrNotExist if one does not. New and Exists are
	// mutually exclusive; neither set means "open or create".
	Exists
)

// TxnFlags is the flag type Begin accepts; re-exported from package txn
// so callers never need to import it directly.
type TxnFlags = txn.Flags

// ReadOnly marks a transaction as read-only: it takes the index's
// shared lock at Begin and never touches the WAL.
const ReadOnly = txn.ReadOnly

// Txn wraps *txn.Txn to release the DB's live-transaction registry on
// Commit/Abort (§4.10: "a registry of live *txn.Txn joined by Close").
type Txn struct {
	*txn.Txn
	db *DB
}

// Commit delegates to the underlying transaction and then marks it
// finished in the owning DB's registry.
func (t *Txn) Commit() error {
	defer t.db.txnWG.Done()
	err := t.Txn.Commit()
	if errors.Is(err, wal.ErrLogFull) {
		err = wrapErrno(LOG_FULL, err)
	}
	t.db.lastErrno.Store(int32(errnoOf(err)))
	if err == nil {
		t.db.maybeCheckpoint()
	}
	return err
}

// Abort delegates to the underlying transaction and then marks it
// finished in the owning DB's registry.
func (t *Txn) Abort() {
	defer t.db.txnWG.Done()
	t.Txn.Abort()
}

// DB is the open handle to one storage engine instance.
type DB struct {
	cfg *Config
	log *zap.Logger

	memory   bool
	snapPath string
	tbl      *intern.Table
	idx      *relindex.Index
	w        *wal.WAL

	sf     singleflight.Group
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	txnWG     sync.WaitGroup
	lastErrno atomic.Int32
}

// Open opens or creates a database at path per flags (ignored, aside
// from path-lessness, when Memory is set), recovering from the
// snapshot + WAL tail if one already exists (§4.8 Recovery steps 1-5).
func Open(path string, cfg *Config, flags OpenFlags) (*DB, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.WALCapacity != 0 && int64(cfg.WALCapacity) != wal.Capacity {
		return nil, wrapErrno(OPEN, errors.Errorf("s4: WAL capacity is fixed at %d bytes", wal.Capacity))
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	db := &DB{
		cfg:    cfg,
		log:    cfg.Log.Named("s4"),
		eg:     eg,
		ctx:    egCtx,
		cancel: cancel,
	}

	if flags&Memory != 0 {
		db.memory = true
		db.tbl = intern.NewTable()
		db.idx = relindex.New(db.tbl)
		return db, nil
	}

	if path == "" {
		cancel()
		return nil, wrapErrno(OPEN, errors.New("s4: empty path"))
	}
	db.snapPath = path

	_, statErr := os.Stat(path)
	exists := statErr == nil
	switch {
	case flags&New != 0 && flags&Exists == 0 && exists:
		cancel()
		return nil, wrapErrno(EXISTS, errors.Errorf("s4: %s already exists", path))
	case flags&Exists != 0 && flags&New == 0 && !exists:
		cancel()
		return nil, wrapErrno(NOENT, errors.Errorf("s4: %s does not exist", path))
	}

	db.tbl = intern.NewTable()
	db.idx = relindex.New(db.tbl)
	var lastCheckpoint wal.LogNumber
	if exists {
		f, err := os.Open(path)
		if err != nil {
			cancel()
			return nil, wrapErrno(OPEN, err)
		}
		lastCheckpoint, err = snapshot.Load(f, db.tbl, db.idx)
		closeErr := f.Close()
		if err != nil {
			cancel()
			return nil, wrapErrno(CORRUPT_WAL, err)
		}
		if closeErr != nil {
			cancel()
			return nil, wrapErrno(IO, closeErr)
		}
	}

	w, err := wal.Recover(path+".wal", db.log, lastCheckpoint, db.applyReplay)
	if err != nil {
		cancel()
		return nil, wrapErrno(LOGOPEN, err)
	}
	db.w = w

	return db, nil
}

// applyReplay materializes one recovered transaction bracket into the
// index, called by wal.Recover in commit order (§4.8 step 4).
func (db *DB) applyReplay(ops []wal.ReplayOp) error {
	db.idx.Lock()
	defer db.idx.Unlock()
	for _, op := range ops {
		ka := db.tbl.InternString(op.Edge.KA)
		kb := db.tbl.InternString(op.Edge.KB)
		src := db.tbl.InternString(op.Edge.Src)
		va := valueFromRaw(db.tbl, op.Edge.VA)
		vb := valueFromRaw(db.tbl, op.Edge.VB)
		switch op.Kind {
		case wal.Add:
			db.idx.InsertEdge(ka, va, kb, vb, src)
		case wal.Del:
			db.idx.DeleteEdge(ka, va, kb, vb, src)
		}
	}
	return nil
}

func valueFromRaw(tbl *intern.Table, raw wal.RawValue) value.Value {
	if raw.IsInt {
		return value.Int(tbl, raw.IntVal)
	}
	return value.String(tbl.InternString(raw.StrVal))
}

// Table returns the intern table backing this DB, the handle callers
// need to build value.Value arguments for Add/Del/Query with
// value.Int/value.String.
func (db *DB) Table() *intern.Table { return db.tbl }

// Begin starts a new transaction; see txn.Begin for flag semantics.
func (db *DB) Begin(flags TxnFlags) (*Txn, error) {
	db.txnWG.Add(1)
	t := txn.Begin(db.tbl, db.idx, db.w, flags)
	return &Txn{Txn: t, db: db}, nil
}

// maybeCheckpoint fires a background snapshot, collapsing concurrent
// triggers from multiple committing writers into one in-flight run via
// singleflight, per §4.9 "only one snapshot runs at a time".
func (db *DB) maybeCheckpoint() {
	if db.memory || db.w == nil {
		return
	}
	used := float64(db.w.WritePos()-db.w.LastCheckpoint()) / float64(wal.Capacity)
	if used < db.cfg.CheckpointThreshold {
		return
	}
	db.eg.Go(func() error {
		_, err, _ := db.sf.Do("checkpoint", func() (interface{}, error) {
			return nil, db.checkpoint()
		})
		return err
	})
}

// checkpoint writes a fresh snapshot of the current index state and
// advances the WAL's durable checkpoint position, per §4.9.
func (db *DB) checkpoint() error {
	db.idx.RLock()
	boundary := db.w.WritePos()
	// WRITING marker: best-effort boundary note for crash-during-Save;
	// its absence does not break recovery (§4.8), so a failure here is
	// not fatal to the checkpoint as a whole.
	_ = db.w.AppendTxn([]wal.RecordType{wal.Writing}, [][]byte{nil})

	tmp := db.snapPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		db.idx.RUnlock()
		return errors.Wrap(err, "s4: create snapshot tmp file")
	}
	saveErr := snapshot.Save(f, db.tbl, db.idx, boundary, db.cfg.SnapshotLevel)
	closeErr := f.Close()
	db.idx.RUnlock()

	if saveErr != nil {
		os.Remove(tmp)
		return errors.Wrap(saveErr, "s4: save snapshot")
	}
	if closeErr != nil {
		os.Remove(tmp)
		return errors.Wrap(closeErr, "s4: close snapshot tmp file")
	}
	if err := os.Rename(tmp, db.snapPath); err != nil {
		return errors.Wrap(err, "s4: install snapshot")
	}
	return db.w.AppendCheckpoint(boundary)
}

// Close waits for every live transaction to finish, runs a final
// checkpoint, and releases the WAL's mmap and advisory locks.
func (db *DB) Close() error {
	db.txnWG.Wait()
	db.cancel()
	_ = db.eg.Wait()

	if !db.memory && db.w != nil && !db.w.ReadOnly() {
		if err := db.checkpoint(); err != nil {
			db.log.Warn("final checkpoint failed", zap.Error(err))
		}
	}
	if db.w != nil {
		return db.w.Close()
	}
	return nil
}

// Stats is a snapshot of cheap counters for diagnostics, read by
// cmd/s4ctl.
type Stats struct {
	StringCount   int
	IntCount      int
	KeyCount      int
	WALWritePos   wal.LogNumber
	WALCheckpoint wal.LogNumber
}

// Stats reports the current counters described by Stats.
func (db *DB) Stats() Stats {
	s := Stats{
		StringCount: db.tbl.StringCount(),
		IntCount:    db.tbl.IntCount(),
		KeyCount:    db.idx.KeyCount(),
	}
	if db.w != nil {
		s.WALWritePos = db.w.WritePos()
		s.WALCheckpoint = db.w.LastCheckpoint()
	}
	return s
}

// Errno reports the Errno carried by the most recently completed
// Commit on this DB, mirroring the C contract's thread-local-style
// accessor; Go goroutines are not OS threads, so this reads an
// atomic.Int32 scoped to the DB handle instead (documented deviation,
// §7).
func (db *DB) Errno() Errno {
	return Errno(db.lastErrno.Load())
}
