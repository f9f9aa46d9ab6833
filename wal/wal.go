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

package wal

import (
	"os"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Capacity is the fixed WAL ring-buffer size (§4.8).
const Capacity = int64(2 * datasize.MB)

var (
	// ErrLogFull is returned by AppendTxn and AppendCheckpoint when the record would overwrite a
	// region not yet covered by a checkpoint; callers retry after a
	// checkpoint runs.
	ErrLogFull = errors.New("wal: log full, checkpoint required")
	// ErrCorrupt marks a WAL whose tail failed to decode during recovery.
	ErrCorrupt = errors.New("wal: corrupt record")
)

// WAL is the fixed-capacity ring-buffer write-ahead log. A single
// mutex serializes position-counter and file-buffer access, matching
// §5's "WAL has a dedicated mutex covering the file position counters
// and file buffer".
type WAL struct {
	mu sync.Mutex

	path string
	f    *os.File
	mm   mmap.MMap

	rlock *flock.Flock // advisory reader lock, standing in for byte 0 (§4.8)
	wlock *flock.Flock // advisory writer lock, standing in for byte 1

	writePos       LogNumber
	lastCheckpoint LogNumber
	pendingSync    *LogNumber // not read or written; replay tracks the WRITING candidate in a local variable

	readOnly bool // set once a write/fsync fails; commits are then refused
	log      *zap.Logger
}

// Open opens or creates the WAL file at path and takes the writer
// advisory lock. created reports whether the file was freshly
// initialized (caller should write INIT).
func Open(path string, log *zap.Logger) (w *WAL, created bool, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	info, statErr := os.Stat(path)
	created = statErr != nil
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, errors.Wrap(err, "wal: open file")
	}
	if created || info.Size() != Capacity {
		if err := f.Truncate(Capacity); err != nil {
			f.Close()
			return nil, false, errors.Wrap(err, "wal: truncate to capacity")
		}
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, false, errors.Wrap(err, "wal: mmap")
	}

	wlock := flock.New(path + ".wlock")
	if err := wlock.Lock(); err != nil {
		mm.Unmap()
		f.Close()
		return nil, false, errors.Wrap(err, "wal: acquire writer lock")
	}
	rlock := flock.New(path + ".rlock")
	if err := rlock.RLock(); err != nil {
		wlock.Unlock()
		mm.Unmap()
		f.Close()
		return nil, false, errors.Wrap(err, "wal: acquire reader lock")
	}

	w = &WAL{
		path:  path,
		f:     f,
		mm:    mm,
		rlock: rlock,
		wlock: wlock,
		log:   log.Named("wal"),
	}
	return w, created, nil
}

// Memory-mode DBs have no WAL at all: a nil *WAL means "no log", handled
// explicitly by callers (txn.Commit and s4.Close both check for a nil
// WAL, and Close below is a no-op on nil).

// Close flushes, unmaps, and releases both advisory locks.
func (w *WAL) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	if err := w.mm.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.mm.Unmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.rlock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.wlock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ReadOnly reports whether a prior WAL I/O failure marked the handle
// read-only (§7: "WAL I/O failures during commit ... mark the handle
// read-only").
func (w *WAL) ReadOnly() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readOnly
}

// LastCheckpoint returns the most recently durable checkpoint position.
func (w *WAL) LastCheckpoint() LogNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheckpoint
}

// WritePos returns the current write cursor, for diagnostics.
func (w *WAL) WritePos() LogNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writePos
}

// setRecoveredState is called once by Recover to seed the write cursor
// and last-checkpoint position before live writing resumes.
func (w *WAL) setRecoveredState(writePos, lastCheckpoint LogNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writePos = writePos
	w.lastCheckpoint = lastCheckpoint
}

type pendingRecord struct {
	typ     RecordType
	payload []byte
}

// estimateSize returns the on-disk size of records if written back to
// back with no wrapping, i.e. a lower bound used by CanAppend. It does
// not account for WRAP headers possibly inserted between records; the
// capacity margin set aside below a checkpoint boundary comfortably
// absorbs the rare extra WRAP header per bracket.
func estimateSize(records []pendingRecord) int64 {
	var total int64
	for _, r := range records {
		total += headerSize + int64(len(r.payload))
	}
	return total
}

// CanAppend reports whether a BEGIN/kinds.../END bracket would fit
// without overwriting the un-checkpointed region of the ring, letting
// txn.Commit perform the size check of §4.7 step 3 before mutating the
// index, so a log-full condition never needs an index rollback of its
// own.
func (w *WAL) CanAppend(kinds []RecordType, payloads [][]byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	records := make([]pendingRecord, 0, len(kinds)+2)
	records = append(records, pendingRecord{typ: Begin})
	for i, k := range kinds {
		var p []byte
		if i < len(payloads) {
			p = payloads[i]
		}
		records = append(records, pendingRecord{typ: k, payload: p})
	}
	records = append(records, pendingRecord{typ: End})
	return w.canAppendLocked(estimateSize(records))
}

// canAppendLocked reports whether a transaction bracket of the given
// pre-estimated size can be written without overwriting the
// un-checkpointed region of the ring (§4.7 step 3).
func (w *WAL) canAppendLocked(size int64) bool {
	used := int64(w.writePos - w.lastCheckpoint)
	// One WRAP header's worth of slack for the at-most-one wrap a single
	// bracket can trigger.
	return used+size+headerSize <= Capacity
}

// AppendTxn writes a BEGIN / edges / END bracket, flushing and syncing
// before returning, per §4.7 step 4. kinds may also be a lone Writing
// record with a nil payload, which s4's checkpoint uses to mark the
// snapshot boundary; read-only transactions never call it.
func (w *WAL) AppendTxn(kinds []RecordType, payloads [][]byte) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.readOnly {
		return errors.New("wal: handle is read-only after a prior I/O failure")
	}

	records := make([]pendingRecord, 0, len(kinds)+2)
	records = append(records, pendingRecord{typ: Begin})
	for i, k := range kinds {
		var p []byte
		if i < len(payloads) {
			p = payloads[i]
		}
		records = append(records, pendingRecord{typ: k, payload: p})
	}
	records = append(records, pendingRecord{typ: End})

	if !w.canAppendLocked(estimateSize(records)) {
		return ErrLogFull
	}

	defer func() {
		if err != nil {
			w.readOnly = true
		}
	}()

	for _, r := range records {
		if err = w.writeRecordLocked(r); err != nil {
			return err
		}
	}
	if err = w.mm.Flush(); err != nil {
		return errors.Wrap(err, "wal: fsync")
	}
	return nil
}

// AppendCheckpoint writes a BEGIN / CHECKPOINT(last_synced) / END
// bracket and advances last_checkpoint, per the checkpoint protocol in
// §4.8.
func (w *WAL) AppendCheckpoint(lastSynced LogNumber) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.readOnly {
		return errors.New("wal: handle is read-only after a prior I/O failure")
	}

	records := []pendingRecord{
		{typ: Begin},
		{typ: Checkpoint, payload: encodeCheckpoint(lastSynced)},
		{typ: End},
	}
	if !w.canAppendLocked(estimateSize(records)) {
		return ErrLogFull
	}
	for _, r := range records {
		if err := w.writeRecordLocked(r); err != nil {
			w.readOnly = true
			return err
		}
	}
	if err := w.mm.Flush(); err != nil {
		w.readOnly = true
		return errors.Wrap(err, "wal: fsync")
	}
	w.lastCheckpoint = lastSynced
	return nil
}

// writeRecordLocked writes one header+payload, first emitting a WRAP
// marker and rewinding to offset 0 if the record would straddle the
// capacity boundary or leave less than one header of room after it, so
// that the next header (a WRAP included) always fits before the end.
func (w *WAL) writeRecordLocked(r pendingRecord) error {
	need := headerSize + int64(len(r.payload))

	offset := int64(w.writePos) % Capacity
	if offset+need > Capacity-headerSize {
		wrapHdr := Header{Type: Wrap, Num: w.writePos}
		copy(w.mm[offset:], wrapHdr.encode())
		// Resume at the start of the next round.
		w.writePos += LogNumber(Capacity - offset)
		offset = 0
	}

	hdr := Header{
		Type:       r.typ,
		Num:        w.writePos,
		Checksum:   checksum(r.payload),
		PayloadLen: uint32(len(r.payload)),
	}
	copy(w.mm[offset:], hdr.encode())
	if len(r.payload) > 0 {
		copy(w.mm[offset+headerSize:], r.payload)
	}
	w.writePos += LogNumber(need)
	return nil
}
