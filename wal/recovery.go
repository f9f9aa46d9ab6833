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
	"go.uber.org/zap"
)

// ReplayOp is one decoded ADD/DEL operation from a committed bracket,
// handed to the caller-supplied apply callback in §4.8 recovery step 4.
// Recovery itself never touches the relation index — that would invert
// the package's dependency direction — so the callback lives in the
// package that owns both the index and the intern table (package s4).
type ReplayOp struct {
	Kind RecordType // Add or Del
	Edge Edge
}

// Recover opens (or creates) the WAL at path and, if it already
// existed, replays every committed transaction bracket at or after
// startAt into apply, in commit order, per §4.8 steps 1-5. apply is
// called once per committed bracket with that bracket's ops, and must
// apply them atomically (acquire the index writer lock itself).
//
// Recover returns a ready-to-use *WAL positioned to accept new writes
// immediately after the last valid record it found; a corrupt or
// unknown trailing record simply truncates replay at the last good END,
// per §7's recovery error policy.
func Recover(path string, log *zap.Logger, startAt LogNumber, apply func(ops []ReplayOp) error) (*WAL, error) {
	w, created, err := Open(path, log)
	if err != nil {
		return nil, err
	}

	if created {
		if err := w.writeInit(); err != nil {
			w.Close()
			return nil, err
		}
		return w, nil
	}

	lastValid, lastCheckpoint, err := w.replay(startAt, apply)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.setRecoveredState(lastValid, lastCheckpoint)
	return w, nil
}

func (w *WAL) writeInit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeRecordLocked(pendingRecord{typ: Init}); err != nil {
		return err
	}
	return w.mm.Flush()
}

// readAt decodes the header and payload physically located at byte
// offset off (0 <= off < Capacity). The writer never lets a record
// straddle the capacity boundary (it emits WRAP first), so a
// single contiguous read always suffices.
func (w *WAL) readAt(off int64) (Header, []byte, error) {
	if off < 0 || off+headerSize > Capacity {
		return Header{}, nil, ErrCorrupt
	}
	hdr, err := decodeHeader(w.mm[off : off+headerSize])
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.PayloadLen == 0 {
		return hdr, nil, nil
	}
	start := off + headerSize
	end := start + int64(hdr.PayloadLen)
	if end > Capacity {
		return Header{}, nil, ErrCorrupt
	}
	payload := make([]byte, hdr.PayloadLen)
	copy(payload, w.mm[start:end])
	return hdr, payload, nil
}

// replay walks the ring from startAt, applying committed brackets in
// order, and returns the position immediately after the last valid
// record plus the last_checkpoint resolved along the way.
func (w *WAL) replay(startAt LogNumber, apply func(ops []ReplayOp) error) (LogNumber, LogNumber, error) {
	capacity := Capacity
	pos := int64(startAt) % capacity
	round := int64(startAt) / capacity

	lastValid := startAt
	lastCheckpoint := startAt

	var (
		inBracket   bool
		bracketOps  []ReplayOp
		pendingSync *LogNumber
		localCkpt   *LogNumber
	)

	for {
		expected := LogNumber(pos + round*capacity)
		hdr, payload, err := w.readAt(pos)
		if err != nil {
			break
		}
		if hdr.Num != expected {
			break
		}

		switch hdr.Type {
		case Wrap:
			round++
			pos = 0
			continue

		case Begin:
			if inBracket {
				// Malformed nested BEGIN; stop at the last good END.
				goto done
			}
			inBracket = true
			bracketOps = bracketOps[:0]
			pendingSync = nil
			localCkpt = nil

		case Add, Del:
			if !inBracket {
				goto done
			}
			edge, derr := decodeEdge(payload)
			if derr != nil {
				goto done
			}
			bracketOps = append(bracketOps, ReplayOp{Kind: hdr.Type, Edge: edge})

		case Writing:
			if !inBracket {
				goto done
			}
			n := hdr.Num
			pendingSync = &n

		case Checkpoint:
			if !inBracket {
				goto done
			}
			n, cerr := decodeCheckpoint(payload)
			if cerr != nil {
				goto done
			}
			localCkpt = &n

		case End:
			if !inBracket {
				goto done
			}
			if len(bracketOps) > 0 {
				if aerr := apply(bracketOps); aerr != nil {
					goto done
				}
			}
			switch {
			case localCkpt != nil:
				lastCheckpoint = *localCkpt
			case pendingSync != nil:
				lastCheckpoint = *pendingSync
			}
			inBracket = false
			lastValid = LogNumber(pos + int64(headerSize) + int64(hdr.PayloadLen) + round*capacity)

		case Init:
			// Only ever valid as the very first record of a freshly created
			// file, which Recover handles before calling replay.

		default:
			goto done
		}

		pos += int64(headerSize) + int64(hdr.PayloadLen)
	}

done:
	return lastValid, lastCheckpoint, nil
}
