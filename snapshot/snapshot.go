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

// Package snapshot persists and restores the full in-memory state (atom
// tables plus every stored tuple) described in §4.8's recovery step 2:
// "load the snapshot, if any, and its last_checkpoint number". A
// snapshot is a zstd-compressed container so that periodic checkpoints
// of a large relation index stay cheap to write and to ship around.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/value"
	"github.com/trofi/s4/wal"
)

// magic identifies the container format and catches an attempt to load
// a file written by an incompatible version.
var magic = [8]byte{'s', '4', 's', 'n', 'a', 'p', '1', '\n'}

// Save writes tbl, every tuple in idx, and lastCheckpoint to w at the
// given zstd compression level. Callers hold idx's reader lock (s4's
// checkpoint does) for the duration of the call; Save itself takes no
// lock.
func Save(w io.Writer, tbl *intern.Table, idx *relindex.Index, lastCheckpoint wal.LogNumber, level zstd.EncoderLevel) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return errors.Wrap(err, "snapshot: new zstd writer")
	}
	bw := bufio.NewWriter(enc)

	if _, err := bw.Write(magic[:]); err != nil {
		return errors.Wrap(err, "snapshot: write magic")
	}

	if err := writeUint32(bw, uint32(tbl.StringCount())); err != nil {
		return err
	}
	var werr error
	tbl.EachString(func(_ intern.StringID, s string) {
		if werr != nil {
			return
		}
		werr = writeString(bw, s)
	})
	if werr != nil {
		return errors.Wrap(werr, "snapshot: write string table")
	}

	if err := writeUint32(bw, uint32(tbl.IntCount())); err != nil {
		return err
	}
	tbl.EachInt(func(_ intern.IntID, v int64) {
		if werr != nil {
			return
		}
		werr = binary.Write(bw, binary.LittleEndian, v)
	})
	if werr != nil {
		return errors.Wrap(werr, "snapshot: write int table")
	}

	var tuples []tupleRec
	idx.EachTuple(func(key intern.StringID, val value.Value, side relindex.OtherSide) {
		tuples = append(tuples, tupleRec{key: key, val: val, side: side})
	})
	if err := writeUint64(bw, uint64(len(tuples))); err != nil {
		return err
	}
	for _, t := range tuples {
		if err := writeTuple(bw, t); err != nil {
			return errors.Wrap(err, "snapshot: write tuple")
		}
	}

	if err := writeUint64(bw, uint64(lastCheckpoint)); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "snapshot: flush")
	}
	return enc.Close()
}

// Load reads a snapshot produced by Save, re-interning every atom
// through tbl (which must be empty: re-interning in the original id
// order reproduces identical ids, §4.2) and inserting every tuple into
// idx. It returns the snapshot's last_checkpoint, used to seed WAL
// recovery's starting position.
func Load(r io.Reader, tbl *intern.Table, idx *relindex.Index) (wal.LogNumber, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, errors.Wrap(err, "snapshot: new zstd reader")
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	var got [8]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		return 0, errors.Wrap(err, "snapshot: read magic")
	}
	if got != magic {
		return 0, errors.New("snapshot: bad magic")
	}

	nStrings, err := readUint32(br)
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < nStrings; i++ {
		s, err := readString(br)
		if err != nil {
			return 0, errors.Wrap(err, "snapshot: read string table")
		}
		tbl.InternString(s)
	}

	nInts, err := readUint32(br)
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < nInts; i++ {
		var v int64
		if err := binary.Read(br, binary.LittleEndian, &v); err != nil {
			return 0, errors.Wrap(err, "snapshot: read int table")
		}
		tbl.InternInt(v)
	}

	nTuples, err := readUint64(br)
	if err != nil {
		return 0, err
	}
	idx.Lock()
	defer idx.Unlock()
	for i := uint64(0); i < nTuples; i++ {
		t, err := readTuple(br)
		if err != nil {
			return 0, errors.Wrap(err, "snapshot: read tuple")
		}
		idx.InsertEdge(t.key, t.val, t.side.OtherKey, t.side.OtherVal, t.side.Source)
	}

	lastCheckpoint, err := readUint64(br)
	if err != nil {
		return 0, errors.Wrap(err, "snapshot: read last_checkpoint")
	}
	return wal.LogNumber(lastCheckpoint), nil
}

type tupleRec struct {
	key  intern.StringID
	val  value.Value
	side relindex.OtherSide
}

const (
	valKindInt    = 0
	valKindString = 1
)

func writeValue(w io.Writer, v value.Value) error {
	if id, ok := v.IntID(); ok {
		if err := writeByte(w, valKindInt); err != nil {
			return err
		}
		return writeUint32(w, uint32(id))
	}
	id, _ := v.StringID()
	if err := writeByte(w, valKindString); err != nil {
		return err
	}
	return writeUint32(w, uint32(id))
}

func readValue(r io.Reader) (value.Value, error) {
	kind, err := readByte(r)
	if err != nil {
		return value.Value{}, err
	}
	id, err := readUint32(r)
	if err != nil {
		return value.Value{}, err
	}
	switch kind {
	case valKindInt:
		return value.IntFromID(intern.IntID(id)), nil
	case valKindString:
		return value.String(intern.StringID(id)), nil
	default:
		return value.Value{}, errors.Errorf("snapshot: unknown value kind %d", kind)
	}
}

func writeTuple(w io.Writer, t tupleRec) error {
	if err := writeUint32(w, uint32(t.key)); err != nil {
		return err
	}
	if err := writeValue(w, t.val); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(t.side.OtherKey)); err != nil {
		return err
	}
	if err := writeValue(w, t.side.OtherVal); err != nil {
		return err
	}
	return writeUint32(w, uint32(t.side.Source))
}

func readTuple(r io.Reader) (tupleRec, error) {
	key, err := readUint32(r)
	if err != nil {
		return tupleRec{}, err
	}
	val, err := readValue(r)
	if err != nil {
		return tupleRec{}, err
	}
	otherKey, err := readUint32(r)
	if err != nil {
		return tupleRec{}, err
	}
	otherVal, err := readValue(r)
	if err != nil {
		return tupleRec{}, err
	}
	source, err := readUint32(r)
	if err != nil {
		return tupleRec{}, err
	}
	return tupleRec{
		key: intern.StringID(key),
		val: val,
		side: relindex.OtherSide{
			OtherKey: intern.StringID(otherKey),
			OtherVal: otherVal,
			Source:   intern.StringID(source),
		},
	}, nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
