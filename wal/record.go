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

// Package wal implements the fixed-capacity ring-buffer write-ahead log
// described in §4.8: bracketed BEGIN/.../END transaction records,
// CHECKPOINT/WRITING snapshot coordination, and WRAP markers for the
// ring boundary.
package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// LogNumber is a monotonic absolute byte position into the WAL; the
// physical file offset is LogNumber mod Capacity.
type LogNumber uint64

// RecordType tags a WAL header, matching the table in §4.8.
type RecordType uint32

const (
	Init RecordType = iota + 1
	Begin
	Add
	Del
	Writing
	End
	Checkpoint
	Wrap
)

func (t RecordType) String() string {
	switch t {
	case Init:
		return "INIT"
	case Begin:
		return "BEGIN"
	case Add:
		return "ADD"
	case Del:
		return "DEL"
	case Writing:
		return "WRITING"
	case End:
		return "END"
	case Checkpoint:
		return "CHECKPOINT"
	case Wrap:
		return "WRAP"
	default:
		return fmt.Sprintf("RecordType(%d)", uint32(t))
	}
}

// headerSize is the on-disk size of a Header: Type(4) + Num(8) +
// Checksum(8) + PayloadLen(4), all little-endian per §6.
const headerSize = 4 + 8 + 8 + 4

// Header is the fixed-size prefix of every WAL record. A header is only
// considered valid during recovery if its stored Num matches the
// absolute position it was read from (§4.8: "this detects overwritten
// regions when the ring wrapped past the reader").
type Header struct {
	Type       RecordType
	Num        LogNumber
	Checksum   uint64
	PayloadLen uint32
}

func (h Header) encode() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint64(b[4:12], uint64(h.Num))
	binary.LittleEndian.PutUint64(b[12:20], h.Checksum)
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadLen)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("wal: short header read (%d bytes)", len(b))
	}
	return Header{
		Type:       RecordType(binary.LittleEndian.Uint32(b[0:4])),
		Num:        LogNumber(binary.LittleEndian.Uint64(b[4:12])),
		Checksum:   binary.LittleEndian.Uint64(b[12:20]),
		PayloadLen: binary.LittleEndian.Uint32(b[20:24]),
	}, nil
}

// modHeaderSize is the size of the 5 int32 length fields that prefix
// every ADD/DEL payload.
const modHeaderSize = 5 * 4

// modHeader carries the lengths of the five fields following it in an
// ADD/DEL payload. A length of -1 means the field is a 4-byte int32
// payload rather than a string of that many bytes (§4.8).
type modHeader struct {
	KALen, VALen, KBLen, VBLen, SLen int32
}

func (m modHeader) encode() []byte {
	b := make([]byte, modHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.KALen))
	binary.LittleEndian.PutUint32(b[4:8], uint32(m.VALen))
	binary.LittleEndian.PutUint32(b[8:12], uint32(m.KBLen))
	binary.LittleEndian.PutUint32(b[12:16], uint32(m.VBLen))
	binary.LittleEndian.PutUint32(b[16:20], uint32(m.SLen))
	return b
}

func decodeModHeader(b []byte) (modHeader, error) {
	if len(b) < modHeaderSize {
		return modHeader{}, fmt.Errorf("wal: short mod_header read (%d bytes)", len(b))
	}
	return modHeader{
		KALen: int32(binary.LittleEndian.Uint32(b[0:4])),
		VALen: int32(binary.LittleEndian.Uint32(b[4:8])),
		KBLen: int32(binary.LittleEndian.Uint32(b[8:12])),
		VBLen: int32(binary.LittleEndian.Uint32(b[12:16])),
		SLen:  int32(binary.LittleEndian.Uint32(b[16:20])),
	}, nil
}

// RawValue is an un-interned payload value as it appears on the wire: a
// 4-byte int32 or raw string bytes, decided by IsInt.
type RawValue struct {
	IsInt  bool
	IntVal int32
	StrVal string
}

// Edge is the un-interned form of one ADD/DEL operation's 5-tuple: live
// commits encode it into a WAL payload, and recovery decodes payloads
// back into it before the apply callback re-interns it for the index.
type Edge struct {
	KA  string
	VA  RawValue
	KB  string
	VB  RawValue
	Src string
}

func encodedLen(v RawValue) int32 {
	if v.IsInt {
		return 4
	}
	return int32(len(v.StrVal))
}

// EncodePayload serializes e into the mod_header + fields layout
// decodeEdge expects, the payload carried by an ADD/DEL record.
func (e Edge) EncodePayload() []byte {
	mh := modHeader{
		KALen: int32(len(e.KA)),
		VALen: valLen(e.VA),
		KBLen: int32(len(e.KB)),
		VBLen: valLen(e.VB),
		SLen:  int32(len(e.Src)),
	}
	size := modHeaderSize + len(e.KA) + int(encodedLen(e.VA)) + len(e.KB) + int(encodedLen(e.VB)) + len(e.Src)
	buf := make([]byte, 0, size)
	buf = append(buf, mh.encode()...)
	buf = append(buf, []byte(e.KA)...)
	buf = append(buf, encodeValue(e.VA)...)
	buf = append(buf, []byte(e.KB)...)
	buf = append(buf, encodeValue(e.VB)...)
	buf = append(buf, []byte(e.Src)...)
	return buf
}

func valLen(v RawValue) int32 {
	if v.IsInt {
		return -1
	}
	return int32(len(v.StrVal))
}

func encodeValue(v RawValue) []byte {
	if v.IsInt {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.IntVal))
		return b
	}
	return []byte(v.StrVal)
}

func decodeEdge(payload []byte) (Edge, error) {
	mh, err := decodeModHeader(payload)
	if err != nil {
		return Edge{}, err
	}
	off := modHeaderSize

	readStr := func(n int32) (string, error) {
		if off+int(n) > len(payload) {
			return "", fmt.Errorf("wal: truncated payload")
		}
		s := string(payload[off : off+int(n)])
		off += int(n)
		return s, nil
	}
	readValue := func(n int32) (RawValue, error) {
		if n == -1 {
			if off+4 > len(payload) {
				return RawValue{}, fmt.Errorf("wal: truncated int payload")
			}
			v := int32(binary.LittleEndian.Uint32(payload[off : off+4]))
			off += 4
			return RawValue{IsInt: true, IntVal: v}, nil
		}
		if off+int(n) > len(payload) {
			return RawValue{}, fmt.Errorf("wal: truncated string payload")
		}
		s := string(payload[off : off+int(n)])
		off += int(n)
		return RawValue{StrVal: s}, nil
	}

	ka, err := readStr(mh.KALen)
	if err != nil {
		return Edge{}, err
	}
	va, err := readValue(mh.VALen)
	if err != nil {
		return Edge{}, err
	}
	kb, err := readStr(mh.KBLen)
	if err != nil {
		return Edge{}, err
	}
	vb, err := readValue(mh.VBLen)
	if err != nil {
		return Edge{}, err
	}
	src, err := readStr(mh.SLen)
	if err != nil {
		return Edge{}, err
	}
	return Edge{KA: ka, VA: va, KB: kb, VB: vb, Src: src}, nil
}

func checksum(payload []byte) uint64 {
	if len(payload) == 0 {
		return 0
	}
	return xxhash.Sum64(payload)
}

func encodeCheckpoint(n LogNumber) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(n))
	return b
}

func decodeCheckpoint(b []byte) (LogNumber, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("wal: short checkpoint payload")
	}
	return LogNumber(binary.LittleEndian.Uint64(b)), nil
}
