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

package s4

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errno mirrors the C-contract status codes of §7, exposed for callers
// ported from that surface; every public entry point also returns a
// normal Go error that wraps one of the sentinels below.
type Errno int

const (
	OK Errno = iota
	NOENT
	EXISTS
	LOGOPEN
	OPEN
	INUSE
	LOG_FULL
	CORRUPT_WAL
	IO
)

func (e Errno) String() string {
	switch e {
	case OK:
		return "OK"
	case NOENT:
		return "NOENT"
	case EXISTS:
		return "EXISTS"
	case LOGOPEN:
		return "LOGOPEN"
	case OPEN:
		return "OPEN"
	case INUSE:
		return "INUSE"
	case LOG_FULL:
		return "LOG_FULL"
	case CORRUPT_WAL:
		return "CORRUPT_WAL"
	case IO:
		return "IO"
	default:
		return fmt.Sprintf("Errno(%d)", int(e))
	}
}

// errnoError pairs a sentinel Errno with the causal chain that produced
// it, so callers can both errors.Is against the sentinel and read a
// human-readable cause via Error().
type errnoError struct {
	errno Errno
	cause error
}

func (e *errnoError) Error() string {
	if e.cause == nil {
		return e.errno.String()
	}
	return fmt.Sprintf("%s: %s", e.errno, e.cause)
}

func (e *errnoError) Unwrap() error { return e.cause }

// Is reports whether target is the same Errno sentinel, so
// errors.Is(err, s4.ErrNotExist) works through any amount of
// pkg/errors wrapping.
func (e *errnoError) Is(target error) bool {
	other, ok := target.(*errnoError)
	return ok && other.errno == e.errno
}

func wrapErrno(errno Errno, cause error) error {
	return &errnoError{errno: errno, cause: cause}
}

// Sentinel errors for errors.Is comparisons at each Errno.
var (
	ErrNotExist   = &errnoError{errno: NOENT}
	ErrExists     = &errnoError{errno: EXISTS}
	ErrLogOpen    = &errnoError{errno: LOGOPEN}
	ErrOpen       = &errnoError{errno: OPEN}
	ErrInUse      = &errnoError{errno: INUSE}
	ErrLogFull    = &errnoError{errno: LOG_FULL}
	ErrCorruptWAL = &errnoError{errno: CORRUPT_WAL}
	ErrIO         = &errnoError{errno: IO}
)

// errnoOf reports the Errno carried by err, or OK if err is nil, or IO
// for any error that doesn't carry one (an unexpected internal failure
// is still reported as a generic I/O-class error rather than OK).
func errnoOf(err error) Errno {
	if err == nil {
		return OK
	}
	var ee *errnoError
	if errors.As(err, &ee) {
		return ee.errno
	}
	return IO
}
