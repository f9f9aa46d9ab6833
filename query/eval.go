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

package query

import (
	"path"
	"strings"

	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/sourcepref"
	"github.com/trofi/s4/value"
)

func (f *Filter) matches(ec *evalContext, anchorKey intern.StringID, anchorVal value.Value) bool {
	if f == nil {
		return true
	}
	if f.Parent {
		return f.testValue(ec.tbl, anchorVal)
	}
	for _, side := range ec.idx.OtherSides(anchorKey, anchorVal) {
		if side.OtherKey != f.Key {
			continue
		}
		if f.Pref != nil && f.Pref.PriorityOf(ec.tbl, side.Source) == sourcepref.MaxPriority {
			continue
		}
		if f.testValue(ec.tbl, side.OtherVal) {
			return true
		}
	}
	return false
}

func (f *Filter) testValue(tbl *intern.Table, candidate value.Value) bool {
	switch f.Mode {
	case Equal:
		if f.Operand == nil {
			return false
		}
		if f.CaseSensitive {
			return value.Equal(candidate, *f.Operand)
		}
		return value.CompareFold(tbl, candidate, *f.Operand) == 0
	case Smaller:
		if f.Operand == nil {
			return false
		}
		return value.Compare(tbl, candidate, *f.Operand) < 0
	case Greater:
		if f.Operand == nil {
			return false
		}
		return value.Compare(tbl, candidate, *f.Operand) > 0
	case MatchGlob:
		if f.Operand == nil {
			return false
		}
		cs := candidate.Resolve(tbl)
		pat := f.Operand.Resolve(tbl)
		if !f.CaseSensitive {
			cs = strings.ToUpper(cs)
			pat = strings.ToUpper(pat)
		}
		ok, err := path.Match(pat, cs)
		return err == nil && ok
	case TokenExists:
		if f.Operand == nil {
			return false
		}
		cs := candidate.Resolve(tbl)
		tok := f.Operand.Resolve(tbl)
		if !f.CaseSensitive {
			cs = strings.ToUpper(cs)
			tok = strings.ToUpper(tok)
		}
		for _, field := range strings.Fields(cs) {
			if field == tok {
				return true
			}
		}
		return false
	case Custom:
		if f.CustomFn == nil {
			return false
		}
		return f.CustomFn(tbl, candidate)
	default:
		return false
	}
}

// evalEntries returns the anchor values under anchorKey that satisfy
// cond. Per §4.5, a parent filter on the anchor key itself takes a fast
// path: case-sensitive or integer equality is a point lookup in the
// key's value map, range filters dispatch to the relindex auxiliary
// B-tree, and match-glob and token-exists filters hand the B-tree a
// predicate instead of a contiguous range. Any other condition shape (combinators, filters
// on a different key) falls back to enumerating every value under
// anchorKey and testing the whole tree per candidate.
func evalEntries(ec *evalContext, anchorKey intern.StringID, cond Condition) []value.Value {
	if f, ok := cond.(*Filter); ok && f.Parent && f.Key == anchorKey && f.Operand != nil {
		switch f.Mode {
		case Equal:
			if f.CaseSensitive || f.Operand.Kind() == value.KindInt {
				if ec.idx.HasValue(anchorKey, *f.Operand) {
					return []value.Value{*f.Operand}
				}
				return nil
			}
			// Case-insensitive equality can't be answered by an exact-key
			// point lookup since distinct ids may fold-compare equal; fall
			// through to the predicate scan below.
		case Smaller:
			return ec.idx.ScanRange(anchorKey, value.Value{}, false, *f.Operand, true)
		case Greater:
			var out []value.Value
			for _, v := range ec.idx.ScanRange(anchorKey, *f.Operand, true, value.Value{}, false) {
				if !value.Equal(v, *f.Operand) {
					out = append(out, v)
				}
			}
			return out
		case MatchGlob, TokenExists:
			return ec.idx.ScanPredicate(anchorKey, func(v value.Value) bool { return f.testValue(ec.tbl, v) })
		}
	}

	var out []value.Value
	for _, v := range ec.idx.Values(anchorKey) {
		if cond == nil || cond.matches(ec, anchorKey, v) {
			out = append(out, v)
		}
	}
	return out
}
