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
	"github.com/trofi/s4/intern"
	"github.com/trofi/s4/relindex"
	"github.com/trofi/s4/sourcepref"
	"github.com/trofi/s4/value"
)

// CompareMode is the comparison a Filter applies between a stored value
// and its operand.
type CompareMode int

const (
	Equal CompareMode = iota
	Smaller
	Greater
	MatchGlob
	TokenExists
	Custom
)

// Condition is a node in a filter tree: a Filter leaf or an
// And/Or/Not combinator. The evaluation method is unexported so the
// interface is sealed to this package's own node types.
type Condition interface {
	matches(ec *evalContext, anchorKey intern.StringID, anchorVal value.Value) bool
}

// Filter binds a key, a comparison mode, and an optional operand/source
// preference (§4.5). When Parent is false (the default), the filter
// matches an entry if some right-side tuple under Key satisfies the
// comparison; when Parent is true, the filter is evaluated against the
// anchor entry's own value instead (used for filters whose Key is the
// same key the query is enumerating entries over).
type Filter struct {
	Key           intern.StringID
	Mode          CompareMode
	Operand       *value.Value
	Pref          *sourcepref.Pref
	CaseSensitive bool
	Parent        bool
	// CustomFn implements CompareMode Custom; it receives the candidate
	// value and reports whether it matches.
	CustomFn func(tbl *intern.Table, candidate value.Value) bool
}

// NewFilter interns key and builds a Filter.
func NewFilter(tbl *intern.Table, key string, mode CompareMode, operand *value.Value, pref *sourcepref.Pref, caseSensitive, parent bool) *Filter {
	if tbl == nil || key == "" {
		return nil
	}
	return &Filter{
		Key:           tbl.InternString(key),
		Mode:          mode,
		Operand:       operand,
		Pref:          pref,
		CaseSensitive: caseSensitive,
		Parent:        parent,
	}
}

type andCond struct{ subs []Condition }
type orCond struct{ subs []Condition }
type notCond struct{ sub Condition }

// And builds a combinator matching when every subcondition matches.
func And(subs ...Condition) Condition { return &andCond{subs: subs} }

// Or builds a combinator matching when any subcondition matches.
func Or(subs ...Condition) Condition { return &orCond{subs: subs} }

// Not builds a combinator matching when sub does not.
func Not(sub Condition) Condition { return &notCond{sub: sub} }

func (c *andCond) matches(ec *evalContext, k intern.StringID, v value.Value) bool {
	for _, s := range c.subs {
		if s == nil || !s.matches(ec, k, v) {
			return false
		}
	}
	return true
}

func (c *orCond) matches(ec *evalContext, k intern.StringID, v value.Value) bool {
	for _, s := range c.subs {
		if s != nil && s.matches(ec, k, v) {
			return true
		}
	}
	return false
}

func (c *notCond) matches(ec *evalContext, k intern.StringID, v value.Value) bool {
	if c.sub == nil {
		return true
	}
	return !c.sub.matches(ec, k, v)
}

// evalContext carries the index and intern table an evaluation needs.
type evalContext struct {
	idx *relindex.Index
	tbl *intern.Table
}
