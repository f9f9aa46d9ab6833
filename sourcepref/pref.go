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

// Package sourcepref ranks source strings by an ordered list of glob
// patterns (§4.4): priority of a source is the index of the first
// pattern matching it, or +Inf (MaxPriority) if none match.
package sourcepref

import (
	"math"
	"path"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trofi/s4/intern"
)

// MaxPriority is the priority assigned to a source matching no pattern.
const MaxPriority = math.MaxInt32

// cacheSize bounds the memoization cache; the cache is per Pref instance
// and keyed by a hash of the source string, so a handful of distinct
// sources per entry keeps it well under this bound in practice.
const cacheSize = 4096

// Pref is an ordered list of glob patterns used to rank source strings.
// Pref holds no reference to the owning DB's intern table; callers pass
// one into PriorityOf so it can accept a bare intern.StringID.
type Pref struct {
	patterns []string
	cache    *lru.Cache[uint64, int]
}

// New builds a Pref from an ordered list of glob patterns. Patterns use
// stdlib path.Match syntax. A nil or empty patterns list is valid and
// ranks every source at MaxPriority.
func New(patterns []string) *Pref {
	c, err := lru.New[uint64, int](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(err)
	}
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return &Pref{patterns: cp, cache: c}
}

// PriorityOf resolves source's string form via tbl and returns its
// priority: the index of the first matching pattern, or MaxPriority.
// Results are memoized behind the LRU cache's own locking, satisfying
// §4.4's "memoized behind a lock for the lifetime of the source-pref
// object" without a second, redundant mutex.
func (p *Pref) PriorityOf(tbl *intern.Table, source intern.StringID) int {
	if p == nil {
		return MaxPriority
	}
	s, ok := tbl.String(source)
	if !ok {
		return MaxPriority
	}
	key := xxhash.Sum64String(s)
	if v, ok := p.cache.Get(key); ok {
		return v
	}
	pr := p.priorityOfString(s)
	p.cache.Add(key, pr)
	return pr
}

func (p *Pref) priorityOfString(s string) int {
	for i, pat := range p.patterns {
		if ok, err := path.Match(pat, s); err == nil && ok {
			return i
		}
	}
	return MaxPriority
}

// Len reports how many patterns this Pref holds.
func (p *Pref) Len() int {
	if p == nil {
		return 0
	}
	return len(p.patterns)
}
