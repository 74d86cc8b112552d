package holes

import (
	"fmt"
	"sort"

	"github.com/adamavenir/histkeep/internal/types"
)

// Direction selects where NearestHole searches.
type Direction int

const (
	// Ascending finds the hole at or after the index.
	Ascending Direction = iota
	// Descending finds the hole at or before the index.
	Descending
	// Around finds the closest hole on either side; ties go to the
	// smaller index.
	Around
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	case Around:
		return "around"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Set is the ordered collection of holes of a single conversation.
// It is not safe for concurrent use; see Guarded.
type Set struct {
	scopeID int64
	holes   []Hole
}

// NewSet returns a set for scopeID seeded with holes. Overlapping seeds are
// coalesced.
func NewSet(scopeID int64, holes ...Hole) *Set {
	s := &Set{scopeID: scopeID}
	for _, h := range holes {
		s.MarkRangeMissing(h.Low, h.High)
	}
	return s
}

// ScopeID returns the conversation the set belongs to.
func (s *Set) ScopeID() int64 {
	return s.scopeID
}

// Len returns the number of holes.
func (s *Set) Len() int {
	return len(s.holes)
}

// IsEmpty reports whether the conversation is fully synchronized.
func (s *Set) IsEmpty() bool {
	return len(s.holes) == 0
}

// Holes returns a copy of the holes in ascending order.
func (s *Set) Holes() []Hole {
	out := make([]Hole, len(s.holes))
	copy(out, s.holes)
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	return &Set{scopeID: s.scopeID, holes: s.Holes()}
}

// search returns the position of the first hole whose upper bound lies
// after idx.
func (s *Set) search(idx types.MessageIndex) int {
	return sort.Search(len(s.holes), func(i int) bool {
		return idx.Less(s.holes[i].High)
	})
}

// HoleContaining returns the hole whose bounds contain idx.
func (s *Set) HoleContaining(idx types.MessageIndex) (Hole, bool) {
	i := s.search(idx)
	if i < len(s.holes) && s.holes[i].Contains(idx) {
		return s.holes[i], true
	}
	return Hole{}, false
}

// NearestHole returns the hole closest to from in the given direction.
// A hole containing from is always the nearest.
func (s *Set) NearestHole(from types.MessageIndex, dir Direction) (Hole, bool) {
	i := s.search(from)
	var after, before *Hole
	if i < len(s.holes) {
		if s.holes[i].Contains(from) {
			return s.holes[i], true
		}
		after = &s.holes[i]
	}
	if i > 0 {
		before = &s.holes[i-1]
	}

	switch dir {
	case Ascending:
		if after != nil {
			return *after, true
		}
	case Descending:
		if before != nil {
			return *before, true
		}
	case Around:
		switch {
		case before != nil && after != nil:
			// before.High <= from < after.Low
			if distance(before.High, from) <= distance(from, after.Low) {
				return *before, true
			}
			return *after, true
		case before != nil:
			return *before, true
		case after != nil:
			return *after, true
		}
	}
	return Hole{}, false
}

// distance measures how many message ids separate lo from hi (lo <= hi).
func distance(lo, hi types.MessageIndex) uint64 {
	return uint64(hi.MessageID) - uint64(lo.MessageID)
}

// MarkRangeFilled removes [low, high) from the set, splitting holes that
// straddle either bound. It reports whether anything changed; repeating the
// call is a no-op.
func (s *Set) MarkRangeFilled(low, high types.MessageIndex) bool {
	s.mustOwn(low, high)
	filled := Hole{Low: low, High: high}

	out := make([]Hole, 0, len(s.holes)+1)
	changed := false
	for _, h := range s.holes {
		if !h.Overlaps(filled) {
			out = append(out, h)
			continue
		}
		changed = true
		if h.Low.Less(filled.Low) {
			out = append(out, Hole{Low: h.Low, High: filled.Low})
		}
		if filled.High.Less(h.High) {
			out = append(out, Hole{Low: filled.High, High: h.High})
		}
	}
	s.holes = out
	return changed
}

// MarkRangeMissing records [low, high) as missing, coalescing it with every
// hole it overlaps or touches. It returns the resulting merged hole.
func (s *Set) MarkRangeMissing(low, high types.MessageIndex) Hole {
	s.mustOwn(low, high)
	merged := Hole{Low: low, High: high}

	out := make([]Hole, 0, len(s.holes)+1)
	inserted := false
	for _, h := range s.holes {
		switch {
		case h.High.Less(merged.Low):
			out = append(out, h)
		case h.Touches(merged):
			merged.Low = types.MinIndex(merged.Low, h.Low)
			merged.High = types.MaxIndex(merged.High, h.High)
		default:
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			out = append(out, h)
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	s.holes = out
	return merged
}

func (s *Set) mustOwn(low, high types.MessageIndex) {
	mustBeRange(low, high)
	if low.ScopeID != s.scopeID {
		panic(fmt.Sprintf("holes: interval of scope %d applied to scope %d", low.ScopeID, s.scopeID))
	}
}

// Validate checks ordering, disjointness and non-emptiness.
func (s *Set) Validate() error {
	for i, h := range s.holes {
		if h.Empty() {
			return fmt.Errorf("hole %d %s is empty", i, h)
		}
		if h.ScopeID() != s.scopeID || h.High.ScopeID != s.scopeID {
			return fmt.Errorf("hole %d %s belongs to another scope", i, h)
		}
		if i > 0 && !s.holes[i-1].High.Less(h.Low) {
			return fmt.Errorf("holes %s and %s touch or overlap", s.holes[i-1], h)
		}
	}
	return nil
}
