// Package holes tracks the missing ranges of a conversation's history.
//
// A Set holds the disjoint, ascending half-open intervals [Low, High) of one
// conversation. Guarded puts a Set behind a single-writer lock and Arena
// indexes guarded sets by scope so unrelated conversations never contend.
package holes

import (
	"fmt"

	"github.com/adamavenir/histkeep/internal/types"
)

// Hole is the half-open interval [Low, High) of messages missing locally.
type Hole struct {
	Low  types.MessageIndex `json:"low"`
	High types.MessageIndex `json:"high"`
}

// NewHole builds [low, high). It panics on an empty, inverted or
// cross-scope interval.
func NewHole(low, high types.MessageIndex) Hole {
	mustBeRange(low, high)
	return Hole{Low: low, High: high}
}

func mustBeRange(low, high types.MessageIndex) {
	if low.ScopeID != high.ScopeID {
		panic(fmt.Sprintf("holes: interval spans scopes %d and %d", low.ScopeID, high.ScopeID))
	}
	if !low.Less(high) {
		panic(fmt.Sprintf("holes: empty or inverted interval [%s, %s)", low, high))
	}
}

// ScopeID returns the scope both bounds belong to.
func (h Hole) ScopeID() int64 {
	return h.Low.ScopeID
}

// Empty reports whether the interval holds nothing.
func (h Hole) Empty() bool {
	return !h.Low.Less(h.High)
}

// Contains reports whether idx lies in [Low, High).
func (h Hole) Contains(idx types.MessageIndex) bool {
	return !idx.Less(h.Low) && idx.Less(h.High)
}

// Covers reports whether other lies entirely within h.
func (h Hole) Covers(other Hole) bool {
	return !other.Low.Less(h.Low) && !h.High.Less(other.High)
}

// Overlaps reports whether the intervals share at least one index.
func (h Hole) Overlaps(other Hole) bool {
	return h.Low.Less(other.High) && other.Low.Less(h.High)
}

// Touches reports whether the intervals overlap or are adjacent.
func (h Hole) Touches(other Hole) bool {
	return !h.High.Less(other.Low) && !other.High.Less(h.Low)
}

// Intersect returns the common part of both intervals.
func (h Hole) Intersect(other Hole) (Hole, bool) {
	out := Hole{
		Low:  types.MaxIndex(h.Low, other.Low),
		High: types.MinIndex(h.High, other.High),
	}
	if out.Empty() {
		return Hole{}, false
	}
	return out, true
}

// Edge anchors the hole at its upper bound. Resolution walks downward from
// the edge toward Low.
func (h Hole) Edge() types.ChatListHole {
	return types.NewChatListHole(h.High)
}

func (h Hole) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d)", h.Low.MessageID, h.Low.Timestamp, h.High.MessageID, h.High.Timestamp)
}
