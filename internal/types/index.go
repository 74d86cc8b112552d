package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageIndex locates a message inside the history of a scope (conversation).
// Values are immutable keys; the zero value is the lower bound of scope 0.
type MessageIndex struct {
	ScopeID   int64 `json:"scope_id"`
	MessageID int64 `json:"message_id"`
	Timestamp int64 `json:"timestamp"`
}

// Compare orders indices by scope, then message id, then timestamp.
// The timestamp only breaks ties between identical message ids.
func Compare(a, b MessageIndex) int {
	if c := compareInt64(a.ScopeID, b.ScopeID); c != 0 {
		return c
	}
	if c := compareInt64(a.MessageID, b.MessageID); c != 0 {
		return c
	}
	return compareInt64(a.Timestamp, b.Timestamp)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether idx sorts before other.
func (idx MessageIndex) Less(other MessageIndex) bool {
	return Compare(idx, other) < 0
}

// Equal reports whether all fields match.
func (idx MessageIndex) Equal(other MessageIndex) bool {
	return Compare(idx, other) == 0
}

func (idx MessageIndex) String() string {
	return fmt.Sprintf("%d/%d:%d", idx.ScopeID, idx.MessageID, idx.Timestamp)
}

// LowerBound returns the smallest index of a scope. Message ids are positive,
// so the initial hole of a conversation starts here.
func LowerBound(scopeID int64) MessageIndex {
	return MessageIndex{ScopeID: scopeID}
}

// MinIndex returns the smaller of two indices.
func MinIndex(a, b MessageIndex) MessageIndex {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// MaxIndex returns the larger of two indices.
func MaxIndex(a, b MessageIndex) MessageIndex {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// ParseIndex parses "id" or "id:ts" into an index within scopeID.
func ParseIndex(scopeID int64, value string) (MessageIndex, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return MessageIndex{}, fmt.Errorf("empty message index")
	}
	idPart, tsPart, hasTS := strings.Cut(value, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return MessageIndex{}, fmt.Errorf("invalid message id %q: %w", idPart, err)
	}
	idx := MessageIndex{ScopeID: scopeID, MessageID: id}
	if hasTS {
		ts, err := strconv.ParseInt(tsPart, 10, 64)
		if err != nil {
			return MessageIndex{}, fmt.Errorf("invalid timestamp %q: %w", tsPart, err)
		}
		idx.Timestamp = ts
	}
	return idx, nil
}
