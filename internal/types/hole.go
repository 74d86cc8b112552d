package types

import "fmt"

// ChatListHole marks the edge of a gap in a conversation's history.
// It is an anchor only; interval semantics live in the holes package.
type ChatListHole struct {
	Index MessageIndex `json:"index"`
}

// NewChatListHole anchors a hole at index.
func NewChatListHole(index MessageIndex) ChatListHole {
	return ChatListHole{Index: index}
}

// Equal reports whether both holes share the same index.
func (h ChatListHole) Equal(other ChatListHole) bool {
	return h.Index.Equal(other.Index)
}

// Less orders holes by their index.
func (h ChatListHole) Less(other ChatListHole) bool {
	return h.Index.Less(other.Index)
}

func (h ChatListHole) String() string {
	return fmt.Sprintf("ChatListHole(%d, %d)", h.Index.MessageID, h.Index.Timestamp)
}
