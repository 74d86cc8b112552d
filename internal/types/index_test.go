package types

import (
	"sort"
	"testing"
)

func TestCompareOrdersByScopeThenIDThenTimestamp(t *testing.T) {
	cases := []struct {
		a, b MessageIndex
		want int
	}{
		{MessageIndex{1, 5, 100}, MessageIndex{1, 5, 100}, 0},
		{MessageIndex{1, 5, 100}, MessageIndex{2, 1, 1}, -1},
		{MessageIndex{1, 5, 100}, MessageIndex{1, 6, 1}, -1},
		{MessageIndex{1, 5, 100}, MessageIndex{1, 5, 99}, 1},
		{MessageIndex{3, 0, 0}, MessageIndex{2, 99, 99}, 1},
	}
	for _, tc := range cases {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
		if got := Compare(tc.b, tc.a); got != -tc.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tc.b, tc.a, got, -tc.want)
		}
	}
}

func TestCompareIsTotal(t *testing.T) {
	values := []MessageIndex{
		{2, 1, 0}, {1, 3, 7}, {1, 3, 2}, {1, 1, 9}, {2, 0, 5}, {1, 3, 7},
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Less(values[j]) })
	for i := 1; i < len(values); i++ {
		if Compare(values[i-1], values[i]) > 0 {
			t.Fatalf("not sorted at %d: %v", i, values)
		}
	}
	if !values[3].Equal(values[4]) {
		t.Fatalf("expected duplicate entries adjacent, got %v", values)
	}
}

func TestParseIndex(t *testing.T) {
	idx, err := ParseIndex(7, "42:1700")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if idx != (MessageIndex{ScopeID: 7, MessageID: 42, Timestamp: 1700}) {
		t.Fatalf("unexpected index %v", idx)
	}

	idx, err = ParseIndex(7, " 42 ")
	if err != nil {
		t.Fatalf("parse without timestamp: %v", err)
	}
	if idx.Timestamp != 0 || idx.MessageID != 42 {
		t.Fatalf("unexpected index %v", idx)
	}

	for _, bad := range []string{"", "x", "1:y"} {
		if _, err := ParseIndex(1, bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestChatListHoleOrdering(t *testing.T) {
	a := NewChatListHole(MessageIndex{ScopeID: 1, MessageID: 10, Timestamp: 5})
	b := NewChatListHole(MessageIndex{ScopeID: 1, MessageID: 10, Timestamp: 6})
	if !a.Less(b) || b.Less(a) {
		t.Fatalf("expected %s < %s", a, b)
	}
	if a.Equal(b) {
		t.Fatalf("holes with different timestamps must differ")
	}
	if got := a.String(); got != "ChatListHole(10, 5)" {
		t.Fatalf("unexpected description %q", got)
	}
}
