package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestResourceFetchStatusEquality(t *testing.T) {
	if !StatusFetching(0.50000001).Equal(StatusFetching(0.5)) {
		t.Error("expected near-equal progress to compare equal")
	}
	if StatusFetching(0.4).Equal(StatusFetching(0.5)) {
		t.Error("expected distinct progress to compare unequal")
	}
	if StatusRemote().Equal(StatusLocal()) {
		t.Error("remote must not equal local")
	}
	if !StatusRemote().Equal(StatusRemote()) || !StatusLocal().Equal(StatusLocal()) {
		t.Error("variants must equal themselves")
	}
	if StatusFetching(0).Equal(StatusRemote()) {
		t.Error("fetching(0) must not equal remote")
	}
}

func TestClampProgress(t *testing.T) {
	cases := map[float32]float32{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 3: 1}
	for in, want := range cases {
		if got := ClampProgress(in); got != want {
			t.Errorf("ClampProgress(%v) = %v, want %v", in, got, want)
		}
	}
	var nan float32
	nan = nan / nan
	if got := ClampProgress(nan); got != 0 {
		t.Errorf("ClampProgress(NaN) = %v, want 0", got)
	}
}

func TestResourceFetchStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusFetching(0.5))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ResourceFetchStatus
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(StatusFetching(0.5)) {
		t.Fatalf("decoded %v", decoded)
	}
	if err := json.Unmarshal([]byte(`{"state":"bogus"}`), &decoded); err == nil {
		t.Fatal("expected unknown state to fail")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewFetchError(KindPermanentGap, "fetch_range", nil))
	if KindOf(wrapped) != KindPermanentGap {
		t.Fatalf("expected permanent gap, got %s", KindOf(wrapped))
	}
	if !errors.Is(wrapped, ErrPermanentGap) {
		t.Fatal("expected sentinel match")
	}
	if errors.Is(wrapped, ErrTransientNetwork) {
		t.Fatal("unexpected transient match")
	}
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatal("expected unknown kind")
	}
	if KindOf(fmt.Errorf("slow: %w", ErrTransientNetwork)) != KindTransientNetwork {
		t.Fatal("expected transient kind from sentinel")
	}
}
