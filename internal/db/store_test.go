package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamavenir/histkeep/internal/fetch"
	"github.com/adamavenir/histkeep/internal/gap"
	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

var (
	_ gap.Persister     = (*Store)(nil)
	_ fetch.StatusStore = (*Store)(nil)
)

func TestCreateConversationSeedsInitialHole(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()

	first := idx(7, 1200, 1700000000)
	conv, err := CreateConversation(ctx, db, 7, "general", &first)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "general" || conv.HoleCount != 1 || conv.MessageCount != 0 {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	got, err := GetHoles(ctx, db, 7)
	if err != nil {
		t.Fatalf("holes: %v", err)
	}
	want := []holes.Hole{holes.NewHole(types.LowerBound(7), first)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("holes mismatch (-want +got):\n%s", diff)
	}

	if _, err := CreateConversation(ctx, db, 7, "", nil); !errors.Is(err, ErrConversationExists) {
		t.Fatalf("expected ErrConversationExists, got %v", err)
	}
}

func TestCreateConversationWithoutHistory(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()

	conv, err := CreateConversation(ctx, db, 9, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.HoleCount != 0 || conv.Title != "" {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	other := idx(8, 5, 0)
	if _, err := CreateConversation(ctx, db, 10, "", &other); err == nil {
		t.Fatal("expected scope mismatch error")
	}
}

func TestCommitRangeWritesMessagesAndHoles(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()
	store := NewStore(db)

	if _, err := CreateConversation(ctx, db, 1, "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.SaveHoles(ctx, 1, markMissing(span(1, 0, 1000))); err != nil {
		t.Fatalf("save holes: %v", err)
	}

	messages := []types.Message{
		{Index: idx(1, 10, 5), Author: "ana", Body: "hi"},
		{Index: idx(1, 20, 6), Body: "photo", Media: []types.MediaRef{{ResourceID: "img-1", MimeType: "image/png", Size: 2048}}},
	}
	written, err := store.CommitRange(ctx, 1, messages, markFilled(span(1, 0, 400)))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if diff := cmp.Diff([]holes.Hole{span(1, 400, 1000)}, written.Holes()); diff != "" {
		t.Fatalf("written holes mismatch (-want +got):\n%s", diff)
	}

	gotHoles, err := store.LoadHoles(ctx, 1)
	if err != nil {
		t.Fatalf("load holes: %v", err)
	}
	if diff := cmp.Diff([]holes.Hole{span(1, 400, 1000)}, gotHoles); diff != "" {
		t.Fatalf("holes mismatch (-want +got):\n%s", diff)
	}

	gotMessages, err := ListMessages(ctx, db, 1, MessageQueryOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(messages, gotMessages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}

	after := idx(1, 10, 5)
	page, err := ListMessages(ctx, db, 1, MessageQueryOptions{After: &after, Limit: 5})
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(page) != 1 || page[0].Index != idx(1, 20, 6) {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestCommitRangeRollsBackOnFailure(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()
	store := NewStore(db)

	if _, err := CreateConversation(ctx, db, 1, "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.SaveHoles(ctx, 1, markMissing(span(1, 0, 100))); err != nil {
		t.Fatalf("save holes: %v", err)
	}
	messages := []types.Message{{Index: idx(1, 1, 0), Body: "lost"}}
	boom := errors.New("boom")
	_, err := store.CommitRange(ctx, 1, messages, func(set *holes.Set) error {
		set.MarkRangeFilled(idx(1, 0, 0), idx(1, 100, 0))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected commit to fail with boom, got %v", err)
	}

	gotHoles, err := store.LoadHoles(ctx, 1)
	if err != nil {
		t.Fatalf("load holes: %v", err)
	}
	if diff := cmp.Diff([]holes.Hole{span(1, 0, 100)}, gotHoles); diff != "" {
		t.Fatalf("holes changed (-want +got):\n%s", diff)
	}
	gotMessages, err := ListMessages(ctx, db, 1, MessageQueryOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(gotMessages) != 0 {
		t.Fatalf("expected no messages, got %+v", gotMessages)
	}
}

func TestDegradedFlagAndDelete(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()
	store := NewStore(db)

	if _, err := CreateConversation(ctx, db, 4, "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetDegraded(ctx, 4, true, "range fetch timed out"); err != nil {
		t.Fatalf("set degraded: %v", err)
	}
	conv, err := GetConversation(ctx, db, 4)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv == nil || !conv.Degraded || conv.LastError == nil || *conv.LastError != "range fetch timed out" {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	if err := store.SetDegraded(ctx, 4, false, ""); err != nil {
		t.Fatalf("clear degraded: %v", err)
	}
	conv, err = GetConversation(ctx, db, 4)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.Degraded || conv.LastError != nil {
		t.Fatalf("expected cleared flag, got %+v", conv)
	}

	if _, err := store.CommitRange(ctx, 4, []types.Message{{Index: idx(4, 1, 0), Body: "x"}}, markMissing(span(4, 5, 9))); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.DeleteConversation(ctx, 4); err != nil {
		t.Fatalf("delete: %v", err)
	}
	conv, err = GetConversation(ctx, db, 4)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv != nil {
		t.Fatalf("expected conversation removed, got %+v", conv)
	}
	remaining, err := GetHoles(ctx, db, 4)
	if err != nil {
		t.Fatalf("holes: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected holes removed, got %v", remaining)
	}
}

func TestWritesToUnknownConversationFail(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()
	store := NewStore(db)

	if _, err := CreateConversation(ctx, db, 6, "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := DeleteConversation(ctx, db, 6); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.SaveHoles(ctx, 6, markMissing(span(6, 0, 10))); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("save holes: expected ErrConversationNotFound, got %v", err)
	}
	if _, err := store.CommitRange(ctx, 6, []types.Message{{Index: idx(6, 1, 0), Body: "x"}}, markFilled(span(6, 0, 10))); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("commit: expected ErrConversationNotFound, got %v", err)
	}
	if err := store.SetDegraded(ctx, 6, true, "gave up"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("set degraded: expected ErrConversationNotFound, got %v", err)
	}

	conv, err := GetConversation(ctx, db, 6)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv != nil {
		t.Fatalf("expected conversation to stay deleted, got %+v", conv)
	}
}

func TestCommitRangeEditsHolesWrittenByAnotherConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	first := openSharedDB(t, path)
	requireSchema(t, first)
	second := openSharedDB(t, path)
	ctx := context.Background()

	start := idx(1, 100, 0)
	if _, err := CreateConversation(ctx, first, 1, "", &start); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := NewStore(second).SaveHoles(ctx, 1, markMissing(span(1, 500, 600))); err != nil {
		t.Fatalf("save holes: %v", err)
	}

	written, err := NewStore(first).CommitRange(ctx, 1, []types.Message{{Index: idx(1, 10, 0), Body: "x"}}, markFilled(span(1, 0, 100)))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	want := []holes.Hole{span(1, 500, 600)}
	if diff := cmp.Diff(want, written.Holes()); diff != "" {
		t.Fatalf("written holes mismatch (-want +got):\n%s", diff)
	}
	stored, err := GetHoles(ctx, second, 1)
	if err != nil {
		t.Fatalf("holes: %v", err)
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Fatalf("stored holes mismatch (-want +got):\n%s", diff)
	}
}

func TestListConversationsCounts(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()
	store := NewStore(db)

	first := idx(2, 50, 0)
	if _, err := CreateConversation(ctx, db, 2, "b", &first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreateConversation(ctx, db, 1, "a", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CommitRange(ctx, 1, []types.Message{{Index: idx(1, 1, 0), Body: "x"}, {Index: idx(1, 2, 0), Body: "y"}}, markFilled(span(1, 0, 3))); err != nil {
		t.Fatalf("commit: %v", err)
	}

	convs, err := ListConversations(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ScopeID != 1 || convs[0].MessageCount != 2 || convs[0].HoleCount != 0 {
		t.Fatalf("unexpected first %+v", convs[0])
	}
	if convs[1].ScopeID != 2 || convs[1].HoleCount != 1 {
		t.Fatalf("unexpected second %+v", convs[1])
	}
}

func TestResourceStatusRoundTrip(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()
	store := NewStore(db)

	missing, err := store.LoadResourceStatus(ctx, "nope")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil, got %+v", missing)
	}

	local := types.ResourceRecord{ResourceID: "img-1", Status: types.StatusLocal(), LocalPath: strPtr("media/img-1"), Size: 2048, UpdatedAt: 10}
	if err := store.SaveResourceStatus(ctx, local); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.LoadResourceStatus(ctx, "img-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(&local, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	remote := types.ResourceRecord{ResourceID: "img-1", Status: types.StatusRemote(), UpdatedAt: 11}
	if err := store.SaveResourceStatus(ctx, remote); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveResourceStatus(ctx, types.ResourceRecord{ResourceID: "bad", Status: types.ResourceFetchStatus{State: "gone"}}); err == nil {
		t.Fatal("expected invalid status to be rejected")
	}

	records, err := ListResources(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]types.ResourceRecord{remote}, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestGetHolesRejectsCorruptRows(t *testing.T) {
	db := openTestDB(t)
	requireSchema(t, db)
	ctx := context.Background()

	if _, err := CreateConversation(ctx, db, 1, "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec("INSERT INTO msg_holes (scope_id, low_id, low_ts, high_id, high_ts) VALUES (1, 10, 0, 5, 0)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := GetHoles(ctx, db, 1); err == nil {
		t.Fatal("expected corrupt row error")
	}
}
