package db

import (
	"context"
	"database/sql"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

// Store persists holes, messages and resource status for the resolver and
// the fetch coordinator.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) LoadHoles(ctx context.Context, scopeID int64) ([]holes.Hole, error) {
	return GetHoles(ctx, s.db, scopeID)
}

// SaveHoles applies edit to the stored holes of a conversation and writes
// the result back in one transaction. It returns the set as written.
func (s *Store) SaveHoles(ctx context.Context, scopeID int64, edit func(*holes.Set) error) (*holes.Set, error) {
	var set *holes.Set
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockConversation(ctx, tx, scopeID); err != nil {
			return err
		}
		var err error
		set, err = editHoles(ctx, tx, scopeID, edit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// CommitRange writes fetched messages and applies edit to the stored holes
// in one transaction. Either both land or neither does.
func (s *Store) CommitRange(ctx context.Context, scopeID int64, messages []types.Message, edit func(*holes.Set) error) (*holes.Set, error) {
	var set *holes.Set
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockConversation(ctx, tx, scopeID); err != nil {
			return err
		}
		if err := InsertMessages(ctx, tx, messages); err != nil {
			return err
		}
		var err error
		set, err = editHoles(ctx, tx, scopeID, edit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Store) SetDegraded(ctx context.Context, scopeID int64, degraded bool, reason string) error {
	return SetDegraded(ctx, s.db, scopeID, degraded, reason)
}

func (s *Store) DeleteConversation(ctx context.Context, scopeID int64) error {
	_, err := DeleteConversation(ctx, s.db, scopeID)
	return err
}

func (s *Store) LoadResourceStatus(ctx context.Context, resourceID string) (*types.ResourceRecord, error) {
	return GetResource(ctx, s.db, resourceID)
}

func (s *Store) SaveResourceStatus(ctx context.Context, record types.ResourceRecord) error {
	return UpsertResource(ctx, s.db, record)
}
