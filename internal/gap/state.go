package gap

import (
	"context"
	"fmt"

	"github.com/adamavenir/histkeep/internal/holes"
	"github.com/adamavenir/histkeep/internal/types"
)

// State is the resolution state of one conversation.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is an observable snapshot of a conversation's resolver.
type Status struct {
	ScopeID   int64      `json:"scope_id"`
	State     State      `json:"-"`
	StateName string     `json:"state"`
	Hole      holes.Hole `json:"hole"`
	Attempt   int        `json:"attempt,omitempty"`
	Degraded  bool       `json:"degraded"`
	LastError string     `json:"last_error,omitempty"`
}

// OutcomeKind says how a resolution ended.
type OutcomeKind int

const (
	// OutcomeResolved means a range was fetched and reconciled.
	OutcomeResolved OutcomeKind = iota
	// OutcomeNoHole means the conversation had nothing to resolve.
	OutcomeNoHole
	// OutcomeDegraded means retries were exhausted or the failure was not
	// retryable; the hole stays.
	OutcomeDegraded
	// OutcomeCancelled means the resolution was abandoned without applying
	// anything.
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "resolved"
	case OutcomeNoHole:
		return "no_hole"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome reports the result of a resolution.
type Outcome struct {
	ScopeID  int64
	Kind     OutcomeKind
	Hole     holes.Hole
	Filled   holes.Hole
	Messages int
	Attempts int
	Err      error
}

// Ticket is shared by every request coalesced into one resolution.
type Ticket struct {
	done    chan struct{}
	outcome Outcome
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) complete(outcome Outcome) {
	t.outcome = outcome
	close(t.done)
}

// Done is closed once the outcome is available.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the resolution finishes or ctx ends. Abandoning the wait
// does not cancel the resolution.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// RangeResult is what the transport returns for a range request.
// Actual is the range the server really covered and never exceeds the
// requested bounds.
type RangeResult struct {
	Messages []types.Message
	Actual   holes.Hole
}

// Transport fetches ranges of history from the remote side.
type Transport interface {
	FetchRange(ctx context.Context, scopeID int64, low, high types.MessageIndex, limit int) (RangeResult, error)
}

// Persister stores messages and holes. SaveHoles and CommitRange apply edit
// to the holes as currently stored, inside the transaction that writes them,
// and return the set they wrote. CommitRange also writes the messages in
// that transaction. Both fail for a conversation the store does not know.
type Persister interface {
	LoadHoles(ctx context.Context, scopeID int64) ([]holes.Hole, error)
	SaveHoles(ctx context.Context, scopeID int64, edit func(*holes.Set) error) (*holes.Set, error)
	CommitRange(ctx context.Context, scopeID int64, messages []types.Message, edit func(*holes.Set) error) (*holes.Set, error)
	SetDegraded(ctx context.Context, scopeID int64, degraded bool, reason string) error
	DeleteConversation(ctx context.Context, scopeID int64) error
}
