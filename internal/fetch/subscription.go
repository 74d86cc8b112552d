package fetch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/adamavenir/histkeep/internal/types"
)

// Update is one notification delivered to a subscriber. A non-nil Err marks
// a failed fetch attempt; Status is then the status the resource returned
// to.
type Update struct {
	ResourceID string
	Status     types.ResourceFetchStatus
	Err        error
}

// Subscription receives the status transitions of one resource. Updates are
// buffered without bound so a slow subscriber never stalls the fetch or the
// other subscribers.
type Subscription struct {
	ID         uuid.UUID
	ResourceID string

	coord *Coordinator
	entry *entry

	mu      sync.Mutex
	pending []Update
	closed  bool
	signal  chan struct{}
	done    chan struct{}
	out     chan Update
}

func newSubscription(coord *Coordinator, e *entry) *Subscription {
	s := &Subscription{
		ID:         uuid.New(),
		ResourceID: e.resourceID,
		coord:      coord,
		entry:      e,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		out:        make(chan Update),
	}
	go s.pump()
	return s
}

// Updates delivers the current status first, then every transition. The
// channel is closed when the subscription or the coordinator is closed.
func (s *Subscription) Updates() <-chan Update {
	return s.out
}

// Retry restarts the fetch after a failure. It reports whether a new fetch
// was started; an active fetch or a local resource needs none.
func (s *Subscription) Retry() bool {
	return s.coord.start(s.entry)
}

// Close stops delivery. Pending updates are dropped.
func (s *Subscription) Close() {
	s.entry.mu.Lock()
	delete(s.entry.subs, s.ID)
	s.entry.mu.Unlock()
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
}

func (s *Subscription) push(update Update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, update)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.signal:
		case <-s.done:
			return
		}
		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()

			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}
