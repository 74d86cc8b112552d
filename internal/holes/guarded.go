package holes

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Guarded serializes mutations of one conversation's set while letting
// readers proceed concurrently with each other.
type Guarded struct {
	mu  sync.RWMutex
	set *Set
}

// NewGuarded takes ownership of set.
func NewGuarded(set *Set) *Guarded {
	return &Guarded{set: set}
}

// View runs fn with shared access. fn must not retain or mutate the set.
func (g *Guarded) View(fn func(*Set)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.set)
}

// Snapshot returns a copy of the current set.
func (g *Guarded) Snapshot() *Set {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.set.Clone()
}

// Update runs fn on a copy of the set under the exclusive lock and installs
// the copy only when fn returns nil. A failed update leaves the set exactly
// as it was.
func (g *Guarded) Update(fn func(*Set) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.set.Clone()
	if err := fn(next); err != nil {
		return err
	}
	g.set = next
	return nil
}

// Replace installs the set returned by fn under the exclusive lock. fn sees
// the current set and must not mutate it. On error the set is unchanged.
func (g *Guarded) Replace(fn func(current *Set) (*Set, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	next, err := fn(g.set)
	if err != nil {
		return err
	}
	if next.ScopeID() != g.set.ScopeID() {
		return fmt.Errorf("holes: set of scope %d replacing scope %d", next.ScopeID(), g.set.ScopeID())
	}
	g.set = next
	return nil
}

// Loader builds the initial set of a scope, typically from storage.
type Loader func(scopeID int64) (*Set, error)

type arenaEntry struct {
	once    sync.Once
	guarded atomic.Pointer[Guarded]
	err     error
}

// Arena indexes guarded sets by scope id. Each scope is loaded once, on
// first use, and guarded independently of every other scope.
type Arena struct {
	sets *xsync.MapOf[int64, *arenaEntry]
	load Loader
}

// NewArena returns an arena that loads sets with load. A nil loader starts
// every scope with an empty set.
func NewArena(load Loader) *Arena {
	if load == nil {
		load = func(scopeID int64) (*Set, error) {
			return NewSet(scopeID), nil
		}
	}
	return &Arena{
		sets: xsync.NewMapOf[int64, *arenaEntry](),
		load: load,
	}
}

// Get returns the guarded set of scopeID, loading it if needed. Load errors
// are not cached.
func (a *Arena) Get(scopeID int64) (*Guarded, error) {
	entry, _ := a.sets.LoadOrCompute(scopeID, func() *arenaEntry {
		return &arenaEntry{}
	})
	entry.once.Do(func() {
		set, err := a.load(scopeID)
		if err != nil {
			entry.err = err
			return
		}
		entry.guarded.Store(NewGuarded(set))
	})
	if entry.err != nil {
		a.sets.Compute(scopeID, func(current *arenaEntry, loaded bool) (*arenaEntry, bool) {
			return current, loaded && current == entry
		})
		return nil, entry.err
	}
	return entry.guarded.Load(), nil
}

// Delete forgets the set of scopeID.
func (a *Arena) Delete(scopeID int64) {
	a.sets.Delete(scopeID)
}

// Scopes lists the scopes currently loaded.
func (a *Arena) Scopes() []int64 {
	scopes := make([]int64, 0, a.sets.Size())
	a.sets.Range(func(scopeID int64, entry *arenaEntry) bool {
		if entry.guarded.Load() != nil {
			scopes = append(scopes, scopeID)
		}
		return true
	})
	return scopes
}
