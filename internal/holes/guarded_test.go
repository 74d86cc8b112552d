package holes

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamavenir/histkeep/internal/types"
)

func TestGuardedUpdateFailureLeavesSetUntouched(t *testing.T) {
	g := NewGuarded(NewSet(testScope, h(0, 100)))
	boom := errors.New("boom")
	err := g.Update(func(s *Set) error {
		s.MarkRangeFilled(idx(0), idx(50))
		return boom
	})
	require.ErrorIs(t, err, boom)
	requireHoles(t, g.Snapshot(), h(0, 100))

	require.NoError(t, g.Update(func(s *Set) error {
		s.MarkRangeFilled(idx(0), idx(50))
		return nil
	}))
	requireHoles(t, g.Snapshot(), h(50, 100))
}

func TestGuardedReplaceInstallsReturnedSet(t *testing.T) {
	g := NewGuarded(NewSet(testScope, h(0, 100)))
	boom := errors.New("boom")
	err := g.Replace(func(current *Set) (*Set, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	requireHoles(t, g.Snapshot(), h(0, 100))

	err = g.Replace(func(current *Set) (*Set, error) {
		return NewSet(testScope+1), nil
	})
	require.Error(t, err)
	requireHoles(t, g.Snapshot(), h(0, 100))

	require.NoError(t, g.Replace(func(current *Set) (*Set, error) {
		next := NewSet(testScope, h(500, 600))
		for _, hole := range current.Holes() {
			next.MarkRangeMissing(hole.Low, hole.High)
		}
		return next, nil
	}))
	requireHoles(t, g.Snapshot(), h(0, 100), h(500, 600))
}

func TestGuardedConcurrentFillsStayDisjoint(t *testing.T) {
	g := NewGuarded(NewSet(testScope, h(0, 1000)))
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(2)
		go func(i int64) {
			defer wg.Done()
			_ = g.Update(func(s *Set) error {
				s.MarkRangeFilled(idx(i*10), idx(i*10+15))
				return nil
			})
		}(i)
		go func() {
			defer wg.Done()
			g.View(func(s *Set) {
				assert.NoError(t, s.Validate())
			})
		}()
	}
	wg.Wait()
	requireHoles(t, g.Snapshot(), h(505, 1000))
}

func TestArenaLoadsOncePerScope(t *testing.T) {
	var loads atomic.Int32
	a := NewArena(func(scopeID int64) (*Set, error) {
		loads.Add(1)
		return NewSet(scopeID, NewHole(idxIn(scopeID, 0), idxIn(scopeID, 10))), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := a.Get(7)
			assert.NoError(t, err)
			assert.Equal(t, 1, g.Snapshot().Len())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, []int64{7}, a.Scopes())

	a.Delete(7)
	_, err := a.Get(7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}

func TestArenaDoesNotCacheLoadErrors(t *testing.T) {
	fail := true
	a := NewArena(func(scopeID int64) (*Set, error) {
		if fail {
			return nil, errors.New("disk on fire")
		}
		return NewSet(scopeID), nil
	})
	_, err := a.Get(3)
	require.Error(t, err)

	fail = false
	g, err := a.Get(3)
	require.NoError(t, err)
	assert.True(t, g.Snapshot().IsEmpty())
}

func idxIn(scopeID, id int64) types.MessageIndex {
	return types.MessageIndex{ScopeID: scopeID, MessageID: id}
}
