package notifyws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenerSet_AddAndSnapshot(t *testing.T) {
	set := newListenerSet()
	a, b := &eventRecorder{}, &eventRecorder{}

	set.add(a)
	set.add(b)

	assert.ElementsMatch(t, []Listener{a, b}, set.snapshot())
}

func TestListenerSet_DeduplicatesComparableListeners(t *testing.T) {
	set := newListenerSet()
	a := &eventRecorder{}

	first := set.add(a)
	second := set.add(a)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, set.len())
}

func TestListenerSet_FunctionsAreDistinct(t *testing.T) {
	set := newListenerSet()
	fn := ListenerFunc(func(Event) {})

	first := set.add(fn)
	second := set.add(fn)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, set.len())
}

func TestListenerSet_Remove(t *testing.T) {
	set := newListenerSet()
	id := set.add(&eventRecorder{})

	assert.True(t, set.remove(id))
	assert.False(t, set.remove(id))
	assert.Empty(t, set.snapshot())
}

func TestListenerSet_SnapshotIsDetached(t *testing.T) {
	set := newListenerSet()
	id := set.add(&eventRecorder{})

	snap := set.snapshot()
	set.remove(id)

	assert.Len(t, snap, 1)
	assert.Equal(t, 0, set.len())
}

func TestListenerSet_Concurrent(t *testing.T) {
	set := newListenerSet()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := set.add(ListenerFunc(func(Event) {}))
			_ = set.snapshot()
			set.remove(id)
			set.add(&eventRecorder{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, set.len())
}
