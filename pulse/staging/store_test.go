package staging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/windturbine/errors"
)

func TestPutIsWriteOnce(t *testing.T) {
	s := New("run-1")
	require.NoError(t, s.Put("temperature", "26.5"))

	err := s.Put("temperature", "18")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyExists))

	got, err := Get[string](s, "temperature")
	require.NoError(t, err)
	assert.Equal(t, "26.5", got, "first write must survive")
}

func TestPutAllIsAtomic(t *testing.T) {
	s := New("run-2")
	require.NoError(t, s.Put("idtemp", "T1"))

	err := s.PutAll(map[Key]any{"powerfactor": "0.9", "idtemp": "T2"})
	require.Error(t, err)
	assert.False(t, s.Has("powerfactor"), "no key may be staged when one conflicts")

	require.NoError(t, s.PutAll(map[Key]any{"powerfactor": "0.9", "temperature": "18"}))
	assert.Equal(t, []Key{"idtemp", "powerfactor", "temperature"}, s.Keys())
}

func TestGet(t *testing.T) {
	s := New("run-3")
	require.NoError(t, s.Put("count", 3))

	_, err := Get[string](s, "count")
	assert.True(t, errors.Is(err, ErrWrongType))

	_, err = Get[string](s, "absent")
	assert.True(t, errors.Is(err, ErrMissingKey))

	n, err := Get[int](s, "count")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New("run-4")
	require.NoError(t, s.Put("a", "1"))

	snap := s.Snapshot()
	snap["b"] = "2"
	assert.False(t, s.Has("b"))
	assert.Equal(t, "run-4", s.RunID())
}

func TestConcurrentDistinctKeys(t *testing.T) {
	s := New("run-5")
	keys := []Key{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7"}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			assert.NoError(t, s.Put(k, string(k)))
			_, _ = s.Lookup(k)
		}(k)
	}
	wg.Wait()
	assert.Len(t, s.Keys(), len(keys))
}

func TestConcurrentSameKeyHasOneWinner(t *testing.T) {
	s := New("run-6")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.Put("temperature", i) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
