package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"melody-map/internal/common/errors"
)

type key string

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New[key, int]()

	r.Register("b", 2)
	r.Register("a", 1)

	v, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	assert.True(t, r.IsRegistered("b"))
	assert.False(t, r.IsRegistered("c"))
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []key{"a", "b"}, r.Keys())
}

func TestRegistry_GetMissing(t *testing.T) {
	r := New[key, string]()

	v, err := r.Get("missing")
	assert.Empty(t, v)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestRegistry_Replace(t *testing.T) {
	r := New[key, int]()
	r.Register("a", 1)
	r.Register("a", 5)

	v, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_Clear(t *testing.T) {
	r := New[key, int]()
	r.Register("a", 1)
	r.Clear()
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New[key, int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register(key(rune('a'+i%26)), i)
		}(i)
		go func() {
			defer wg.Done()
			r.Keys()
		}()
	}
	wg.Wait()

	assert.Equal(t, 26, r.Count())
}
