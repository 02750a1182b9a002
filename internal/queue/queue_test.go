package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemir/shardis/pkg/result"
)

func TestOfflineFIFO(t *testing.T) {
	q := New(0)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push("GET", []any{k}, result.New()))
	}
	assert.Equal(t, 3, q.Len())

	entries := q.Drain()
	require.Len(t, entries, 3)
	for i, k := range []string{"a", "b", "c"} {
		assert.Equal(t, k, entries[i].Args[0])
	}

	assert.Empty(t, q.Drain(), "drain is one-shot")
	assert.ErrorIs(t, q.Push("GET", nil, result.New()), ErrDrained)
}

func TestOfflineBounded(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Push("A", nil, result.New()))
	require.NoError(t, q.Push("B", nil, result.New()))
	assert.ErrorIs(t, q.Push("C", nil, result.New()), ErrQueueFull)
}

func TestOfflineFlush(t *testing.T) {
	q := New(4)
	h1, h2 := result.New(), result.New()
	require.NoError(t, q.Push("A", nil, h1))
	require.NoError(t, q.Push("B", nil, h2))

	ended := errors.New("ended")
	assert.Equal(t, 2, q.Flush(ended))
	for _, h := range []*result.Handle{h1, h2} {
		_, err := h.Result()
		assert.ErrorIs(t, err, ended)
	}
	assert.Equal(t, 0, q.Len())
}
