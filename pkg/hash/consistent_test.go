package hash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	r := New(3, 0)

	nodes := []string{"node1:6379", "node2:6379", "node3:6379"}
	for _, n := range nodes {
		r.Add(n, 1)
	}
	require.Equal(t, 3, r.Len())
	assert.Equal(t, nodes, r.Members())

	owner := r.Get("test_key_1")
	require.NotEmpty(t, owner)
	for i := 0; i < 10; i++ {
		assert.Equal(t, owner, r.Get("test_key_1"), "lookups must be stable")
	}

	r.Remove("node1:6379")
	assert.Equal(t, 2, r.Len())
	for i := 0; i < 100; i++ {
		assert.NotEqual(t, "node1:6379", r.Get(fmt.Sprintf("k%d", i)))
	}
}

func TestRingEmpty(t *testing.T) {
	r := New(0, 0)
	assert.Equal(t, "", r.Get("anything"))
	r.Remove("ghost")
	assert.Equal(t, 0, r.Len())
}

func TestRingAddIsIdempotent(t *testing.T) {
	r := New(10, 0)
	r.Add("a:1", 1)
	before := r.Points("a:1")
	r.Add("a:1", 5)
	assert.Equal(t, before, r.Points("a:1"))
	assert.Equal(t, 10, r.Stats()["points"])
}

func TestRingDistribution(t *testing.T) {
	r := New(DefaultVirtualNodes, 0)
	for _, n := range []string{"node1:6379", "node2:6379", "node3:6379"} {
		r.Add(n, 1)
	}

	dist := make(map[string]int)
	for i := 0; i < 3000; i++ {
		dist[r.Get(fmt.Sprintf("key_%d", i))]++
	}
	require.Len(t, dist, 3)
	for node, count := range dist {
		assert.True(t, count > 600 && count < 1500, "poor distribution for %s: %d keys", node, count)
	}
}

func TestRingWeight(t *testing.T) {
	r := New(50, 0)
	r.Add("light:1", 1)
	r.Add("heavy:1", 3)
	assert.Len(t, r.Points("light:1"), 50)
	assert.Len(t, r.Points("heavy:1"), 150)
}

func TestRingReplaceKeepsSlots(t *testing.T) {
	r := New(20, 0)
	r.Add("a:1", 1)
	r.Add("b:1", 1)

	owned := map[string]string{}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("k%d", i)
		owned[k] = r.Get(k)
	}
	points := r.Points("a:1")

	require.NoError(t, r.Replace("a:1", "c:1"))
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Has("a:1"))
	assert.Equal(t, points, r.Points("c:1"))

	for k, was := range owned {
		want := was
		if was == "a:1" {
			want = "c:1"
		}
		assert.Equal(t, want, r.Get(k), k)
	}
}

func TestRingReplaceErrors(t *testing.T) {
	r := New(5, 0)
	r.Add("a:1", 1)
	r.Add("b:1", 1)
	assert.ErrorIs(t, r.Replace("x:1", "y:1"), ErrUnknownMember)
	assert.ErrorIs(t, r.Replace("a:1", "b:1"), ErrMemberExists)
}

func TestLookupCachePurgedOnChange(t *testing.T) {
	r := New(5, 2)
	r.Add("a:1", 1)
	assert.Equal(t, "a:1", r.Get("k1"))
	assert.Equal(t, "a:1", r.Get("k2"))
	assert.Equal(t, "a:1", r.Get("k3"))
	assert.Equal(t, 2, r.Stats()["cached_keys"])

	require.NoError(t, r.Replace("a:1", "b:1"))
	assert.Equal(t, 0, r.Stats()["cached_keys"])
	assert.Equal(t, "b:1", r.Get("k1"))
}

func TestShardKey(t *testing.T) {
	cases := map[string]string{
		"foo{bar}baz": "bar",
		"foo{}":       "foo{}",
		"plainkey":    "plainkey",
		"a{b}{c}":     "b",
		"{}{x}":       "{}{x}",
		"x{":          "x{",
		"x}{y}":       "y",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ShardKey(in), in)
	}
}

func TestTaggedKeysColocate(t *testing.T) {
	r := New(DefaultVirtualNodes, 0)
	for i := 0; i < 5; i++ {
		r.Add(fmt.Sprintf("n%d:1", i), 1)
	}
	owner := r.Get(ShardKey("user:{42}:name"))
	for _, k := range []string{"user:{42}:email", "cart:{42}", "{42}"} {
		assert.Equal(t, owner, r.Get(ShardKey(k)), k)
	}
}
