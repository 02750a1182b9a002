package hosts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	h, err := Parse("10.0.0.1:6379")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", h.Address)
	assert.Equal(t, 6379, h.Port)
	assert.Equal(t, DefaultWeight, h.Weight)
	assert.Equal(t, "10.0.0.1:6379", h.ID())

	h, err = Parse(" cache-2:7000:3 ")
	require.NoError(t, err)
	assert.Equal(t, "cache-2:7000", h.ID())
	assert.Equal(t, 3, h.Weight)

	h, err = Parse("[::1]:6379")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:6379", h.ID())
}

func TestParseInvalid(t *testing.T) {
	for _, spec := range []string{"", "nohost", "a:b", "a:1:x", "a:1:0", "a:70000"} {
		_, err := Parse(spec)
		assert.ErrorIs(t, err, ErrInvalidHost, spec)
	}
}

func TestDecode(t *testing.T) {
	list, err := Decode([]map[string]any{
		{"address": "10.0.0.1", "port": "6379"},
		{"address": "10.0.0.2", "port": 6380, "weight": 2},
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "10.0.0.1:6379", list[0].ID())
	assert.Equal(t, 1, list[0].Weight)
	assert.Equal(t, 2, list[1].Weight)

	_, err = Decode([]map[string]any{{"address": "x", "port": 1, "zone": "a"}})
	assert.ErrorIs(t, err, ErrInvalidHost)
}

func TestStaticResolveDedupes(t *testing.T) {
	a, _ := New("a", 1, 0)
	b, _ := New("b", 1, 1)
	res, err := Static{a, b, a}.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Host{a, b}, res.Hosts)
	assert.Empty(t, res.Replacements)
}

func TestDiscoveryFunc(t *testing.T) {
	a, _ := New("a", 1, 1)
	b, _ := New("b", 1, 1)
	f := DiscoveryFunc(func(context.Context) (Resolution, error) {
		return Resolution{Hosts: []Host{a}, Replacements: []Host{a, b}}, nil
	})
	res, err := f.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Host{a}, res.Hosts)
	assert.Equal(t, []Host{b}, res.Replacements)

	boom := errors.New("registry down")
	_, err = DiscoveryFunc(func(context.Context) (Resolution, error) { return Resolution{}, boom }).Resolve(context.Background())
	assert.ErrorIs(t, err, boom)
}
