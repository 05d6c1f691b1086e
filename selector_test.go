package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardpipe/shardpipe/internal"
)

func poolOf(weights ...float64) []server {
	servers := make([]server, len(weights))
	for i, w := range weights {
		addr, err := internal.ParseAddr(fmt.Sprintf("10.0.0.%d:11211", i+1))
		if err != nil {
			panic(err)
		}
		servers[i] = server{addr: addr, weight: w}
	}
	return servers
}

func TestWeightedSelectorIsDeterministic(t *testing.T) {
	a, err := newWeightedSelector(poolOf(1, 1, 2))
	require.NoError(t, err)
	b, err := newWeightedSelector(poolOf(1, 1, 2))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		pa, _ := a.Pick(key)
		pb, _ := b.Pick(key)
		assert.Equal(t, pa, pb)
	}
}

func TestWeightedSelectorHonorsWeights(t *testing.T) {
	s, err := newWeightedSelector(poolOf(1, 1, 2))
	require.NoError(t, err)

	counts := make([]int, 3)
	const n = 10000
	for i := 0; i < n; i++ {
		idx, err := s.Pick(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		counts[idx]++
	}
	// Server 2 holds half the table, the others a quarter each.
	assert.InDelta(t, n/2, counts[2], n/10)
	assert.InDelta(t, n/4, counts[0], n/10)
	assert.InDelta(t, n/4, counts[1], n/10)
}

func TestWeightedSelectorRejectsOversizedTable(t *testing.T) {
	_, err := newWeightedSelector(poolOf(40000))
	assert.Error(t, err)
}

func TestWeightedSelectorEmptyPool(t *testing.T) {
	_, err := newWeightedSelector(nil)
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestKetamaRemovalOnlyRemapsOwnedKeys(t *testing.T) {
	three, err := newKetamaSelector(poolOf(1, 1, 1), DefaultKetamaPoints)
	require.NoError(t, err)
	two, err := newKetamaSelector(poolOf(1, 1), DefaultKetamaPoints)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%d", i)
		before, err := three.Pick(key)
		require.NoError(t, err)
		if before == 2 {
			continue
		}
		after, err := two.Pick(key)
		require.NoError(t, err)
		// Keys not owned by the removed server keep their assignment.
		assert.Equal(t, before, after, "key %s moved off a surviving server", key)
	}
}

func TestKetamaSpreadsLoad(t *testing.T) {
	s, err := newKetamaSelector(poolOf(1, 1, 1), DefaultKetamaPoints)
	require.NoError(t, err)

	counts := make([]int, 3)
	const n = 9000
	for i := 0; i < n; i++ {
		idx, err := s.Pick(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		counts[idx]++
	}
	for i, c := range counts {
		assert.InDelta(t, n/3, c, float64(n)/5, "server %d load", i)
	}
}

func TestKetamaWeightScalesRingShare(t *testing.T) {
	s, err := newKetamaSelector(poolOf(1, 3), DefaultKetamaPoints)
	require.NoError(t, err)

	counts := make([]int, 2)
	const n = 8000
	for i := 0; i < n; i++ {
		idx, err := s.Pick(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		counts[idx]++
	}
	assert.Greater(t, counts[1], counts[0]*2)
}

func TestJumpSelectorRejectsWeights(t *testing.T) {
	_, err := newJumpSelector(poolOf(1, 2))
	assert.Error(t, err)
}

func TestJumpSelectorGrowthOnlyMovesToNewServer(t *testing.T) {
	three, err := newJumpSelector(poolOf(1, 1, 1))
	require.NoError(t, err)
	four, err := newJumpSelector(poolOf(1, 1, 1, 1))
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%d", i)
		before, err := three.Pick(key)
		require.NoError(t, err)
		after, err := four.Pick(key)
		require.NoError(t, err)
		if before != after {
			assert.Equal(t, 3, after, "moved keys may only land on the added server")
		}
	}
}
