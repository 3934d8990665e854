package partition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkToNodeUnhashedIsStableRank(t *testing.T) {
	assert.Equal(t, 0, ChunkToNode(0, 4, false))
	assert.Equal(t, 1, ChunkToNode(1, 4, false))
	assert.Equal(t, 1, ChunkToNode(5, 4, false))
}

func TestChunkToNodeUnhashedUniformity(t *testing.T) {
	const numNodes = 7
	const numChunks = 700
	counts := make([]int, numNodes)
	for c := 0; c < numChunks; c++ {
		counts[ChunkToNode(c, numNodes, false)]++
	}
	min, max := counts[0], counts[0]
	for _, c := range counts {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	assert.LessOrEqual(t, max-min, 1)
}

func TestChunkToNodeHashedBoundedAndStable(t *testing.T) {
	const numNodes = 5
	for c := 0; c < 1000; c++ {
		n := ChunkToNode(c, numNodes, true)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, numNodes)
		assert.Equal(t, n, ChunkToNode(c, numNodes, true), "must be stable across calls")
	}
}

func TestChunkToNodeHashedRoughlyUniform(t *testing.T) {
	const numNodes = 8
	const numChunks = 8000
	counts := make([]int, numNodes)
	for c := 0; c < numChunks; c++ {
		counts[ChunkToNode(c, numNodes, true)]++
	}
	expected := float64(numChunks) / float64(numNodes)
	// Allow a generous k*sqrt(N) deviation band per the testable property.
	bound := 4 * math.Sqrt(float64(numChunks))
	for _, c := range counts {
		assert.InDelta(t, expected, float64(c), bound)
	}
}
