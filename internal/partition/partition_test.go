package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name                string
		overlap             float64
		stripes, subStripes int
	}{
		{"zero stripes", 0.1, 0, 2},
		{"zero sub-stripes", 0.1, 2, 0},
		{"zero overlap", 0, 2, 2},
		{"overlap too large", 11, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.overlap, tt.stripes, tt.subStripes)
			require.Error(t, err)
			var cfgErr ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

// S1 — partitioner tiny config from the scenario table: S=2, SS=2,
// overlap=0.1. (ra=0, dec=0) owns chunk id 2 (stripe 1, chunk 0), with
// sub-stripe 2, sub-chunk 0.
func TestS1TinyConfigOwner(t *testing.T) {
	p, err := New(0.1, 2, 2)
	require.NoError(t, err)

	loc := p.Locate(0, 0)
	assert.Equal(t, 2, loc.ChunkID)
	assert.Equal(t, 1, loc.Stripe)
	assert.Equal(t, 0, loc.Chunk)
	assert.Equal(t, 2, loc.SubStripe)
	assert.Equal(t, 0, loc.SubChunk)
	assert.Equal(t, NonOverlap, loc.Kind)
}

func TestS1TinyConfigLeftNeighborOverlap(t *testing.T) {
	p, err := New(0.1, 2, 2)
	require.NoError(t, err)

	locs := p.LocateWithOverlaps(0.05, 0, -1)
	require.GreaterOrEqual(t, len(locs), 2)

	var sawOwner, sawSelfOverlap bool
	for _, l := range locs {
		switch l.Kind {
		case NonOverlap:
			sawOwner = true
		case SelfOverlap:
			sawSelfOverlap = true
		}
	}
	assert.True(t, sawOwner)
	assert.True(t, sawSelfOverlap)
}

// Property 1: totality — every (ra, dec) in range has exactly one
// NON_OVERLAP location, and LocateWithOverlaps never duplicates a chunk.
func TestPartitionerTotality(t *testing.T) {
	p, err := New(0.05, 4, 3)
	require.NoError(t, err)

	ras := []float64{0, 10, 89.9, 90, 180, 270, 359.9}
	decs := []float64{-90, -45, -0.001, 0, 0.001, 45, 89.9, 90}

	for _, dec := range decs {
		for _, ra := range ras {
			loc := p.Locate(ra, dec)
			assert.Equal(t, NonOverlap, loc.Kind)

			locs := p.LocateWithOverlaps(ra, dec, -1)
			seen := map[int]bool{}
			nonOverlapCount := 0
			for _, l := range locs {
				key := l.ChunkID*1_000_000 + l.SubChunkID
				assert.False(t, seen[key], "duplicate location for ra=%v dec=%v", ra, dec)
				seen[key] = true
				if l.Kind == NonOverlap {
					nonOverlapCount++
				}
			}
			assert.Equal(t, 1, nonOverlapCount)
		}
	}
}

// Property 3: chunk id injectivity across all (stripe, chunk) pairs.
func TestChunkIDInjective(t *testing.T) {
	p, err := New(0.1, 5, 4)
	require.NoError(t, err)

	seen := map[int]bool{}
	for s, info := range p.stripeInfo {
		for c := 0; c < info.numChunks; c++ {
			id := p.chunkID(s, c)
			assert.False(t, seen[id], "duplicate chunk id %d", id)
			seen[id] = true
		}
	}
}

func TestChunksForFiltersByNode(t *testing.T) {
	p, err := New(0.1, 4, 2)
	require.NoError(t, err)

	full := Region{RaMin: 0, RaMax: 360, DecMin: -90, DecMax: 90}
	const numNodes = 3
	total := 0
	seen := map[int]bool{}
	for n := 0; n < numNodes; n++ {
		for _, id := range p.ChunksFor(full, n, numNodes, false) {
			assert.False(t, seen[id])
			seen[id] = true
			total++
		}
	}
	assert.Equal(t, len(p.AllChunkIDs()), total)
}

func TestSubChunksPerChunkNonEmptyAndUnique(t *testing.T) {
	p, err := New(0.1, 4, 3)
	require.NoError(t, err)

	for _, chunkID := range p.AllChunkIDs() {
		ids := p.SubChunksPerChunk(chunkID)
		assert.NotEmpty(t, ids)
		seen := map[int64]bool{}
		for _, id := range ids {
			assert.False(t, seen[id], "duplicate sub-chunk id %d in chunk %d", id, chunkID)
			seen[id] = true
		}
	}
}
