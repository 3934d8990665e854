package partition

import "github.com/dreamware/qserv-go/internal/geom"

// ChunkToNode is the pure function mapping a chunk id to a node ordinal
// in [0, numNodes): chunkID mod numNodes, taken on the chunk id itself,
// when hashed is false (stable, evenly spread for consecutive ids), or H(chunkId) mod
// numNodes when hashed is true, using the invertible bit-mixing hash so
// placement can be inverted/tested independently of numNodes.
func ChunkToNode(chunkID, numNodes int, hashed bool) int {
	if numNodes <= 0 {
		return 0
	}
	if !hashed {
		return chunkID % numNodes
	}
	h := geom.MixHash32(uint32(chunkID))
	return int(h % uint32(numNodes))
}
