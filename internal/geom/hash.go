package geom

// MixHash32 is an invertible 32-bit bit-mixing hash (Murmur3 finalizer
// style). It is used wherever the system needs a uniformly distributed,
// deterministic mapping from an integer key (chunk id, node index) to a
// hash space — chunk-to-node placement (partition.ChunkToNode) uses it so
// that placement decisions are reproducible from the key alone.
func MixHash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}

// UnmixHash32 inverts MixHash32: UnmixHash32(MixHash32(x)) == x for all x.
func UnmixHash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7ed1b41d // modular inverse of 0xc2b2ae35 mod 2^32
	x ^= (x >> 13) ^ (x >> 26)
	x *= 0xa5cb9243 // modular inverse of 0x85ebca6b mod 2^32
	x ^= x >> 16
	return x
}
