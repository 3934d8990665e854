// Package partition implements the deterministic mapping from celestial
// positions to chunk/sub-chunk identifiers (the sky partitioner), plus
// chunk-to-node placement.
package partition

import (
	"fmt"
	"math"

	"github.com/dreamware/qserv-go/internal/geom"
)

// OverlapKind classifies why a location was emitted for a point.
type OverlapKind int

const (
	NonOverlap OverlapKind = iota
	SelfOverlap
	FullOverlap
)

func (k OverlapKind) String() string {
	switch k {
	case NonOverlap:
		return "NON_OVERLAP"
	case SelfOverlap:
		return "SELF_OVERLAP"
	case FullOverlap:
		return "FULL_OVERLAP"
	default:
		return "UNKNOWN_OVERLAP"
	}
}

// ChunkLocation is one (chunk, sub-chunk) association for a point.
type ChunkLocation struct {
	ChunkID    int
	SubChunkID int
	Stripe     int
	Chunk      int
	SubStripe  int
	SubChunk   int
	Kind       OverlapKind
}

// ConfigError reports a partitioner parameter that fails the invariants
// in the data model: non-positive inputs, overlap exceeding 10 degrees,
// a sub-stripe shorter than the requested overlap, or an azimuthal
// overlap angle that exceeds its sub-chunk width.
type ConfigError struct{ Msg string }

func (e ConfigError) Error() string { return "partition: " + e.Msg }

// stripeGeom holds the precomputed layout for one declination stripe.
type stripeGeom struct {
	decMin, decMax float64
	numChunks      int
	chunkWidth     float64
}

// subStripeGeom holds the precomputed layout for one declination
// sub-stripe (an SS-th slice of its parent stripe).
type subStripeGeom struct {
	decMin, decMax float64
	stripe         int
	numSubChunks   int
	subChunkWidth  float64
	alpha          float64
}

// Partitioner computes chunk and sub-chunk locations for points on the
// sphere, parameterized by stripe count, sub-stripes per stripe, and an
// overlap margin in degrees.
type Partitioner struct {
	overlap             float64
	stripes             int
	subStripesPerStripe int
	stripeHeight        float64
	subStripeHeight     float64

	stripeInfo    []stripeGeom
	subStripeInfo []subStripeGeom

	maxChunksPerStripe    int
	maxSubChunksPerChunk  int
}

// New builds a Partitioner for S stripes, SS sub-stripes per stripe, and
// an overlap margin (degrees). It precomputes per-stripe chunk counts and
// per-sub-stripe sub-chunk counts and overlap angles, failing fast with
// ConfigError if any data-model invariant would be violated.
func New(overlap float64, stripes, subStripesPerStripe int) (*Partitioner, error) {
	if stripes <= 0 || subStripesPerStripe <= 0 {
		return nil, ConfigError{Msg: "stripes and sub-stripes must be positive"}
	}
	if overlap <= 0 {
		return nil, ConfigError{Msg: "overlap must be positive"}
	}
	if overlap > 10 {
		return nil, ConfigError{Msg: "overlap must not exceed 10 degrees"}
	}
	p := &Partitioner{
		overlap:             overlap,
		stripes:             stripes,
		subStripesPerStripe: subStripesPerStripe,
		stripeHeight:        180.0 / float64(stripes),
		subStripeHeight:     180.0 / float64(stripes*subStripesPerStripe),
	}
	if p.subStripeHeight < overlap {
		return nil, ConfigError{Msg: "sub-stripe height smaller than overlap"}
	}

	p.stripeInfo = make([]stripeGeom, stripes)
	for s := 0; s < stripes; s++ {
		decMin := float64(s)*p.stripeHeight - 90
		decMax := float64(s+1)*p.stripeHeight - 90
		edge := farEdge(decMin, decMax)
		nc := chunkCount(edge, p.stripeHeight)
		p.stripeInfo[s] = stripeGeom{
			decMin:     decMin,
			decMax:     decMax,
			numChunks:  nc,
			chunkWidth: 360.0 / float64(nc),
		}
		if nc > p.maxChunksPerStripe {
			p.maxChunksPerStripe = nc
		}
	}

	numSubStripes := stripes * subStripesPerStripe
	p.subStripeInfo = make([]subStripeGeom, numSubStripes)
	for i := 0; i < numSubStripes; i++ {
		decMin := float64(i)*p.subStripeHeight - 90
		decMax := float64(i+1)*p.subStripeHeight - 90
		stripe := i / subStripesPerStripe
		chunkWidth := p.stripeInfo[stripe].chunkWidth
		edge := nearEdge(decMin, decMax)
		nsc := subChunkCount(edge, chunkWidth, p.subStripeHeight)
		subChunkWidth := chunkWidth / float64(nsc)
		alpha := overlapAngle(overlap, edge)
		if alpha > subChunkWidth {
			return nil, ConfigError{Msg: fmt.Sprintf(
				"overlap angle %.6f exceeds sub-chunk width %.6f at sub-stripe %d", alpha, subChunkWidth, i)}
		}
		p.subStripeInfo[i] = subStripeGeom{
			decMin:        decMin,
			decMax:        decMax,
			stripe:        stripe,
			numSubChunks:  nsc,
			subChunkWidth: subChunkWidth,
			alpha:         alpha,
		}
		if nsc > p.maxSubChunksPerChunk {
			p.maxSubChunksPerChunk = nsc
		}
	}
	return p, nil
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

// farEdge returns the declination bound of [decMin,decMax) furthest from
// the equator — used to size chunk counts conservatively.
func farEdge(decMin, decMax float64) float64 {
	if math.Abs(decMin) > math.Abs(decMax) {
		return decMin
	}
	return decMax
}

// nearEdge returns the declination bound of [decMin,decMax) closest to
// the equator — used to size sub-chunk counts and overlap angles so that
// the exact poles (where cos(dec)==0) never enter the computation.
func nearEdge(decMin, decMax float64) float64 {
	if math.Abs(decMin) < math.Abs(decMax) {
		return decMin
	}
	return decMax
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func chunkCount(edgeDeg, stripeHeight float64) int {
	n := int(math.Round(360 * math.Cos(degToRad(edgeDeg)) / stripeHeight))
	if n < 1 {
		n = 1
	}
	return n
}

func subChunkCount(edgeDeg, chunkWidth, subStripeHeight float64) int {
	n := int(math.Round(chunkWidth * math.Cos(degToRad(edgeDeg)) / subStripeHeight))
	if n < 1 {
		n = 1
	}
	return n
}

func overlapAngle(overlap, edgeDeg float64) float64 {
	c := math.Cos(degToRad(edgeDeg))
	if c <= 1e-9 {
		return math.Inf(1)
	}
	return overlap / c
}

// stripeOf returns the stripe index containing declination dec.
func (p *Partitioner) stripeOf(dec float64) int {
	s := int(math.Floor((dec + 90) / p.stripeHeight))
	return clampInt(s, 0, p.stripes-1)
}

// subStripeOf returns the global sub-stripe index containing dec.
func (p *Partitioner) subStripeOf(dec float64) int {
	ss := int(math.Floor((dec + 90) / p.subStripeHeight))
	return clampInt(ss, 0, p.stripes*p.subStripesPerStripe-1)
}

// chunkOf returns the chunk index within stripe for the given ra.
func (p *Partitioner) chunkOf(stripe int, ra float64) int {
	info := p.stripeInfo[stripe]
	c := int(math.Floor(ra / info.chunkWidth))
	return clampInt(c, 0, info.numChunks-1)
}

// subChunkOf returns the sub-chunk index within subStripe for the given
// ra, counted over the full RA axis (see numGlobalSubChunks).
func (p *Partitioner) subChunkOf(subStripe int, ra float64) int {
	info := p.subStripeInfo[subStripe]
	sc := int(math.Floor(ra / info.subChunkWidth))
	return clampInt(sc, 0, p.numGlobalSubChunks(subStripe)-1)
}

func (p *Partitioner) chunkID(stripe, chunk int) int {
	return stripe*(2*p.maxChunksPerStripe) + chunk
}

func (p *Partitioner) subChunkID(subStripe, stripe, subChunk int) int {
	localSubStripe := subStripe - stripe*p.subStripesPerStripe
	return localSubStripe*p.maxSubChunksPerChunk + subChunk%p.subStripeInfo[subStripe].numSubChunks
}

// numGlobalSubChunks returns the number of distinct sub-chunks in
// sub-stripe subStripe, measured over the full RA axis (across all
// chunks of the parent stripe): nc(stripe)*nsc(subStripe).
func (p *Partitioner) numGlobalSubChunks(subStripe int) int {
	ss := p.subStripeInfo[subStripe]
	return p.stripeInfo[ss.stripe].numChunks * ss.numSubChunks
}

// locateOwner returns the single NON_OVERLAP location owning (ra, dec).
func (p *Partitioner) locateOwner(ra, dec float64) ChunkLocation {
	stripe := p.stripeOf(dec)
	subStripe := p.subStripeOf(dec)
	chunk := p.chunkOf(stripe, ra)
	subChunk := p.subChunkOf(subStripe, ra)
	return ChunkLocation{
		ChunkID:    p.chunkID(stripe, chunk),
		SubChunkID: p.subChunkID(subStripe, stripe, subChunk),
		Stripe:     stripe,
		Chunk:      chunk,
		SubStripe:  subStripe,
		SubChunk:   subChunk,
		Kind:       NonOverlap,
	}
}

// Locate returns the NON_OVERLAP location owning (ra, dec). ra must be in
// [0,360), dec in [-90,90].
func (p *Partitioner) Locate(ra, dec float64) ChunkLocation {
	return p.locateOwner(ra, dec)
}

// LocateWithOverlaps returns the owning NON_OVERLAP location plus any
// SELF_OVERLAP/FULL_OVERLAP neighbor locations. When chunkID is
// non-negative, only locations matching that chunk id are returned.
func (p *Partitioner) LocateWithOverlaps(ra, dec float64, chunkID int) []ChunkLocation {
	owner := p.locateOwner(ra, dec)
	locs := []ChunkLocation{owner}

	subStripe := owner.SubStripe
	ssInfo := p.subStripeInfo[subStripe]
	raMin := float64(owner.SubChunk) * ssInfo.subChunkWidth
	raMax := raMin + ssInfo.subChunkWidth
	decMin := ssInfo.decMin
	decMax := ssInfo.decMax

	numSub := p.numGlobalSubChunks(subStripe)

	// Sub-stripe below (smaller dec): FULL_OVERLAP.
	if dec < decMin+p.overlap && subStripe > 0 {
		locs = append(locs, p.overlapAt(ra, subStripe-1, FullOverlap))
	}
	// Sub-stripe above (larger dec): SELF_OVERLAP.
	if dec >= decMax-p.overlap && subStripe < len(p.subStripeInfo)-1 {
		locs = append(locs, p.overlapAt(ra, subStripe+1, SelfOverlap))
	}
	// Left neighbor within the same sub-stripe: SELF_OVERLAP.
	if ra < raMin+ssInfo.alpha {
		neighbor := (owner.SubChunk - 1 + numSub) % numSub
		locs = append(locs, p.neighborAt(subStripe, neighbor, SelfOverlap))
	}
	// Right neighbor within the same sub-stripe: FULL_OVERLAP.
	if ra > raMax-ssInfo.alpha {
		neighbor := (owner.SubChunk + 1) % numSub
		locs = append(locs, p.neighborAt(subStripe, neighbor, FullOverlap))
	}

	if chunkID < 0 {
		return locs
	}
	filtered := locs[:0:0]
	for _, l := range locs {
		if l.ChunkID == chunkID {
			filtered = append(filtered, l)
		}
	}
	return filtered
}

// overlapAt builds a location for ra evaluated against a different
// sub-stripe entirely (the sub-stripe directly above/below the owner's).
func (p *Partitioner) overlapAt(ra float64, subStripe int, kind OverlapKind) ChunkLocation {
	ss := p.subStripeInfo[subStripe]
	stripe := ss.stripe
	chunk := p.chunkOf(stripe, ra)
	subChunk := p.subChunkOf(subStripe, ra)
	return ChunkLocation{
		ChunkID:    p.chunkID(stripe, chunk),
		SubChunkID: p.subChunkID(subStripe, stripe, subChunk),
		Stripe:     stripe,
		Chunk:      chunk,
		SubStripe:  subStripe,
		SubChunk:   subChunk,
		Kind:       kind,
	}
}

// neighborAt builds a location for an explicit sub-chunk index within
// subStripe (used for same-sub-stripe, RA-wrapping neighbors).
func (p *Partitioner) neighborAt(subStripe, subChunk int, kind OverlapKind) ChunkLocation {
	ss := p.subStripeInfo[subStripe]
	stripe := ss.stripe
	chunkWidth := p.stripeInfo[stripe].chunkWidth
	ra := (float64(subChunk)*ss.subChunkWidth + ss.subChunkWidth/2)
	chunk := int(math.Floor(ra / chunkWidth))
	chunk = clampInt(chunk, 0, p.stripeInfo[stripe].numChunks-1)
	return ChunkLocation{
		ChunkID:    p.chunkID(stripe, chunk),
		SubChunkID: p.subChunkID(subStripe, stripe, subChunk),
		Stripe:     stripe,
		Chunk:      chunk,
		SubStripe:  subStripe,
		SubChunk:   subChunk,
		Kind:       kind,
	}
}

// Region is an axis-aligned RA/Dec bounding box used to select chunks.
type Region struct {
	RaMin, RaMax   float64
	DecMin, DecMax float64
}

// stripeChunkOf inverts chunkID into its (stripe, chunk) pair.
func (p *Partitioner) stripeChunkOf(chunkID int) (int, int) {
	span := 2 * p.maxChunksPerStripe
	return chunkID / span, chunkID % span
}

// SubChunksPerChunk lists every global sub-chunk id nested under
// chunkID: one id per (local sub-stripe, sub-chunk) pair belonging to
// chunkID's parent stripe, per the nesting scheme in subChunkID.
func (p *Partitioner) SubChunksPerChunk(chunkID int) []int64 {
	stripe, _ := p.stripeChunkOf(chunkID)
	var ids []int64
	for local := 0; local < p.subStripesPerStripe; local++ {
		subStripe := stripe*p.subStripesPerStripe + local
		info := p.subStripeInfo[subStripe]
		for sc := 0; sc < info.numSubChunks; sc++ {
			ids = append(ids, int64(local*p.maxSubChunksPerChunk+sc))
		}
	}
	return ids
}

// AllChunkIDs returns every chunk id in the partitioning, in ascending
// (stripe, chunk) order.
func (p *Partitioner) AllChunkIDs() []int {
	var ids []int
	for s, info := range p.stripeInfo {
		for c := 0; c < info.numChunks; c++ {
			ids = append(ids, p.chunkID(s, c))
		}
	}
	return ids
}

// chunkBounds returns the RA/Dec bounding box of a (stripe, chunk) pair.
func (p *Partitioner) chunkBounds(stripe, chunk int) Region {
	info := p.stripeInfo[stripe]
	return Region{
		RaMin:  float64(chunk) * info.chunkWidth,
		RaMax:  float64(chunk+1) * info.chunkWidth,
		DecMin: info.decMin,
		DecMax: info.decMax,
	}
}

func intersects(a, b Region) bool {
	decOverlap := a.DecMin < b.DecMax && b.DecMin < a.DecMax
	raOverlap := a.RaMin < b.RaMax && b.RaMin < a.RaMax
	return decOverlap && raOverlap
}

// ChunksFor enumerates chunk ids whose bounding box intersects region and
// whose placement (per ChunkToNode) selects node out of numNodes.
func (p *Partitioner) ChunksFor(region Region, node, numNodes int, hashed bool) []int {
	var out []int
	for s, info := range p.stripeInfo {
		for c := 0; c < info.numChunks; c++ {
			if !intersects(p.chunkBounds(s, c), region) {
				continue
			}
			id := p.chunkID(s, c)
			if ChunkToNode(id, numNodes, hashed) == node {
				out = append(out, id)
			}
		}
	}
	return out
}

// FromRaDec converts an (ra, dec) pair in degrees to a unit Vec3, for
// callers that need the point in Cartesian form (e.g. for HTM indexing).
func FromRaDec(ra, dec float64) geom.Vec3 { return geom.FromRaDec(ra, dec) }
