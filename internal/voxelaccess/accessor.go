// Package voxelaccess resolves a voxel at a possibly out-of-block local
// index into its owning block, crossing block boundaries through the
// spatial hashmap. The marching-cubes extractor uses this to read a
// neighbor voxel that may live in an adjacent block. Grounded on
// a neighbor-aware voxel accessor.
package voxelaccess

import (
	"github.com/rigerlee/tsdfvolume/internal/blockpool"
	"github.com/rigerlee/tsdfvolume/internal/spatialhash"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
)

// Accessor resolves (coord, local index) to a *voxelblock.Voxel, allowing
// the local index's components to range outside [0, Resolution) — the
// overflow is folded into an adjacent block coordinate.
type Accessor struct {
	pool       *blockpool.BlockPool
	hash       *spatialhash.Hashmap
	resolution int
}

// New creates an Accessor over the given pool and hashmap.
func New(pool *blockpool.BlockPool, hash *spatialhash.Hashmap, resolution int) *Accessor {
	return &Accessor{pool: pool, hash: hash, resolution: resolution}
}

// floorDivMod returns (q, r) such that n == q*d+r and 0 <= r < d, for d>0.
// Go's native / and % truncate toward zero, which gives the wrong block
// for negative local indices (e.g. -1 must map to block offset -1, local
// index R-1, not block offset 0).
func floorDivMod(n, d int) (q, r int) {
	q = n / d
	r = n % d
	if r < 0 {
		q--
		r += d
	}
	return q, r
}

// Resolve folds a local index (a,b,c), each possibly outside [0,R), into
// the BlockCoord that owns it plus the in-range local index within that
// block.
func (acc *Accessor) Resolve(coord voxelblock.BlockCoord, a, b, c int) (voxelblock.BlockCoord, int, int, int) {
	r := acc.resolution
	di, la := floorDivMod(a, r)
	dj, lb := floorDivMod(b, r)
	dk, lc := floorDivMod(c, r)
	return voxelblock.BlockCoord{I: coord.I + int32(di), J: coord.J + int32(dj), K: coord.K + int32(dk)}, la, lb, lc
}

// VoxelAt returns the voxel at (coord, a, b, c), resolving across block
// boundaries as needed. Returns ok=false if the owning block is absent
// from the hashmap.
func (acc *Accessor) VoxelAt(coord voxelblock.BlockCoord, a, b, c int) (*voxelblock.Voxel, bool) {
	ownerCoord, la, lb, lc := acc.Resolve(coord, a, b, c)
	slot, ok := acc.hash.Find(ownerCoord)
	if !ok {
		return nil, false
	}
	block := acc.pool.Get(slot)
	return block.At(la, lb, lc), true
}

// Resolution returns the per-block voxel resolution this accessor was
// built with.
func (acc *Accessor) Resolution() int {
	return acc.resolution
}
