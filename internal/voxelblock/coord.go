// Package voxelblock defines the fixed-size voxel block and its addressing
// scheme: BlockCoord (integer block-space coordinate), Voxel (the per-cell
// TSDF/weight/color state), and VoxelBlock (the resolution^3 flat array of
// voxels). Grounded on the CompactVoxel layout from
// internal/spatial/compact_voxel.go, narrowed from a particle-reference
// bitfield voxel to a TSDF voxel.
package voxelblock

import "github.com/rigerlee/tsdfvolume/internal/geom"

// BlockCoord is an integer triple identifying a block in block-space.
type BlockCoord struct {
	I, J, K int32
}

// WorldOrigin returns the world-space position of local index (0,0,0)
// inside this block, given the volume's block resolution R and voxel
// size v. Voxel (a,b,c) sits at origin + (a+0.5, b+0.5, c+0.5)*v.
func (c BlockCoord) WorldOrigin(resolution int, voxelSize float32) geom.Vec3 {
	r := float32(resolution)
	return geom.Vec3{
		X: float32(c.I) * r * voxelSize,
		Y: float32(c.J) * r * voxelSize,
		Z: float32(c.K) * r * voxelSize,
	}
}

// FromWorld maps a world position to the block coordinate containing it,
// given the block extent (resolution * voxelSize).
func FromWorld(p geom.Vec3, blockExtent float32) BlockCoord {
	return BlockCoord{
		I: floorDiv32(p.X, blockExtent),
		J: floorDiv32(p.Y, blockExtent),
		K: floorDiv32(p.Z, blockExtent),
	}
}

func floorDiv32(v, extent float32) int32 {
	q := v / extent
	f := int32(q)
	if q < 0 && float32(f) != q {
		f--
	}
	return f
}

// VoxelWorldPos returns the world-space center of voxel (a,b,c) within a
// block at coord: ((i*R+a+0.5)*v, (j*R+b+0.5)*v, (k*R+c+0.5)*v).
func (c BlockCoord) VoxelWorldPos(a, b, c2 int, resolution int, voxelSize float32) geom.Vec3 {
	r := float32(resolution)
	return geom.Vec3{
		X: (float32(c.I)*r + float32(a) + 0.5) * voxelSize,
		Y: (float32(c.J)*r + float32(b) + 0.5) * voxelSize,
		Z: (float32(c.K)*r + float32(c2) + 0.5) * voxelSize,
	}
}

// ActiveBlock pairs a block's coordinate with its pool slot, the unit the
// integrator and extractor iterate over.
type ActiveBlock struct {
	Coord BlockCoord
	Slot  int32
}
