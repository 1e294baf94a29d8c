package voxelblock

// VoxelBlock is a flat Resolution^3 array of voxels in (a,b,c) row-major
// order with c (local z) varying fastest, matching the "VoxelBlock"
// data model. Resolution is fixed for the lifetime of the block (set by
// the owning BlockPool at construction) and is expected to be one of the
// supported specializations {8, 16}, though any R>=2 is accepted.
type VoxelBlock struct {
	Resolution int
	Voxels     []Voxel
}

// NewVoxelBlock allocates a VoxelBlock at the given resolution, already
// reset to DefaultVoxel.
func NewVoxelBlock(resolution int) *VoxelBlock {
	b := &VoxelBlock{
		Resolution: resolution,
		Voxels:     make([]Voxel, resolution*resolution*resolution),
	}
	b.Reset()
	return b
}

// Index converts a local voxel index (a,b,c), each in [0,R), to its flat
// offset into Voxels. c varies fastest.
func (b *VoxelBlock) Index(a, bb, c int) int {
	r := b.Resolution
	return (a*r+bb)*r + c
}

// At returns a pointer to the voxel at local index (a,b,c), allowing
// in-place mutation — Go pointers are inherently read/write, so there is
// no separate GetMut accessor (see DESIGN.md's Open Question resolution
// for the BlockPool.Get/GetMut collapse).
func (b *VoxelBlock) At(a, bb, c int) *Voxel {
	return &b.Voxels[b.Index(a, bb, c)]
}

// InBounds reports whether (a,b,c) is a valid local index for this block.
func (b *VoxelBlock) InBounds(a, bb, c int) bool {
	r := b.Resolution
	return a >= 0 && a < r && bb >= 0 && bb < r && c >= 0 && c < r
}

// Reset zeros every voxel back to DefaultVoxel. Used by BlockPool.Free so
// that a reused slot never leaks a previous occupant's TSDF state.
func (b *VoxelBlock) Reset() {
	for i := range b.Voxels {
		b.Voxels[i] = DefaultVoxel
	}
}
