package voxelblock

// Voxel is a single TSDF cell: truncated signed distance, accumulated
// weight, and a running-average color. Default state (TSDF=1, Weight=0,
// Color=0) represents "far outside, unobserved" — the zero value of this
// struct is NOT the default state, so callers must use DefaultVoxel or
// VoxelBlock.Reset (Allocate/Free) rather than relying on Go's zero value.
type Voxel struct {
	TSDF   float32
	Weight float32
	Color  [3]float32
}

// DefaultVoxel is the state of every voxel in a freshly allocated block.
var DefaultVoxel = Voxel{TSDF: 1.0, Weight: 0, Color: [3]float32{}}

// IsObserved reports whether this voxel has received at least one
// integration update.
func (v Voxel) IsObserved() bool {
	return v.Weight > 0
}

// ColorClamped returns Color clamped per-channel to [0,1], the convention
// used by PointCloud/TriangleMesh output.
func (v Voxel) ColorClamped() [3]float32 {
	out := v.Color
	for i := range out {
		if out[i] < 0 {
			out[i] = 0
		} else if out[i] > 1 {
			out[i] = 1
		}
	}
	return out
}
