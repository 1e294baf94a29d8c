package marchingcubes

import (
	"sync"

	"github.com/rigerlee/tsdfvolume/internal/blockpool"
	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/reconerr"
	"github.com/rigerlee/tsdfvolume/internal/spatialhash"
	"github.com/rigerlee/tsdfvolume/internal/voxelaccess"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
	"github.com/rigerlee/tsdfvolume/internal/workpool"
)

// cornerOffset is the local (da,db,dc) offset of each of the cube's 8
// corners relative to its (a,b,c) anchor voxel.
var cornerOffset = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// edgeCorners gives the two corner indices an edge connects.
var edgeCorners = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// edgeOwner gives, for each of the cube's 12 edges, the offset of the
// voxel that stores it as one of its 3 forward edges (owner, axis), per
// the "per-block table of size R^3 x 3 (edges indexed 0,1,2
// for +x,+y,+z)".
var edgeOwner = [12]struct {
	offset [3]int
	axis   int
}{
	{[3]int{0, 0, 0}, 0}, {[3]int{1, 0, 0}, 1}, {[3]int{0, 1, 0}, 0}, {[3]int{0, 0, 0}, 1},
	{[3]int{0, 0, 1}, 0}, {[3]int{1, 0, 1}, 1}, {[3]int{0, 1, 1}, 0}, {[3]int{0, 0, 1}, 1},
	{[3]int{0, 0, 0}, 2}, {[3]int{1, 0, 0}, 2}, {[3]int{1, 1, 0}, 2}, {[3]int{0, 1, 0}, 2},
}

// forwardOffset is the (da,db,dc) of the far endpoint of forward edge
// axis 0,1,2 (+x,+y,+z) respectively, relative to its owner voxel.
var forwardOffset = [3][3]int{
	{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
}

// blockTable holds the vertex index assigned to each of a block's R^3*3
// forward edges. -1 marks "no vertex" (no sign change, or an endpoint
// absent/unobserved).
type blockTable struct {
	resolution int
	idx        []int32
}

func newBlockTable(resolution int) *blockTable {
	t := &blockTable{resolution: resolution, idx: make([]int32, resolution*resolution*resolution*3)}
	for i := range t.idx {
		t.idx[i] = -1
	}
	return t
}

func (t *blockTable) at(a, b, c, axis int) int32 {
	r := t.resolution
	return t.idx[((a*r+b)*r+c)*3+axis]
}

func (t *blockTable) set(a, b, c, axis int, v int32) {
	r := t.resolution
	t.idx[((a*r+b)*r+c)*3+axis] = v
}

// meshBuilder accumulates the shared vertex buffer across all active
// blocks' Pass 1 workers. Protected by a mutex since Pass 1 parallelizes
// by block but every block may contribute to the same vertex arrays.
type meshBuilder struct {
	mu      sync.Mutex
	mesh    TriangleMesh
}

func (m *meshBuilder) addVertex(pos, normal geom.Vec3, color [3]float32) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := int32(len(m.mesh.Vertices))
	m.mesh.Vertices = append(m.mesh.Vertices, pos)
	m.mesh.VertexNormals = append(m.mesh.VertexNormals, normal)
	m.mesh.VertexColors = append(m.mesh.VertexColors, color)
	return idx
}

func sameSign(a, b float32) bool {
	return (a < 0) == (b < 0)
}

func gradientAt(acc *voxelaccess.Accessor, coord voxelblock.BlockCoord, a, b, c int, voxelSize float32) geom.Vec3 {
	grad := geom.Vec3{}
	axes := [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	comps := make([]float32, 3)
	for i, ax := range axes {
		plus, okP := acc.VoxelAt(coord, a+ax[0], b+ax[1], c+ax[2])
		minus, okM := acc.VoxelAt(coord, a-ax[0], b-ax[1], c-ax[2])
		switch {
		case okP && okM:
			comps[i] = (plus.TSDF - minus.TSDF) / (2 * voxelSize)
		case okP:
			center, _ := acc.VoxelAt(coord, a, b, c)
			comps[i] = (plus.TSDF - center.TSDF) / voxelSize
		case okM:
			center, _ := acc.VoxelAt(coord, a, b, c)
			comps[i] = (center.TSDF - minus.TSDF) / voxelSize
		default:
			comps[i] = 0
		}
	}
	grad.X, grad.Y, grad.Z = comps[0], comps[1], comps[2]
	return grad
}

// Extract runs the two-pass Marching Cubes algorithm over
// the given active blocks.
func Extract(pool *blockpool.BlockPool, hash *spatialhash.Hashmap, wp *workpool.Pool, cfg config.VolumeConfig, active []voxelblock.ActiveBlock) (TriangleMesh, error) {
	if len(active) == 0 {
		return TriangleMesh{}, nil
	}

	acc := voxelaccess.New(pool, hash, cfg.Resolution)
	r := cfg.Resolution

	tables := make([]*blockTable, len(active))
	builder := &meshBuilder{}

	err := wp.ForEachIndex(len(active), func(idx int) error {
		ab := active[idx]
		table := newBlockTable(r)
		tables[idx] = table

		for a := 0; a < r; a++ {
			for b := 0; b < r; b++ {
				for c := 0; c < r; c++ {
					v0, ok0 := acc.VoxelAt(ab.Coord, a, b, c)
					if !ok0 || !v0.IsObserved() {
						continue
					}
					pos0 := ab.Coord.VoxelWorldPos(a, b, c, r, cfg.VoxelSize)

					for axis := 0; axis < 3; axis++ {
						off := forwardOffset[axis]
						v1, ok1 := acc.VoxelAt(ab.Coord, a+off[0], b+off[1], c+off[2])
						if !ok1 || !v1.IsObserved() {
							continue
						}
						if sameSign(v0.TSDF, v1.TSDF) {
							continue
						}
						denom := v0.TSDF - v1.TSDF
						if denom == 0 {
							continue
						}
						t := v0.TSDF / denom

						pos1 := ab.Coord.VoxelWorldPos(a+off[0], b+off[1], c+off[2], r, cfg.VoxelSize)
						pos := pos0.Lerp(pos1, t)

						g0 := gradientAt(acc, ab.Coord, a, b, c, cfg.VoxelSize)
						g1 := gradientAt(acc, ab.Coord, a+off[0], b+off[1], c+off[2], cfg.VoxelSize)
						normal := g0.Add(g1).Scale(0.5).Normalize()

						var color [3]float32
						c0, c1 := v0.ColorClamped(), v1.ColorClamped()
						for k := 0; k < 3; k++ {
							color[k] = c0[k] + (c1[k]-c0[k])*t
						}

						vid := builder.addVertex(pos, normal, color)
						table.set(a, b, c, axis, vid)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return TriangleMesh{}, err
	}

	tableByCoord := make(map[voxelblock.BlockCoord]*blockTable, len(active))
	for i, ab := range active {
		tableByCoord[ab.Coord] = tables[i]
	}

	var triMu sync.Mutex
	err = wp.ForEachIndex(len(active), func(idx int) error {
		ab := active[idx]
		var localTris [][3]uint32

		for a := 0; a < r; a++ {
			for b := 0; b < r; b++ {
				for c := 0; c < r; c++ {
					var cubeIndex int
					valid := true
					for i, off := range cornerOffset {
						v, ok := acc.VoxelAt(ab.Coord, a+off[0], b+off[1], c+off[2])
						if !ok || !v.IsObserved() {
							valid = false
							break
						}
						if v.TSDF < 0 {
							cubeIndex |= 1 << i
						}
					}
					if !valid {
						continue
					}
					if edgeTable[cubeIndex] == 0 {
						continue
					}

					var edgeVertex [12]int32
					for e := 0; e < 12; e++ {
						edgeVertex[e] = -1
						if edgeTable[cubeIndex]&(1<<e) == 0 {
							continue
						}
						owner := edgeOwner[e]
						ownerCoord, la, lb, lc := acc.Resolve(ab.Coord, a+owner.offset[0], b+owner.offset[1], c+owner.offset[2])
						ownerTable, found := tableByCoord[ownerCoord]
						if !found {
							valid = false
							break
						}
						vid := ownerTable.at(la, lb, lc, owner.axis)
						if vid < 0 {
							valid = false
							break
						}
						edgeVertex[e] = vid
					}
					if !valid {
						continue
					}

					row := triTable[cubeIndex]
					for i := 0; i+2 < len(row) && row[i] != -1; i += 3 {
						localTris = append(localTris, [3]uint32{
							uint32(edgeVertex[row[i]]),
							uint32(edgeVertex[row[i+1]]),
							uint32(edgeVertex[row[i+2]]),
						})
					}
				}
			}
		}

		if len(localTris) > 0 {
			triMu.Lock()
			builder.mesh.Triangles = append(builder.mesh.Triangles, localTris...)
			triMu.Unlock()
		}
		return nil
	})
	if err != nil {
		return TriangleMesh{}, err
	}

	return builder.mesh, nil
}

// ExtractSurfacePoints computes zero-crossings of tsdf along the three
// forward axis-aligned edges of every active voxel with both endpoints
// observed. Lighter-weight than Extract: no
// triangulation, no shared-vertex bookkeeping.
func ExtractSurfacePoints(pool *blockpool.BlockPool, hash *spatialhash.Hashmap, wp *workpool.Pool, cfg config.VolumeConfig, active []voxelblock.ActiveBlock) (PointCloud, error) {
	if len(active) == 0 {
		return PointCloud{}, nil
	}
	acc := voxelaccess.New(pool, hash, cfg.Resolution)
	r := cfg.Resolution

	var mu sync.Mutex
	var cloud PointCloud

	err := wp.ForEachIndex(len(active), func(idx int) error {
		ab := active[idx]
		var localPos, localNorm []geom.Vec3
		var localColor [][3]float32

		for a := 0; a < r; a++ {
			for b := 0; b < r; b++ {
				for c := 0; c < r; c++ {
					v0, ok0 := acc.VoxelAt(ab.Coord, a, b, c)
					if !ok0 || !v0.IsObserved() {
						continue
					}
					pos0 := ab.Coord.VoxelWorldPos(a, b, c, r, cfg.VoxelSize)

					for axis := 0; axis < 3; axis++ {
						off := forwardOffset[axis]
						v1, ok1 := acc.VoxelAt(ab.Coord, a+off[0], b+off[1], c+off[2])
						if !ok1 || !v1.IsObserved() || sameSign(v0.TSDF, v1.TSDF) {
							continue
						}
						denom := v0.TSDF - v1.TSDF
						if denom == 0 {
							continue
						}
						t := v0.TSDF / denom
						pos1 := ab.Coord.VoxelWorldPos(a+off[0], b+off[1], c+off[2], r, cfg.VoxelSize)

						g0 := gradientAt(acc, ab.Coord, a, b, c, cfg.VoxelSize)
						g1 := gradientAt(acc, ab.Coord, a+off[0], b+off[1], c+off[2], cfg.VoxelSize)

						var color [3]float32
						c0, c1 := v0.ColorClamped(), v1.ColorClamped()
						for k := 0; k < 3; k++ {
							color[k] = c0[k] + (c1[k]-c0[k])*t
						}

						localPos = append(localPos, pos0.Lerp(pos1, t))
						localNorm = append(localNorm, g0.Add(g1).Scale(0.5).Normalize())
						localColor = append(localColor, color)
					}
				}
			}
		}

		if len(localPos) > 0 {
			mu.Lock()
			cloud.Positions = append(cloud.Positions, localPos...)
			cloud.Normals = append(cloud.Normals, localNorm...)
			cloud.Colors = append(cloud.Colors, localColor...)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return PointCloud{}, reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "surface point extraction failed", err)
	}
	return cloud, nil
}
