// Package marchingcubes implements two-pass, block-parallel
// isosurface extraction over the sparse TSDF volume. Grounded on
// internal/workpool's fork-join barrier for the Pass1/Pass2 split, and
// on voxelaccess.Accessor for resolving corners and edges that cross
// block boundaries.
package marchingcubes

import "github.com/rigerlee/tsdfvolume/internal/geom"

// TriangleMesh is the output of Extract: a deduplicated vertex buffer
// with per-vertex normal and color, and triangle indices into it.
type TriangleMesh struct {
	Vertices      []geom.Vec3
	Triangles     [][3]uint32
	VertexNormals []geom.Vec3
	VertexColors  [][3]float32
}

// PointCloud is the output of ExtractSurfacePoints: one point per
// zero-crossing edge, with no triangle connectivity.
type PointCloud struct {
	Positions []geom.Vec3
	Normals   []geom.Vec3
	Colors    [][3]float32
}
