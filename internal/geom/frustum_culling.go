package geom

import "math"

// FrustumCuller tests block-space AABBs against a camera frustum. Adapted
// from the particle-voxel culler: the math is unchanged, only the thing
// being culled (TSDF blocks instead of rendered particle voxels).
type FrustumCuller struct {
	planes FrustumPlanes
}

// NewFrustumCuller builds a frustum culler for the given camera.
func NewFrustumCuller(camera Camera) *FrustumCuller {
	return &FrustumCuller{planes: ExtractFrustumPlanes(camera)}
}

// IsVisible tests if bounds intersects or lies inside the frustum.
func (fc *FrustumCuller) IsVisible(bounds AABB) bool {
	for _, plane := range fc.planes {
		if !testAABBPlane(bounds, plane) {
			return false
		}
	}
	return true
}

// ExtractFrustumPlanes derives the 6 frustum planes (left, right, bottom,
// top, near, far) from the camera's view-projection matrix.
func ExtractFrustumPlanes(camera Camera) FrustumPlanes {
	view := buildViewMatrix(camera)
	proj := buildProjectionMatrix(camera)
	vp := multiplyMatrices(proj, view)

	var planes FrustumPlanes
	planes[0] = Plane{vp[3] + vp[0], vp[7] + vp[4], vp[11] + vp[8], vp[15] + vp[12]}
	planes[1] = Plane{vp[3] - vp[0], vp[7] - vp[4], vp[11] - vp[8], vp[15] - vp[12]}
	planes[2] = Plane{vp[3] + vp[1], vp[7] + vp[5], vp[11] + vp[9], vp[15] + vp[13]}
	planes[3] = Plane{vp[3] - vp[1], vp[7] - vp[5], vp[11] - vp[9], vp[15] - vp[13]}
	planes[4] = Plane{vp[3] + vp[2], vp[7] + vp[6], vp[11] + vp[10], vp[15] + vp[14]}
	planes[5] = Plane{vp[3] - vp[2], vp[7] - vp[6], vp[11] - vp[10], vp[15] - vp[14]}

	for i := range planes {
		planes[i] = normalizePlane(planes[i])
	}
	return planes
}

func testAABBPlane(bounds AABB, plane Plane) bool {
	pVertex := bounds.Min
	if plane.A >= 0 {
		pVertex.X = bounds.Max.X
	}
	if plane.B >= 0 {
		pVertex.Y = bounds.Max.Y
	}
	if plane.C >= 0 {
		pVertex.Z = bounds.Max.Z
	}
	return plane.DistanceToPoint(pVertex) >= 0
}

func normalizePlane(p Plane) Plane {
	length := float32(math.Sqrt(float64(p.A*p.A + p.B*p.B + p.C*p.C)))
	if length == 0 {
		return p
	}
	return Plane{p.A / length, p.B / length, p.C / length, p.D / length}
}

func buildViewMatrix(camera Camera) [16]float32 {
	forward := camera.Target.Sub(camera.Position).Normalize()
	right := forward.CrossN(camera.Up)
	up := right.CrossN(forward)

	return [16]float32{
		right.X, up.X, -forward.X, 0,
		right.Y, up.Y, -forward.Y, 0,
		right.Z, up.Z, -forward.Z, 0,
		-right.Dot(camera.Position), -up.Dot(camera.Position), forward.Dot(camera.Position), 1,
	}
}

func buildProjectionMatrix(camera Camera) [16]float32 {
	aspect := camera.Aspect
	if aspect == 0 {
		aspect = 16.0 / 9.0
	}
	fov := DegreesToRadians(camera.FOVY)
	tanHalfFOV := math.Tan(fov / 2.0)

	f := float32(1.0 / tanHalfFOV)
	rangeInv := float32(1.0 / (camera.Near - camera.Far))

	return [16]float32{
		f / float32(aspect), 0, 0, 0,
		0, f, 0, 0,
		0, 0, (float32(camera.Near) + float32(camera.Far)) * rangeInv, -1,
		0, 0, float32(camera.Near) * float32(camera.Far) * rangeInv * 2, 0,
	}
}

func multiplyMatrices(a, b [16]float32) [16]float32 {
	var result [16]float32
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				result[i*4+j] += a[i*4+k] * b[k*4+j]
			}
		}
	}
	return result
}

// CrossN returns the normalized cross product of v and other.
func (v Vec3) CrossN(other Vec3) Vec3 {
	c := Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
	return c.Normalize()
}
