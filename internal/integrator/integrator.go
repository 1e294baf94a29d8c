// Package integrator projects a depth image into the volume, touches
// the blocks it intersects, activates them through the hashmap, and
// updates every active voxel's TSDF and weight with a weighted running
// average. Voxel color is not updated: a DepthFrame carries no color
// samples. The per-voxel update fans out across a worker pool, and the
// per-frame touched-coordinate set uses an xxhash-mixed-key bucket map
// rebuilt from scratch on every call.
package integrator

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/rigerlee/tsdfvolume/internal/blockpool"
	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/reconerr"
	"github.com/rigerlee/tsdfvolume/internal/spatialhash"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
	"github.com/rigerlee/tsdfvolume/internal/workpool"
)

// DepthFrame is a dense depth image in meters. Zero or NaN marks an
// invalid pixel.
type DepthFrame struct {
	Width, Height int
	Depth         []float32 // row-major, index = row*Width+u
}

// At returns the depth at pixel (u, row).
func (d DepthFrame) At(u, row int) float32 {
	return d.Depth[row*d.Width+u]
}

// Valid reports whether (u, row) is in bounds and holds a usable depth
// sample.
func (d DepthFrame) Valid(u, row int) bool {
	if u < 0 || u >= d.Width || row < 0 || row >= d.Height {
		return false
	}
	v := d.At(u, row)
	return v != 0 && !math.IsNaN(float64(v))
}

// Intrinsic is the pinhole camera model fx, fy, cx, cy extracted from
// the 3x3 row-major matrix [[fx,0,cx],[0,fy,cy],[0,0,1]].
type Intrinsic struct {
	Fx, Fy, Cx, Cy float32
}

// FromMat3 extracts an Intrinsic from the 3x3 matrix form.
func FromMat3(m geom.Mat3) Intrinsic {
	return Intrinsic{Fx: m[0][0], Fy: m[1][1], Cx: m[0][2], Cy: m[1][2]}
}

// Valid reports whether the intrinsic is usable for projection
// (fx == 0 or fy == 0 would divide by zero).
func (k Intrinsic) Valid() bool {
	return k.Fx != 0 && k.Fy != 0
}

// Project maps a camera-space point to pixel coordinates.
func (k Intrinsic) Project(p geom.Vec3) (u, row float32) {
	return k.Fx*p.X/p.Z + k.Cx, k.Fy*p.Y/p.Z + k.Cy
}

// Unproject maps pixel (u,row) and depth d to a camera-space point.
func (k Intrinsic) Unproject(u, row, d float32) geom.Vec3 {
	return geom.Vec3{
		X: (u - k.Cx) / k.Fx * d,
		Y: (row - k.Cy) / k.Fy * d,
		Z: d,
	}
}

// Result summarizes one call to Integrate.
type Result struct {
	ActiveBlocks []voxelblock.ActiveBlock
	Warnings     *reconerr.Aggregator
}

// Integrate runs the touch/activate/update phases against the given pool and
// hashmap. cfg must already be validated. extrinsic is the world->camera
// rigid transform; its inverse gives camera->world for Phase A's ray
// sampling.
func Integrate(pool *blockpool.BlockPool, hash *spatialhash.Hashmap, wp *workpool.Pool, cfg config.VolumeConfig, depth DepthFrame, intrinsic Intrinsic, extrinsic geom.Mat4) (Result, error) {
	if !intrinsic.Valid() {
		return Result{}, reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"invalid intrinsic: fx and fy must be non-zero")
	}

	touched := touchBlocks(depth, intrinsic, extrinsic, cfg)

	active, capErr := activate(pool, hash, touched)

	warnings := reconerr.NewAggregator()
	if capErr != nil {
		warnings.Add(capErr)
	}

	if err := updateVoxels(pool, wp, cfg, active, depth, intrinsic, extrinsic, warnings); err != nil {
		return Result{}, err
	}

	return Result{ActiveBlocks: active, Warnings: warnings}, nil
}

// touchBlocks is Phase A: for every valid pixel, sample its view ray
// across the truncation band and accumulate the block coordinates it
// passes through into a deduplicated set.
func touchBlocks(depth DepthFrame, intrinsic Intrinsic, extrinsic geom.Mat4, cfg config.VolumeConfig) []voxelblock.BlockCoord {
	camToWorld := extrinsic.Invert()
	blockExtent := cfg.BlockExtent()
	tau := cfg.SDFTrunc

	seen := newTouchedSet()

	// Sample spacing <= block extent.
	const minSamples = 2

	for row := 0; row < depth.Height; row++ {
		for u := 0; u < depth.Width; u++ {
			if !depth.Valid(u, row) {
				continue
			}
			d := depth.At(u, row)

			lo, hi := d-tau, d+tau
			if lo < 0 {
				lo = 0
			}
			span := hi - lo
			samples := minSamples
			if blockExtent > 0 {
				samples = int(math.Ceil(float64(span/blockExtent))) + 1
				if samples < minSamples {
					samples = minSamples
				}
			}

			for s := 0; s < samples; s++ {
				t := lo
				if samples > 1 {
					t = lo + span*float32(s)/float32(samples-1)
				}
				pc := intrinsic.Unproject(float32(u), float32(row), t)
				pw := camToWorld.TransformPoint(pc)
				coord := voxelblock.FromWorld(pw, blockExtent)
				seen.addIfAbsent(coord)
			}
		}
	}
	return seen.slice()
}

// touchedSet is Phase A's per-frame deduplication set. Coordinates are
// bucketed in a Go map keyed by the xxhash of their 12-byte encoding;
// coordinates whose hashes collide share a bucket and are told apart by
// a short chain of equality checks.
type touchedSet struct {
	buckets map[uint64][]voxelblock.BlockCoord
	count   int
}

func newTouchedSet() *touchedSet {
	return &touchedSet{buckets: make(map[uint64][]voxelblock.BlockCoord)}
}

func coordKey(c voxelblock.BlockCoord) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.I))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(c.J))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c.K))
	return xxhash.Sum64(buf[:])
}

// addIfAbsent inserts c if not already present, reporting whether it
// was newly added.
func (s *touchedSet) addIfAbsent(c voxelblock.BlockCoord) bool {
	key := coordKey(c)
	for _, existing := range s.buckets[key] {
		if existing == c {
			return false
		}
	}
	s.buckets[key] = append(s.buckets[key], c)
	s.count++
	return true
}

func (s *touchedSet) slice() []voxelblock.BlockCoord {
	out := make([]voxelblock.BlockCoord, 0, s.count)
	for _, chain := range s.buckets {
		out = append(out, chain...)
	}
	return out
}

// activate is Phase B: bulk_insert the touched coordinates. On
// OutOfCapacity, as many blocks as fit are still activated and a warning
// is returned; integration continues for the remainder.
func activate(pool *blockpool.BlockPool, hash *spatialhash.Hashmap, touched []voxelblock.BlockCoord) ([]voxelblock.ActiveBlock, error) {
	slots, ok, unused, err := hash.BulkInsert(touched, pool.AllocateBatch)
	for _, s := range unused {
		pool.Free(s)
	}

	active := make([]voxelblock.ActiveBlock, 0, len(touched))
	for i, c := range touched {
		if ok[i] {
			active = append(active, voxelblock.ActiveBlock{Coord: c, Slot: slots[i]})
		}
	}
	return active, err
}

// updateVoxels is Phase C: every active block's voxels are updated in
// parallel, partitioned across blocks so no locks are needed inside the
// worker — block ownership was already established in Phase B.
func updateVoxels(pool *blockpool.BlockPool, wp *workpool.Pool, cfg config.VolumeConfig, active []voxelblock.ActiveBlock, depth DepthFrame, intrinsic Intrinsic, extrinsic geom.Mat4, warnings *reconerr.Aggregator) error {
	r := cfg.Resolution
	weightMax := cfg.WeightMax
	if weightMax <= 0 {
		weightMax = math.MaxFloat32
	}

	return wp.ForEachIndex(len(active), func(idx int) error {
		ab := active[idx]
		block := pool.Get(ab.Slot)

		for a := 0; a < r; a++ {
			for b := 0; b < r; b++ {
				for c := 0; c < r; c++ {
					pw := ab.Coord.VoxelWorldPos(a, b, c, r, cfg.VoxelSize)
					pc := extrinsic.TransformPoint(pw)
					if pc.Z <= 0 {
						continue
					}

					u, row := intrinsic.Project(pc)
					ui, rowi := int(math.Round(float64(u))), int(math.Round(float64(row)))
					if !depth.Valid(ui, rowi) {
						continue
					}

					d := depth.At(ui, rowi)
					sdf := d - pc.Z
					if sdf < -cfg.SDFTrunc {
						continue
					}

					s := sdf / cfg.SDFTrunc
					if s > 1 {
						s = 1
					} else if s < -1 {
						s = -1
					}

					voxel := block.At(a, b, c)
					newWeight := voxel.Weight + 1
					voxel.TSDF = (voxel.TSDF*voxel.Weight + s) / newWeight
					if newWeight > weightMax {
						newWeight = weightMax
						warnings.Add(reconerr.New(reconerr.ErrNumericalWarning, reconerr.SeverityWarning,
							"voxel weight saturated at W_max"))
					}
					voxel.Weight = newWeight
				}
			}
		}
		return nil
	})
}
