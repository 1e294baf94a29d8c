// Package tsdfvolume composes the block pool, spatial hashmap, and
// worker pool into the Volume type: the single entry point a caller
// integrates depth frames into and extracts surfaces from.
package tsdfvolume

import (
	"sync"

	"github.com/rigerlee/tsdfvolume/internal/blockpool"
	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/integrator"
	"github.com/rigerlee/tsdfvolume/internal/marchingcubes"
	"github.com/rigerlee/tsdfvolume/internal/reconerr"
	"github.com/rigerlee/tsdfvolume/internal/spatialhash"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
	"github.com/rigerlee/tsdfvolume/internal/workpool"
)

// Volume is the sparse, block-allocated TSDF volume: it owns the block
// pool and spatial hashmap and drives the integrator and extractor
// against them. Integrate calls on one Volume are serialized by mu:
// concurrent calls run one after another, never interleaved.
type Volume struct {
	cfg        config.VolumeConfig
	pool       *blockpool.BlockPool
	hash       *spatialhash.Hashmap
	wp         *workpool.Pool
	errHandler *reconerr.Handler

	mu        sync.Mutex
	active    []voxelblock.ActiveBlock
	monotonic bool
}

// Option configures a Volume at construction time.
type Option func(*Volume)

// WithMonotonicActiveSet makes the active-block set accumulate across
// frames (union, deduplicated by coordinate) instead of being replaced
// by each Integrate call's touched set. Without this option a Volume
// uses per-frame tracking: each Integrate replaces the active set.
func WithMonotonicActiveSet() Option {
	return func(v *Volume) { v.monotonic = true }
}

// WithWorkers overrides the worker pool's concurrency (default:
// runtime.NumCPU(), via workpool.New(0)).
func WithWorkers(n int) Option {
	return func(v *Volume) { v.wp = workpool.New(n) }
}

// WithLogger overrides how Integrate's per-frame warnings (weight
// saturation, partial capacity exhaustion) are logged. Pass nil to
// disable logging; the default logs through reconerr.SimpleLogger.
func WithLogger(logger reconerr.Logger) Option {
	return func(v *Volume) { v.errHandler = reconerr.NewHandler(logger) }
}

// New validates cfg and constructs a Volume with a freshly allocated
// block pool and hashmap.
func New(cfg config.VolumeConfig, opts ...Option) (*Volume, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Volume{
		cfg:        cfg,
		pool:       blockpool.New(cfg.Capacity, cfg.Resolution),
		hash:       spatialhash.New(cfg.BucketCount),
		wp:         workpool.New(0),
		errHandler: reconerr.NewHandler(&reconerr.SimpleLogger{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Integrate runs one frame of depth integration and
// updates the active-block set per the volume's tracking mode. Returns
// the frame's non-fatal warnings (e.g. weight saturation, partial
// capacity exhaustion).
func (v *Volume) Integrate(depth integrator.DepthFrame, intrinsic geom.Mat3, extrinsic geom.Mat4) (*reconerr.Aggregator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	result, err := integrator.Integrate(v.pool, v.hash, v.wp, v.cfg, depth, integrator.FromMat3(intrinsic), extrinsic)
	if err != nil {
		return nil, err
	}

	for _, w := range result.Warnings.Errors() {
		v.errHandler.Handle(w)
	}

	if v.monotonic {
		v.mergeActive(result.ActiveBlocks)
	} else {
		v.active = result.ActiveBlocks
	}
	return result.Warnings, nil
}

func (v *Volume) mergeActive(touched []voxelblock.ActiveBlock) {
	seen := make(map[voxelblock.BlockCoord]struct{}, len(v.active))
	for _, ab := range v.active {
		seen[ab.Coord] = struct{}{}
	}
	for _, ab := range touched {
		if _, ok := seen[ab.Coord]; !ok {
			seen[ab.Coord] = struct{}{}
			v.active = append(v.active, ab)
		}
	}
}

// ActiveBlocks returns the set of blocks touched since the last
// integration (or the monotonic union, if WithMonotonicActiveSet was
// used). The returned slice is a copy; callers may retain it safely.
func (v *Volume) ActiveBlocks() []voxelblock.ActiveBlock {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]voxelblock.ActiveBlock, len(v.active))
	copy(out, v.active)
	return out
}

// ActiveBlocksInFrustum filters ActiveBlocks to those whose world-space
// bounding box intersects the given camera's view frustum.
func (v *Volume) ActiveBlocksInFrustum(camera geom.Camera) []voxelblock.ActiveBlock {
	culler := geom.NewFrustumCuller(camera)
	extent := v.cfg.BlockExtent()

	active := v.ActiveBlocks()
	var visible []voxelblock.ActiveBlock
	for _, ab := range active {
		origin := ab.Coord.WorldOrigin(v.cfg.Resolution, v.cfg.VoxelSize)
		bounds := geom.AABB{
			Min: origin,
			Max: geom.Vec3{X: origin.X + extent, Y: origin.Y + extent, Z: origin.Z + extent},
		}
		if culler.IsVisible(bounds) {
			visible = append(visible, ab)
		}
	}
	return visible
}

// MarchingCubes runs the two-pass extractor over the
// current active-block set.
func (v *Volume) MarchingCubes() (marchingcubes.TriangleMesh, error) {
	return marchingcubes.Extract(v.pool, v.hash, v.wp, v.cfg, v.ActiveBlocks())
}

// ExtractSurfacePoints computes the lighter-weight point-cloud
// representation over the current active-block set.
func (v *Volume) ExtractSurfacePoints() (marchingcubes.PointCloud, error) {
	return marchingcubes.ExtractSurfacePoints(v.pool, v.hash, v.wp, v.cfg, v.ActiveBlocks())
}

// Clear frees every allocated block and empties the hashmap and active
// set.
func (v *Volume) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pool.Clear()
	v.hash.Clear()
	v.active = nil
}

// Stats reports pool and hashmap occupancy, useful for diagnostics and
// capacity-planning cmd/reconbench runs.
type Stats struct {
	Pool   blockpool.Stats
	Hash   spatialhash.ChainStats
	Active int
}

// Stats returns a snapshot of the volume's current resource usage.
func (v *Volume) Stats() Stats {
	v.mu.Lock()
	active := len(v.active)
	v.mu.Unlock()
	return Stats{
		Pool:   v.pool.Stats(),
		Hash:   v.hash.Stats(),
		Active: active,
	}
}

// Config returns the volume's configuration.
func (v *Volume) Config() config.VolumeConfig {
	return v.cfg
}
