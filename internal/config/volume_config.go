// Package config holds the tunable parameters of a TsdfVolume and the
// validation of the volume's core invariants. Grounded on internal/ai's
// DefaultConfig()-plus-struct pattern and on cmd/ai_demo/main.go's
// os.Getenv override style, generalized from one API key env var to the
// volume's full parameter set.
package config

import (
	"os"
	"strconv"

	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/reconerr"
)

// VolumeConfig parameterizes a TsdfVolume: voxel size, truncation
// distance, per-block resolution, and the fixed capacities of its block
// pool and spatial hashmap.
type VolumeConfig struct {
	VoxelSize  float32 // edge length of one voxel, in meters
	SDFTrunc   float32 // truncation distance τ; must be >= VoxelSize
	Resolution int     // blocks are Resolution^3 voxels; must be >= 2
	Capacity   int     // block pool capacity (max live blocks)
	BucketCount int    // spatial hashmap bucket count
	WeightMax  float32 // weight saturation ceiling; <=0 means unbounded
	Device     string  // "cpu" is the only supported value; reserved for future backends
}

// DefaultConfig returns the configuration used by cmd/reconbench and by
// tests that don't care about exact sizing.
func DefaultConfig() VolumeConfig {
	return VolumeConfig{
		VoxelSize:   0.01,
		SDFTrunc:    0.04,
		Resolution:  geom.DefaultResolution,
		Capacity:    4096,
		BucketCount: geom.DefaultBucketCount,
		WeightMax:   geom.DefaultWeightMax,
		Device:      "cpu",
	}
}

// Validate checks the core invariants: τ >= voxel_size > 0 and
// resolution >= 2. Returns a *reconerr.Error with code InvalidArgument
// describing the first violation found.
func (c VolumeConfig) Validate() error {
	if c.VoxelSize <= 0 {
		return reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"voxel_size must be positive").WithMetadata("voxel_size", c.VoxelSize)
	}
	if c.SDFTrunc < c.VoxelSize {
		return reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"sdf_trunc must be >= voxel_size").
			WithMetadata("sdf_trunc", c.SDFTrunc).WithMetadata("voxel_size", c.VoxelSize)
	}
	if c.Resolution < 2 {
		return reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"resolution must be >= 2").WithMetadata("resolution", c.Resolution)
	}
	if c.Capacity < 1 {
		return reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"capacity must be >= 1").WithMetadata("capacity", c.Capacity)
	}
	if c.BucketCount < 1 {
		return reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"bucket_count must be >= 1").WithMetadata("bucket_count", c.BucketCount)
	}
	return nil
}

// BlockExtent returns the world-space edge length of one block:
// Resolution * VoxelSize.
func (c VolumeConfig) BlockExtent() float32 {
	return float32(c.Resolution) * c.VoxelSize
}

// FromEnv starts from DefaultConfig and overrides fields whose
// corresponding RECON_* environment variable is set, the way
// cmd/ai_demo/main.go pulls OPENAI_API_KEY from the environment. Used by
// cmd/reconbench so scenario sizing can be tuned without recompiling.
func FromEnv() VolumeConfig {
	c := DefaultConfig()
	if v, ok := getenvFloat("RECON_VOXEL_SIZE"); ok {
		c.VoxelSize = v
	}
	if v, ok := getenvFloat("RECON_SDF_TRUNC"); ok {
		c.SDFTrunc = v
	}
	if v, ok := getenvInt("RECON_RESOLUTION"); ok {
		c.Resolution = v
	}
	if v, ok := getenvInt("RECON_CAPACITY"); ok {
		c.Capacity = v
	}
	if v, ok := getenvInt("RECON_BUCKET_COUNT"); ok {
		c.BucketCount = v
	}
	if v, ok := getenvFloat("RECON_WEIGHT_MAX"); ok {
		c.WeightMax = v
	}
	if v := os.Getenv("RECON_DEVICE"); v != "" {
		c.Device = v
	}
	return c
}

func getenvFloat(key string) (float32, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}

func getenvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
