package config

import (
	"os"
	"testing"

	"github.com/rigerlee/tsdfvolume/internal/reconerr"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsNonPositiveVoxelSize(t *testing.T) {
	c := DefaultConfig()
	c.VoxelSize = 0
	assertInvalidArgument(t, c.Validate())
}

func TestValidateRejectsTruncLessThanVoxelSize(t *testing.T) {
	c := DefaultConfig()
	c.SDFTrunc = c.VoxelSize / 2
	assertInvalidArgument(t, c.Validate())
}

func TestValidateRejectsSmallResolution(t *testing.T) {
	c := DefaultConfig()
	c.Resolution = 1
	assertInvalidArgument(t, c.Validate())
}

func TestValidateAcceptsEqualTruncAndVoxelSize(t *testing.T) {
	c := DefaultConfig()
	c.SDFTrunc = c.VoxelSize
	if err := c.Validate(); err != nil {
		t.Fatalf("sdf_trunc == voxel_size should be valid, got %v", err)
	}
}

func TestBlockExtent(t *testing.T) {
	c := VolumeConfig{VoxelSize: 0.02, Resolution: 8}
	if got := c.BlockExtent(); got != 0.16 {
		t.Errorf("expected block extent 0.16, got %v", got)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	os.Setenv("RECON_VOXEL_SIZE", "0.05")
	os.Setenv("RECON_RESOLUTION", "16")
	defer os.Unsetenv("RECON_VOXEL_SIZE")
	defer os.Unsetenv("RECON_RESOLUTION")

	c := FromEnv()
	if c.VoxelSize != 0.05 {
		t.Errorf("expected voxel size overridden to 0.05, got %v", c.VoxelSize)
	}
	if c.Resolution != 16 {
		t.Errorf("expected resolution overridden to 16, got %v", c.Resolution)
	}
}

func assertInvalidArgument(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	rerr, ok := err.(*reconerr.Error)
	if !ok {
		t.Fatalf("expected *reconerr.Error, got %T", err)
	}
	if rerr.Code != reconerr.ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument, got %s", rerr.Code)
	}
}
