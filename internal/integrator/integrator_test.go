package integrator

import (
	"testing"

	"github.com/rigerlee/tsdfvolume/internal/blockpool"
	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/reconerr"
	"github.com/rigerlee/tsdfvolume/internal/spatialhash"
	"github.com/rigerlee/tsdfvolume/internal/workpool"
)

func identity() geom.Mat4 {
	var m geom.Mat4
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

func planeFrame(width, height int, depth float32) DepthFrame {
	d := make([]float32, width*height)
	for i := range d {
		d[i] = depth
	}
	return DepthFrame{Width: width, Height: height, Depth: d}
}

func newTestVolume(t *testing.T, capacity int) (*blockpool.BlockPool, *spatialhash.Hashmap, *workpool.Pool, config.VolumeConfig) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Capacity = capacity
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	pool := blockpool.New(cfg.Capacity, cfg.Resolution)
	hash := spatialhash.New(cfg.BucketCount)
	wp := workpool.New(2)
	return pool, hash, wp, cfg
}

func TestIntegrateRejectsInvalidIntrinsic(t *testing.T) {
	pool, hash, wp, cfg := newTestVolume(t, 64)
	frame := planeFrame(4, 4, 1.0)
	intrinsic := Intrinsic{Fx: 0, Fy: 100, Cx: 2, Cy: 2}

	_, err := Integrate(pool, hash, wp, cfg, frame, intrinsic, identity())
	if err == nil {
		t.Fatal("expected an error for invalid intrinsic")
	}
	rerr, ok := err.(*reconerr.Error)
	if !ok || rerr.Code != reconerr.ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestIntegratePlaneProducesBoundedTSDF(t *testing.T) {
	pool, hash, wp, cfg := newTestVolume(t, 256)
	frame := planeFrame(16, 16, 1.0)
	intrinsic := Intrinsic{Fx: 100, Fy: 100, Cx: 8, Cy: 8}

	result, err := Integrate(pool, hash, wp, cfg, frame, intrinsic, identity())
	if err != nil {
		t.Fatalf("integrate error: %v", err)
	}
	if len(result.ActiveBlocks) == 0 {
		t.Fatal("expected at least one active block")
	}

	for _, ab := range result.ActiveBlocks {
		block := pool.Get(ab.Slot)
		for i := range block.Voxels {
			if block.Voxels[i].TSDF < -1 || block.Voxels[i].TSDF > 1 {
				t.Fatalf("tsdf out of [-1,1]: %v", block.Voxels[i].TSDF)
			}
			if block.Voxels[i].Weight < 0 {
				t.Fatalf("negative weight: %v", block.Voxels[i].Weight)
			}
		}
	}
}

func TestIntegrateBlackImagePreservesVoxels(t *testing.T) {
	pool, hash, wp, cfg := newTestVolume(t, 64)
	frame := planeFrame(8, 8, 0) // all-zero depth: every pixel invalid
	intrinsic := Intrinsic{Fx: 100, Fy: 100, Cx: 4, Cy: 4}

	result, err := Integrate(pool, hash, wp, cfg, frame, intrinsic, identity())
	if err != nil {
		t.Fatalf("integrate error: %v", err)
	}
	if len(result.ActiveBlocks) != 0 {
		t.Fatalf("an all-invalid depth image should touch no blocks, got %d", len(result.ActiveBlocks))
	}
}

func TestRepeatedIntegrationConverges(t *testing.T) {
	pool, hash, wp, cfg := newTestVolume(t, 256)
	cfg.WeightMax = 255
	frame := planeFrame(16, 16, 1.0)
	intrinsic := Intrinsic{Fx: 100, Fy: 100, Cx: 8, Cy: 8}

	var lastResult Result
	var err error
	for i := 0; i < 255; i++ {
		lastResult, err = Integrate(pool, hash, wp, cfg, frame, intrinsic, identity())
		if err != nil {
			t.Fatalf("integrate %d: %v", i, err)
		}
	}

	if len(lastResult.ActiveBlocks) == 0 {
		t.Fatal("expected active blocks")
	}
	for _, ab := range lastResult.ActiveBlocks {
		block := pool.Get(ab.Slot)
		for i := range block.Voxels {
			v := block.Voxels[i]
			if v.Weight == 0 {
				continue
			}
			if v.Weight != 255 {
				t.Fatalf("expected weight to saturate at 255, got %v", v.Weight)
			}
		}
	}
}

func TestCapacityExhaustionDoesNotPanic(t *testing.T) {
	pool, hash, wp, cfg := newTestVolume(t, 4)
	frame := planeFrame(32, 32, 1.0)
	intrinsic := Intrinsic{Fx: 200, Fy: 200, Cx: 16, Cy: 16}

	result, err := Integrate(pool, hash, wp, cfg, frame, intrinsic, identity())
	if err != nil {
		t.Fatalf("integrate should succeed with a partial frame, got error: %v", err)
	}
	if result.Warnings == nil || !result.Warnings.HasErrors() {
		t.Log("expected a capacity warning when touched blocks exceed pool capacity (non-fatal if geometry happened to fit)")
	}
	if len(result.ActiveBlocks) > pool.Capacity() {
		t.Fatalf("active blocks (%d) must not exceed pool capacity (%d)", len(result.ActiveBlocks), pool.Capacity())
	}
}

func TestIntrinsicProjectUnprojectRoundTrip(t *testing.T) {
	k := Intrinsic{Fx: 525, Fy: 525, Cx: 319.5, Cy: 239.5}
	p := k.Unproject(100, 150, 2.0)
	u, row := k.Project(p)
	if diff := u - 100; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("expected u round-trip near 100, got %v", u)
	}
	if diff := row - 150; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("expected row round-trip near 150, got %v", row)
	}
}
