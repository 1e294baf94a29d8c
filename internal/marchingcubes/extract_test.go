package marchingcubes

import (
	"testing"

	"github.com/rigerlee/tsdfvolume/internal/blockpool"
	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/spatialhash"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
	"github.com/rigerlee/tsdfvolume/internal/workpool"
)

const testResolution = 8

func newTestRig(t *testing.T, capacity int) (*blockpool.BlockPool, *spatialhash.Hashmap, *workpool.Pool, config.VolumeConfig) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Resolution = testResolution
	cfg.Capacity = capacity
	pool := blockpool.New(cfg.Capacity, cfg.Resolution)
	hash := spatialhash.New(cfg.BucketCount)
	wp := workpool.New(2)
	return pool, hash, wp, cfg
}

// fillPlane sets every voxel's tsdf to a signed distance from the plane
// z = zPlane (in local-c units), observed (weight 1).
func fillPlane(pool *blockpool.BlockPool, hash *spatialhash.Hashmap, coord voxelblock.BlockCoord, r int, zPlane int) int32 {
	slot, _, err := hash.InsertIfAbsent(coord, pool.Allocate)
	if err != nil {
		panic(err)
	}
	block := pool.Get(slot)
	for a := 0; a < r; a++ {
		for b := 0; b < r; b++ {
			for c := 0; c < r; c++ {
				v := block.At(a, b, c)
				dist := float32(c - zPlane)
				if dist > 1 {
					dist = 1
				} else if dist < -1 {
					dist = -1
				}
				v.TSDF = dist
				v.Weight = 1
			}
		}
	}
	return slot
}

func TestExtractEmptyActiveReturnsEmptyMesh(t *testing.T) {
	pool, hash, wp, cfg := newTestRig(t, 8)
	mesh, err := Extract(pool, hash, wp, cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mesh.Vertices) != 0 || len(mesh.Triangles) != 0 {
		t.Fatal("expected an empty mesh for no active blocks")
	}
}

func TestExtractSingleBlockPlaneProducesTriangles(t *testing.T) {
	pool, hash, wp, cfg := newTestRig(t, 8)
	coord := voxelblock.BlockCoord{I: 0, J: 0, K: 0}
	slot := fillPlane(pool, hash, coord, cfg.Resolution, 4)

	active := []voxelblock.ActiveBlock{{Coord: coord, Slot: slot}}
	mesh, err := Extract(pool, hash, wp, cfg, active)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mesh.Vertices) == 0 {
		t.Fatal("expected the plane's zero-crossing to produce vertices")
	}
	if len(mesh.Triangles) == 0 {
		t.Fatal("expected the plane's zero-crossing to produce triangles")
	}
	for _, tri := range mesh.Triangles {
		for _, idx := range tri {
			if int(idx) >= len(mesh.Vertices) {
				t.Fatalf("triangle references out-of-range vertex %d (have %d)", idx, len(mesh.Vertices))
			}
		}
	}
	for _, n := range mesh.VertexNormals {
		l := n.Length()
		if l > 0 && (l < 0.99 || l > 1.01) {
			t.Errorf("expected normalized normal, got length %v", l)
		}
	}
}

func TestExtractCrossBlockBoundaryIsContinuous(t *testing.T) {
	pool, hash, wp, cfg := newTestRig(t, 8)
	r := cfg.Resolution
	coordA := voxelblock.BlockCoord{I: 0, J: 0, K: 0}
	coordB := voxelblock.BlockCoord{I: 1, J: 0, K: 0}

	// A plane along the x axis crossing the boundary between block 0 and
	// block 1: tsdf is a signed distance from global x = r (the first
	// voxel of block B).
	slotA, _, err := hash.InsertIfAbsent(coordA, pool.Allocate)
	if err != nil {
		t.Fatal(err)
	}
	slotB, _, err := hash.InsertIfAbsent(coordB, pool.Allocate)
	if err != nil {
		t.Fatal(err)
	}
	blockA := pool.Get(slotA)
	blockB := pool.Get(slotB)

	for a := 0; a < r; a++ {
		for b := 0; b < r; b++ {
			for c := 0; c < r; c++ {
				va := blockA.At(a, b, c)
				da := float32(a - r)
				va.TSDF = clamp1(da)
				va.Weight = 1

				vb := blockB.At(a, b, c)
				db := float32((a + r) - r)
				vb.TSDF = clamp1(db)
				vb.Weight = 1
			}
		}
	}

	active := []voxelblock.ActiveBlock{{Coord: coordA, Slot: slotA}, {Coord: coordB, Slot: slotB}}
	mesh, err := Extract(pool, hash, wp, cfg, active)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mesh.Triangles) == 0 {
		t.Fatal("expected triangles crossing the block boundary")
	}

	// The boundary plane sits at global x = r, i.e. local a = r-1 in
	// block A (the last forward-x edge owned by block A). Every vertex
	// should land near that plane.
	boundaryWorldX := float32(r) * cfg.VoxelSize
	for _, v := range mesh.Vertices {
		if diff := v.X - boundaryWorldX; diff > cfg.VoxelSize || diff < -cfg.VoxelSize {
			t.Errorf("vertex x=%v too far from boundary plane x=%v", v.X, boundaryWorldX)
		}
	}
}

func clamp1(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func TestExtractSurfacePointsBasic(t *testing.T) {
	pool, hash, wp, cfg := newTestRig(t, 8)
	coord := voxelblock.BlockCoord{I: 0, J: 0, K: 0}
	slot := fillPlane(pool, hash, coord, cfg.Resolution, 4)

	active := []voxelblock.ActiveBlock{{Coord: coord, Slot: slot}}
	cloud, err := ExtractSurfacePoints(pool, hash, wp, cfg, active)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cloud.Positions) == 0 {
		t.Fatal("expected surface points at the plane's zero crossing")
	}
	if len(cloud.Positions) != len(cloud.Normals) || len(cloud.Positions) != len(cloud.Colors) {
		t.Fatal("positions/normals/colors must have matching length")
	}
}

func TestExtractSkipsUnobservedVoxels(t *testing.T) {
	pool, hash, wp, cfg := newTestRig(t, 8)
	coord := voxelblock.BlockCoord{I: 0, J: 0, K: 0}
	slot, _, err := hash.InsertIfAbsent(coord, pool.Allocate)
	if err != nil {
		t.Fatal(err)
	}
	// Every voxel left at its default (weight 0) state: no surface.
	active := []voxelblock.ActiveBlock{{Coord: coord, Slot: slot}}
	mesh, err := Extract(pool, hash, wp, cfg, active)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mesh.Vertices) != 0 || len(mesh.Triangles) != 0 {
		t.Fatal("an all-unobserved block must not produce geometry")
	}
}
