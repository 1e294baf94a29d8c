package persist

import (
	"bytes"
	"testing"

	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
)

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolution = 4

	blockA := voxelblock.NewVoxelBlock(cfg.Resolution)
	blockA.At(0, 0, 0).TSDF = 0.5
	blockA.At(0, 0, 0).Weight = 3
	blockA.At(0, 0, 0).Color = [3]float32{0.1, 0.2, 0.3}
	blockA.At(3, 3, 3).TSDF = -1

	blockB := voxelblock.NewVoxelBlock(cfg.Resolution)
	blockB.At(1, 2, 3).TSDF = 0.25
	blockB.At(1, 2, 3).Weight = 10

	blocks := []Block{
		{Coord: voxelblock.BlockCoord{I: 0, J: 0, K: 0}, Voxels: blockA},
		{Coord: voxelblock.BlockCoord{I: -1, J: 5, K: 2}, Voxels: blockB},
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, cfg, blocks); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	gotCfg, gotBlocks, err := ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	if gotCfg.VoxelSize != cfg.VoxelSize || gotCfg.SDFTrunc != cfg.SDFTrunc || gotCfg.Resolution != cfg.Resolution {
		t.Fatalf("config mismatch: got %+v, want voxel_size=%v sdf_trunc=%v resolution=%v",
			gotCfg, cfg.VoxelSize, cfg.SDFTrunc, cfg.Resolution)
	}
	if len(gotBlocks) != len(blocks) {
		t.Fatalf("expected %d blocks, got %d", len(blocks), len(gotBlocks))
	}

	for i, want := range blocks {
		got := gotBlocks[i]
		if got.Coord != want.Coord {
			t.Errorf("block %d: coord mismatch got %+v want %+v", i, got.Coord, want.Coord)
		}
		for j := range want.Voxels.Voxels {
			gv, wv := got.Voxels.Voxels[j], want.Voxels.Voxels[j]
			if gv.TSDF != wv.TSDF || gv.Weight != wv.Weight || gv.Color != wv.Color {
				t.Fatalf("block %d voxel %d mismatch: got %+v want %+v", i, j, gv, wv)
			}
		}
	}
}

func TestReadSnapshotRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if _, _, err := ReadSnapshot(&buf); err == nil {
		t.Fatal("expected an error for a non-snapshot stream")
	}
}

func TestReadSnapshotDetectsCorruption(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolution = 4

	block := voxelblock.NewVoxelBlock(cfg.Resolution)
	block.At(0, 0, 0).TSDF = 0.75
	block.At(0, 0, 0).Weight = 1

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, cfg, []Block{{Coord: voxelblock.BlockCoord{I: 1, J: 1, K: 1}, Voxels: block}}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // corrupt the trailing checksum byte

	if _, _, err := ReadSnapshot(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected a checksum verification error for a corrupted snapshot")
	}
}

func TestSnapshotEmptyBlockList(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Resolution = 4

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, cfg, nil); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	_, blocks, err := ReadSnapshot(&buf)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected 0 blocks, got %d", len(blocks))
	}
}
