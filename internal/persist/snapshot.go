// Package persist implements the optional binary snapshot format
// a snapshot format for optional whole-volume persistence:
// header {voxel_size, sdf_trunc, resolution, block_count} followed by
// (coord, voxel_block, checksum) records, plus the byte-arena allocator
// (arena.go) the encoder stages each block through before a single
// Write call. Each block's voxel payload carries an xxhash checksum so
// a truncated or bit-flipped snapshot fails loudly on read instead of
// silently loading corrupt TSDF data.
package persist

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/reconerr"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
)

// magic identifies the snapshot format and its byte order.
const magic uint32 = 0x54534456 // "TSDV"

const formatVersion uint32 = 1

// header is the fixed-size preamble: voxel_size,
// sdf_trunc, resolution, block_count.
type header struct {
	Magic      uint32
	Version    uint32
	VoxelSize  float32
	SDFTrunc   float32
	Resolution int32
	BlockCount int32
}

// Block pairs a BlockCoord with the voxel data stored at it, the unit
// the snapshot format repeats block_count times.
type Block struct {
	Coord  voxelblock.BlockCoord
	Voxels *voxelblock.VoxelBlock
}

// WriteSnapshot serializes cfg and blocks to w in the documented binary
// layout. Each block's voxel payload is staged through a PooledArena so
// that it goes out in one buffered Write call, independent of
// Resolution^3; the block's coord and checksum are written separately.
func WriteSnapshot(w io.Writer, cfg config.VolumeConfig, blocks []Block) error {
	bw := bufio.NewWriter(w)

	h := header{
		Magic:      magic,
		Version:    formatVersion,
		VoxelSize:  cfg.VoxelSize,
		SDFTrunc:   cfg.SDFTrunc,
		Resolution: int32(cfg.Resolution),
		BlockCount: int32(len(blocks)),
	}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "write snapshot header", err)
	}

	voxelBytes := cfg.Resolution * cfg.Resolution * cfg.Resolution * voxelRecordSize
	pool := NewPooledArena(voxelBytes)

	for _, b := range blocks {
		if err := binary.Write(bw, binary.LittleEndian, b.Coord); err != nil {
			return reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "write block coord", err)
		}
		arena := pool.GetArena()
		buf := arena.Alloc(voxelBytes)
		encodeVoxels(buf, b.Voxels.Voxels)
		if _, err := bw.Write(buf); err != nil {
			return reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "write block voxels", err)
		}
		checksum := xxhash.Sum64(buf)
		pool.PutArena(arena)
		if err := binary.Write(bw, binary.LittleEndian, checksum); err != nil {
			return reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "write block checksum", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "flush snapshot", err)
	}
	return nil
}

// ReadSnapshot parses a snapshot written by WriteSnapshot, returning the
// block list and a config holding the voxel size, truncation distance
// and resolution it was captured with. The other VolumeConfig fields are
// not stored in a snapshot and come back zero.
func ReadSnapshot(r io.Reader) (config.VolumeConfig, []Block, error) {
	br := bufio.NewReader(r)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return config.VolumeConfig{}, nil, reconerr.Wrap(reconerr.ErrInvalidArgument, reconerr.SeverityError, "read snapshot header", err)
	}
	if h.Magic != magic {
		return config.VolumeConfig{}, nil, reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"not a tsdfvolume snapshot: bad magic").WithMetadata("magic", h.Magic)
	}
	if h.Version != formatVersion {
		return config.VolumeConfig{}, nil, reconerr.New(reconerr.ErrInvalidArgument, reconerr.SeverityError,
			"unsupported snapshot version").WithMetadata("version", h.Version)
	}

	cfg := config.VolumeConfig{
		VoxelSize:  h.VoxelSize,
		SDFTrunc:   h.SDFTrunc,
		Resolution: int(h.Resolution),
	}

	voxelCount := int(h.Resolution) * int(h.Resolution) * int(h.Resolution)
	voxelBytes := voxelCount * voxelRecordSize
	blocks := make([]Block, 0, h.BlockCount)

	buf := make([]byte, voxelBytes)
	for i := int32(0); i < h.BlockCount; i++ {
		var coord voxelblock.BlockCoord
		if err := binary.Read(br, binary.LittleEndian, &coord); err != nil {
			return config.VolumeConfig{}, nil, reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "read block coord", err)
		}
		if _, err := io.ReadFull(br, buf); err != nil {
			return config.VolumeConfig{}, nil, reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "read block voxels", err)
		}
		var wantChecksum uint64
		if err := binary.Read(br, binary.LittleEndian, &wantChecksum); err != nil {
			return config.VolumeConfig{}, nil, reconerr.Wrap(reconerr.ErrInvalidState, reconerr.SeverityError, "read block checksum", err)
		}
		if got := xxhash.Sum64(buf); got != wantChecksum {
			return config.VolumeConfig{}, nil, reconerr.New(reconerr.ErrInvalidState, reconerr.SeverityCritical,
				"snapshot block failed checksum verification").WithMetadata("coord", coord).WithMetadata("want", wantChecksum).WithMetadata("got", got)
		}
		vb := voxelblock.NewVoxelBlock(int(h.Resolution))
		decodeVoxels(buf, vb.Voxels)
		blocks = append(blocks, Block{Coord: coord, Voxels: vb})
	}

	return cfg, blocks, nil
}

// voxelRecordSize is the on-wire size of one voxel: tsdf + weight (4
// bytes each) plus 3 color channels (4 bytes each).
const voxelRecordSize = 4 + 4 + 3*4

func encodeVoxels(buf []byte, voxels []voxelblock.Voxel) {
	off := 0
	for _, v := range voxels {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v.TSDF))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(v.Weight))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(v.Color[0]))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(v.Color[1]))
		binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(v.Color[2]))
		off += voxelRecordSize
	}
}

func decodeVoxels(buf []byte, voxels []voxelblock.Voxel) {
	off := 0
	for i := range voxels {
		voxels[i].TSDF = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		voxels[i].Weight = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
		voxels[i].Color[0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+8:]))
		voxels[i].Color[1] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+12:]))
		voxels[i].Color[2] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+16:]))
		off += voxelRecordSize
	}
}
