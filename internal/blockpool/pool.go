// Package blockpool is the fixed-capacity arena of voxel blocks described
// a contiguous array of *voxelblock.VoxelBlock with a
// LIFO free-list, so Allocate/Free/Get are O(1) and recently-freed slots
// stay cache-hot. Grounded on the offset+mutex allocation pattern in
// internal/memory/arena.go and the atomic-counter statistics style of
// internal/spatial/voxel_pool.go, adapted from byte-arena/particle-voxel
// allocation to fixed-slot VoxelBlock allocation.
package blockpool

import (
	"sync"
	"sync/atomic"

	"github.com/rigerlee/tsdfvolume/internal/reconerr"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
)

// BlockPool is a capacity-C arena of VoxelBlock slots. Blocks are
// immovable once allocated: their slot index is stable for the slot's
// entire occupied lifetime.
type BlockPool struct {
	mu         sync.Mutex
	blocks     []*voxelblock.VoxelBlock
	used       []bool
	free       []int32 // LIFO stack of free slot indices

	resolution int

	allocations uint64
	frees       uint64
}

// New creates a BlockPool with room for `capacity` blocks, each of the
// given voxel resolution.
func New(capacity, resolution int) *BlockPool {
	p := &BlockPool{
		blocks:     make([]*voxelblock.VoxelBlock, capacity),
		used:       make([]bool, capacity),
		free:       make([]int32, capacity),
		resolution: resolution,
	}
	for i := 0; i < capacity; i++ {
		p.blocks[i] = voxelblock.NewVoxelBlock(resolution)
		// Fill so that slot 0 is popped first (LIFO over an ascending
		// stack gives ascending allocation order for a cold pool, which
		// keeps early tests' slot-index assertions readable).
		p.free[i] = int32(capacity - 1 - i)
	}
	return p
}

// Capacity returns the pool's maximum number of live blocks.
func (p *BlockPool) Capacity() int {
	return len(p.blocks)
}

// Len returns the number of currently allocated (non-free) slots.
func (p *BlockPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks) - len(p.free)
}

// Allocate reserves a free slot, zeroing its voxels, and returns its
// index. Returns reconerr with code OutOfCapacity if the pool is full.
func (p *BlockPool) Allocate() (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked()
}

func (p *BlockPool) allocateLocked() (int32, error) {
	n := len(p.free)
	if n == 0 {
		return -1, reconerr.New(reconerr.ErrOutOfCapacity, reconerr.SeverityWarning,
			"block pool exhausted")
	}
	slot := p.free[n-1]
	p.free = p.free[:n-1]
	p.used[slot] = true
	p.blocks[slot].Reset()
	atomic.AddUint64(&p.allocations, 1)
	return slot, nil
}

// AllocateBatch allocates up to n slots in one locked critical section,
// the bulk path bulk_insert uses to amortize the free-list mutex.
// Returns as many slots as were available; the returned slice may be
// shorter than n, in which case err is OutOfCapacity for the remainder.
func (p *BlockPool) AllocateBatch(n int) ([]int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		slot, err := p.allocateLocked()
		if err != nil {
			return slots, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// Free returns a slot to the free-list and zeros its voxels. Freeing a
// slot that is already free is a programming error (InvalidState) and
// panics — it denotes a broken hashmap<->pool invariant, matching
// double-free and out-of-range frees are programming errors (fatal).
func (p *BlockPool) Free(slot int32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot < 0 || int(slot) >= len(p.blocks) {
		panic(reconerr.New(reconerr.ErrInvalidState, reconerr.SeverityCritical,
			"Free: slot index out of range"))
	}
	if !p.used[slot] {
		panic(reconerr.New(reconerr.ErrInvalidState, reconerr.SeverityCritical,
			"Free: double-free of already-free slot"))
	}

	p.used[slot] = false
	p.blocks[slot].Reset()
	p.free = append(p.free, slot)
	atomic.AddUint64(&p.frees, 1)
}

// Get returns the block at slot, for O(1) read or write access. There is
// no separate GetMut: *voxelblock.VoxelBlock already exposes mutable
// voxels through VoxelBlock.At, so a single accessor covers both the
// read-only and mutable contracts.
func (p *BlockPool) Get(slot int32) *voxelblock.VoxelBlock {
	return p.blocks[slot]
}

// Resolution returns the per-block voxel resolution this pool was built
// with; every block in the pool shares it.
func (p *BlockPool) Resolution() int {
	return p.resolution
}

// Stats reports pool-wide allocation counters.
type Stats struct {
	Allocations uint64
	Frees       uint64
	Live        int
	Capacity    int
}

// Stats returns a snapshot of pool usage statistics, grounded on
// VoxelPool.GetStats()'s atomic-counter snapshot pattern.
func (p *BlockPool) Stats() Stats {
	p.mu.Lock()
	live := len(p.blocks) - len(p.free)
	cap := len(p.blocks)
	p.mu.Unlock()
	return Stats{
		Allocations: atomic.LoadUint64(&p.allocations),
		Frees:       atomic.LoadUint64(&p.frees),
		Live:        live,
		Capacity:    cap,
	}
}

// Clear frees every allocated slot, resetting the pool to its initial
// all-free state.
func (p *BlockPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = p.free[:0]
	for i := range p.blocks {
		p.blocks[i].Reset()
		p.used[i] = false
		p.free = append(p.free, int32(len(p.blocks)-1-i))
	}
}
