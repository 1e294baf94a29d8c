// Package spatialhash is the concurrent block-coordinate index described
// BlockCoord maps to a pool slot through a fixed bucket
// array, each bucket independently locked so unrelated coordinates never
// contend. Grounded on the per-mutex map pattern in
// internal/spatial/streaming_grid.go (StreamingGrid.mu guarding a
// map[VoxelKey]*CompactVoxel), generalized from one grid-wide lock to one
// lock per bucket, and on schraf-collections' FixedBlockMap for the
// inline-slots-plus-overflow bucket layout and iter.Seq2 iteration style.
package spatialhash

import (
	"iter"
	"sync"

	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/voxelblock"
)

// inlineSlots is the number of entries stored directly in a bucket before
// falling back to the overflow chain. Real-world occupancy keeps chains
// short at this width (see the hash-stress test), so the common case
// never allocates.
const inlineSlots = 4

type entry struct {
	coord    voxelblock.BlockCoord
	slot     int32
	occupied bool
}

// bucket holds inlineSlots entries directly and spills into overflow on
// collision, each guarded by its own mutex so buckets never contend with
// each other.
type bucket struct {
	mu       sync.Mutex
	inline   [inlineSlots]entry
	overflow []entry
}

// Hashmap is the spatial hashmap from BlockCoord to BlockPool slot index.
type Hashmap struct {
	buckets []bucket
	count   int64 // entry count; read and written under countMu
	countMu sync.Mutex
}

// New creates a Hashmap with bucketCount buckets. bucketCount should be a
// power of two for uniform distribution under h(i,j,k) mod B, but any
// positive value works.
func New(bucketCount int) *Hashmap {
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &Hashmap{buckets: make([]bucket, bucketCount)}
}

// hash implements h(i,j,k) = (i*HashPrimeX) XOR (j*HashPrimeY) XOR (k*HashPrimeZ) mod B.
func (h *Hashmap) hash(c voxelblock.BlockCoord) int {
	mixed := uint32(c.I)*geom.HashPrimeX ^ uint32(c.J)*geom.HashPrimeY ^ uint32(c.K)*geom.HashPrimeZ
	return int(mixed) % len(h.buckets)
}

func (h *Hashmap) bucketFor(c voxelblock.BlockCoord) *bucket {
	idx := h.hash(c)
	if idx < 0 {
		idx += len(h.buckets)
	}
	return &h.buckets[idx]
}

// findLocked returns a pointer to the entry for coord within b, searching
// inline slots then overflow. Caller must hold b.mu.
func findLocked(b *bucket, coord voxelblock.BlockCoord) *entry {
	for i := range b.inline {
		if b.inline[i].occupied && b.inline[i].coord == coord {
			return &b.inline[i]
		}
	}
	for i := range b.overflow {
		if b.overflow[i].occupied && b.overflow[i].coord == coord {
			return &b.overflow[i]
		}
	}
	return nil
}

// insertLocked places (coord, slot) into the first free entry of b,
// growing the overflow chain if every inline slot is occupied. Caller
// must hold b.mu.
func insertLocked(b *bucket, coord voxelblock.BlockCoord, slot int32) {
	for i := range b.inline {
		if !b.inline[i].occupied {
			b.inline[i] = entry{coord: coord, slot: slot, occupied: true}
			return
		}
	}
	b.overflow = append(b.overflow, entry{coord: coord, slot: slot, occupied: true})
}

// Find looks up the pool slot for coord. Safe for concurrent use.
func (h *Hashmap) Find(coord voxelblock.BlockCoord) (int32, bool) {
	b := h.bucketFor(coord)
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := findLocked(b, coord); e != nil {
		return e.slot, true
	}
	return -1, false
}

// InsertIfAbsent returns the existing slot for coord if present;
// otherwise it calls allocate() exactly once to obtain a new slot, inserts
// it, and returns it. The whole check-then-allocate-then-insert sequence
// runs under the bucket's lock, so concurrent InsertIfAbsent calls for the
// same coord never allocate more than one slot — guaranteeing "at most one
// allocation per coordinate" guarantee.
func (h *Hashmap) InsertIfAbsent(coord voxelblock.BlockCoord, allocate func() (int32, error)) (slot int32, inserted bool, err error) {
	b := h.bucketFor(coord)
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := findLocked(b, coord); e != nil {
		return e.slot, false, nil
	}

	slot, err = allocate()
	if err != nil {
		return -1, false, err
	}
	insertLocked(b, coord, slot)
	h.countMu.Lock()
	h.count++
	h.countMu.Unlock()
	return slot, true, nil
}

// BulkInsert applies InsertIfAbsent to every coord in coords, using
// allocateBatch to reserve up to len(coords) slots in one call so the
// caller's free-list lock is taken once instead of once per coordinate.
// Coordinates already present are skipped without consuming a slot. ok[i]
// reports whether coords[i] ended up with a valid slot (slots[i] is only
// meaningful when ok[i] is true) — callers must check ok rather than
// treating a zero slot as "unassigned". Any slots allocateBatch reserved
// but did not end up assigned are returned via unused so the caller can
// free them back to its pool. Returns the first allocation error after
// applying every assignment it could.
func (h *Hashmap) BulkInsert(coords []voxelblock.BlockCoord, allocateBatch func(n int) ([]int32, error)) (slots []int32, ok []bool, unused []int32, err error) {
	missing := make([]voxelblock.BlockCoord, 0, len(coords))
	slots = make([]int32, len(coords))
	ok = make([]bool, len(coords))
	present := make([]bool, len(coords))

	for i, c := range coords {
		if s, found := h.Find(c); found {
			slots[i] = s
			ok[i] = true
			present[i] = true
		} else {
			missing = append(missing, c)
		}
	}

	if len(missing) == 0 {
		return slots, ok, nil, nil
	}

	reserved, allocErr := allocateBatch(len(missing))
	cursor := 0
	for i, c := range coords {
		if present[i] {
			continue
		}
		if cursor >= len(reserved) {
			continue
		}
		s := reserved[cursor]
		cursor++
		got, wasInserted, insErr := h.InsertIfAbsent(c, func() (int32, error) { return s, nil })
		if insErr != nil {
			unused = append(unused, s)
			continue
		}
		if !wasInserted {
			unused = append(unused, s)
		}
		slots[i] = got
		ok[i] = true
	}
	unused = append(unused, reserved[cursor:]...)

	if allocErr != nil {
		return slots, ok, unused, allocErr
	}
	return slots, ok, unused, nil
}

// Erase removes coord's entry, returning its slot and whether it was
// present.
func (h *Hashmap) Erase(coord voxelblock.BlockCoord) (int32, bool) {
	b := h.bucketFor(coord)
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.inline {
		if b.inline[i].occupied && b.inline[i].coord == coord {
			slot := b.inline[i].slot
			b.inline[i] = entry{}
			h.countMu.Lock()
			h.count--
			h.countMu.Unlock()
			return slot, true
		}
	}
	for i := range b.overflow {
		if b.overflow[i].occupied && b.overflow[i].coord == coord {
			slot := b.overflow[i].slot
			last := len(b.overflow) - 1
			b.overflow[i] = b.overflow[last]
			b.overflow = b.overflow[:last]
			h.countMu.Lock()
			h.count--
			h.countMu.Unlock()
			return slot, true
		}
	}
	return -1, false
}

// Len returns the approximate number of entries currently stored.
func (h *Hashmap) Len() int64 {
	h.countMu.Lock()
	defer h.countMu.Unlock()
	return h.count
}

// IterEntries yields every (coord, slot) pair currently stored. Entries
// inserted or erased concurrently with an in-progress iteration may or
// may not be observed, matching the weak-consistency contract of a
// concurrently-mutated map.
func (h *Hashmap) IterEntries() iter.Seq2[voxelblock.BlockCoord, int32] {
	return func(yield func(voxelblock.BlockCoord, int32) bool) {
		for bi := range h.buckets {
			b := &h.buckets[bi]
			b.mu.Lock()
			inline := b.inline
			overflow := append([]entry(nil), b.overflow...)
			b.mu.Unlock()

			for _, e := range inline {
				if e.occupied {
					if !yield(e.coord, e.slot) {
						return
					}
				}
			}
			for _, e := range overflow {
				if e.occupied {
					if !yield(e.coord, e.slot) {
						return
					}
				}
			}
		}
	}
}

// Clear empties every bucket.
func (h *Hashmap) Clear() {
	for i := range h.buckets {
		b := &h.buckets[i]
		b.mu.Lock()
		b.inline = [inlineSlots]entry{}
		b.overflow = nil
		b.mu.Unlock()
	}
	h.countMu.Lock()
	h.count = 0
	h.countMu.Unlock()
}

// BucketCount returns the number of buckets the hashmap was created with.
func (h *Hashmap) BucketCount() int {
	return len(h.buckets)
}

// ChainStats reports bucket occupancy, used by the hash-stress test to
// confirm average overflow-chain length stays bounded.
type ChainStats struct {
	Buckets       int
	Entries       int64
	MaxChainLen   int
	OverflowTotal int
}

// Stats scans every bucket and reports chain-length statistics. Intended
// for tests and diagnostics, not the hot path.
func (h *Hashmap) Stats() ChainStats {
	stats := ChainStats{Buckets: len(h.buckets)}
	for i := range h.buckets {
		b := &h.buckets[i]
		b.mu.Lock()
		n := len(b.overflow)
		b.mu.Unlock()
		stats.OverflowTotal += n
		if n > stats.MaxChainLen {
			stats.MaxChainLen = n
		}
	}
	stats.Entries = h.Len()
	return stats
}
