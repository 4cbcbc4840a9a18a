// Package slab implements a type-agnostic fixed-size slab allocator with
// an intrusive free list, used to pool the runtime descriptor objects the
// SAMM scope manager tracks (string descriptors, list headers/atoms,
// class-instance size classes).
package slab

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxSlabs bounds the number of slabs a pool will grow to before falling
// back to the system allocator.
const MaxSlabs = 1024

// InitialSlabs is the number of slabs pre-allocated by NewPool so the first
// Alloc never touches the system allocator.
const InitialSlabs = 1

const ptrSize = 8

// slab is one contiguous allocation: slotCount*slotSize bytes of slot
// storage, chained via the pool's slab list.
type slab struct {
	data      []byte
	slotCount uint32
}

// slotRef identifies one slot by (slab index, slot index) — the Go-native
// analogue of a raw pointer into a slab. Free-list links are packed into
// 8 bytes so the overlay is bit-compatible with a real pointer-sized link.
type slotRef struct {
	slabIdx uint32
	slotIdx uint32
}

var nilRef = slotRef{slabIdx: ^uint32(0), slotIdx: ^uint32(0)}

func (r slotRef) isNil() bool { return r == nilRef }

func packRef(r slotRef) uint64 { return uint64(r.slabIdx)<<32 | uint64(r.slotIdx) }
func unpackRef(v uint64) slotRef {
	return slotRef{slabIdx: uint32(v >> 32), slotIdx: uint32(v)}
}

// Stats is a snapshot of pool statistics.
type Stats struct {
	InUse         uint64
	Capacity      uint64
	PeakUse       uint64
	PeakFootprint uint64
	TotalSlabs    uint64
	TotalAllocs   uint64
	TotalFrees    uint64
}

// LeakReport describes one slot still marked in-use at teardown.
type LeakReport struct {
	SlabIndex int
	SlotIndex int
}

// Pool owns a chain of same-sized slabs and the intrusive free list
// threaded through their unused slots.
type Pool struct {
	mu sync.Mutex

	slotSize     uint32
	slotsPerSlab uint32
	name         string
	log          *logrus.Entry

	slabs    []*slab
	freeHead slotRef

	// addrIndex maps a slot's first-byte address to its slotRef, giving
	// Free O(1) lookup without requiring the caller to carry bookkeeping
	// alongside the returned []byte — the Go rendering of "pointer
	// arithmetic recovers the owning slab" from the systems-language
	// original. Populated at slab growth time.
	addrIndex map[uintptr]slotRef

	inUse         uint64
	peakUse       uint64
	peakFootprint uint64
	totalAllocs   uint64
	totalFrees    uint64

	fallbackWarned sync.Once
	// fallbackAddrs tracks addresses handed out via the malloc fallback
	// path (cap exhaustion) so Free can refuse to push them onto the
	// slab-local free list. See DESIGN.md Open Question decision #3: the
	// source behavior corrupts pool accounting when a fallback pointer is
	// later freed through the normal path; here we detect and reject it.
	fallbackAddrs map[uintptr][]byte
}

// NewPool initializes a slab pool for a fixed slot size and pre-allocates
// InitialSlabs slabs. slotSize must be at least ptrSize (8 bytes) since the
// free-list link is stored in the first 8 bytes of each free slot.
func NewPool(slotSize, slotsPerSlab uint32, name string) (*Pool, error) {
	if slotSize < ptrSize {
		return nil, errors.Errorf("slab: slot_size %d below minimum %d for pool %q", slotSize, ptrSize, name)
	}
	if slotsPerSlab == 0 {
		return nil, errors.Errorf("slab: slots_per_slab must be > 0 for pool %q", name)
	}

	p := &Pool{
		slotSize:      slotSize,
		slotsPerSlab:  slotsPerSlab,
		name:          name,
		log:           logrus.WithField("component", "slab").WithField("pool", name),
		freeHead:      nilRef,
		addrIndex:     make(map[uintptr]slotRef),
		fallbackAddrs: make(map[uintptr][]byte),
	}

	for i := 0; i < InitialSlabs; i++ {
		if err := p.growLocked(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// growLocked appends one new slab and threads all of its slots onto the
// free list. Caller must hold mu.
func (p *Pool) growLocked() error {
	if uint32(len(p.slabs)) >= MaxSlabs {
		return errors.Errorf("slab: pool %q reached max slab count %d", p.name, MaxSlabs)
	}

	s := &slab{
		data:      make([]byte, uint64(p.slotSize)*uint64(p.slotsPerSlab)),
		slotCount: p.slotsPerSlab,
	}
	slabIdx := uint32(len(p.slabs))
	p.slabs = append(p.slabs, s)

	for i := uint32(0); i < p.slotsPerSlab; i++ {
		off := uint64(i) * uint64(p.slotSize)
		p.addrIndex[addrOf(s.data[off:off+uint64(p.slotSize)])] = slotRef{slabIdx: slabIdx, slotIdx: i}
	}

	// Thread slots newest-to-oldest onto the free list so consecutive
	// allocations from a freshly grown slab return slots in ascending
	// address order (the cache-locality testable property of spec §8).
	for i := int64(p.slotsPerSlab) - 1; i >= 0; i-- {
		slot := slotRef{slabIdx: slabIdx, slotIdx: uint32(i)}
		p.writeLink(slot, p.freeHead)
		p.freeHead = slot
	}

	footprint := uint64(len(p.slabs)) * uint64(p.slotSize) * uint64(p.slotsPerSlab)
	if footprint > p.peakFootprint {
		p.peakFootprint = footprint
	}
	return nil
}

func (p *Pool) slotBytes(r slotRef) []byte {
	s := p.slabs[r.slabIdx]
	off := uint64(r.slotIdx) * uint64(p.slotSize)
	return s.data[off : off+uint64(p.slotSize)]
}

func (p *Pool) writeLink(slot, next slotRef) {
	b := p.slotBytes(slot)
	binary.LittleEndian.PutUint64(b[:ptrSize], packRef(next))
}

func (p *Pool) readLink(slot slotRef) slotRef {
	b := p.slotBytes(slot)
	return unpackRef(binary.LittleEndian.Uint64(b[:ptrSize]))
}

// Alloc returns a zeroed slot of slotSize bytes. If the free list is
// empty, the pool grows by one slab (subject to MaxSlabs); past the cap
// it falls back to a freestanding allocation and logs a one-time warning
// so the caller can still make progress.
func (p *Pool) Alloc() []byte {
	p.mu.Lock()

	if p.freeHead.isNil() {
		if err := p.growLocked(); err != nil {
			p.mu.Unlock()
			p.fallbackWarned.Do(func() {
				p.log.WithError(err).Warn("slab pool exhausted, falling back to system allocator")
			})
			fb := make([]byte, p.slotSize)
			p.mu.Lock()
			p.fallbackAddrs[addrOf(fb)] = fb
			p.totalAllocs++
			p.inUse++
			if p.inUse > p.peakUse {
				p.peakUse = p.inUse
			}
			p.mu.Unlock()
			return fb
		}
	}

	slot := p.freeHead
	p.freeHead = p.readLink(slot)

	p.inUse++
	p.totalAllocs++
	if p.inUse > p.peakUse {
		p.peakUse = p.inUse
	}

	p.mu.Unlock()

	// Zeroing happens after the lock is released but before the pointer
	// is returned, per spec.md §5's ordering guarantee, so callers never
	// observe stale free-list link bytes under contention with a
	// concurrent alloc/free on a different slot.
	b := p.slotBytes(slot)
	clear(b)
	return b
}

// Free returns a previously-allocated slot to the pool. A double-free is
// detected only when the pool's in-use count is already zero; it is
// logged but not fatal. Freeing a
// pointer obtained from the cap-exhaustion fallback path is rejected —
// see the fallbackAddrs comment on Pool.
func (p *Pool) Free(ptr []byte) {
	addr := addrOf(ptr)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fallbackAddrs[addr]; ok {
		delete(p.fallbackAddrs, addr)
		if p.inUse > 0 {
			p.inUse--
		}
		p.totalFrees++
		return
	}

	ref, ok := p.addrIndex[addr]
	if !ok {
		p.log.Warn("slab free: pointer does not belong to this pool, ignoring")
		return
	}

	if p.inUse == 0 {
		p.log.Warn("slab double-free detected, ignoring")
		return
	}

	p.writeLink(ref, p.freeHead)
	p.freeHead = ref
	p.inUse--
	p.totalFrees++
}

// Stats returns a snapshot of pool statistics. Not locked beyond the
// snapshot itself; advisory only.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		InUse:         p.inUse,
		Capacity:      uint64(len(p.slabs)) * uint64(p.slotsPerSlab),
		PeakUse:       p.peakUse,
		PeakFootprint: p.peakFootprint,
		TotalSlabs:    uint64(len(p.slabs)),
		TotalAllocs:   p.totalAllocs,
		TotalFrees:    p.totalFrees,
	}
}

// PrintStats logs pool statistics at Info level.
func (p *Pool) PrintStats() {
	st := p.Stats()
	p.log.WithFields(logrus.Fields{
		"in_use":   st.InUse,
		"capacity": st.Capacity,
		"peak_use": st.PeakUse,
		"slabs":    st.TotalSlabs,
		"allocs":   st.TotalAllocs,
		"frees":    st.TotalFrees,
	}).Info("slab pool stats")
}

// Validate walks the free list with a cycle guard (bounded by capacity
// plus a constant) and checks free_count + in_use == total_capacity.
// Returns false on any anomaly; always terminates.
func (p *Pool) Validate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := uint64(len(p.slabs)) * uint64(p.slotsPerSlab)
	seen := make(map[slotRef]bool)
	count := uint64(0)
	cur := p.freeHead
	guard := capacity + 16
	for !cur.isNil() {
		if guard == 0 {
			return false
		}
		guard--
		if seen[cur] {
			return false // cycle
		}
		seen[cur] = true
		count++
		cur = p.readLink(cur)
	}

	return count+p.inUse == capacity
}

// CheckLeaks reports any slots still marked in-use. Diagnostic-only,
// O(capacity) — intended for shutdown, not the hot path.
func (p *Pool) CheckLeaks() []LeakReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := make(map[slotRef]bool)
	cur := p.freeHead
	for !cur.isNil() {
		free[cur] = true
		cur = p.readLink(cur)
	}

	var leaks []LeakReport
	for si, s := range p.slabs {
		for slotIdx := uint32(0); slotIdx < s.slotCount; slotIdx++ {
			r := slotRef{slabIdx: uint32(si), slotIdx: slotIdx}
			if !free[r] {
				leaks = append(leaks, LeakReport{SlabIndex: si, SlotIndex: int(slotIdx)})
			}
		}
	}
	return leaks
}

// Destroy frees every slab and reports leaks. The pool must not be used
// afterward without calling NewPool again.
func (p *Pool) Destroy() {
	leaks := p.CheckLeaks()
	if len(leaks) > 0 {
		p.log.WithField("leaked_slots", len(leaks)).Warn("slab pool destroyed with live allocations")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slabs = nil
	p.addrIndex = nil
	p.freeHead = nilRef
}

// UsagePercent returns in_use / capacity * 100.
func (p *Pool) UsagePercent() float64 {
	st := p.Stats()
	if st.Capacity == 0 {
		return 0
	}
	return float64(st.InUse) / float64(st.Capacity) * 100.0
}

// Name returns the pool's diagnostic name.
func (p *Pool) Name() string { return p.name }
