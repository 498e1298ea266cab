// Package ring implements the four single-producer/single-consumer
// rings (app-tx, stack-rx, ctrl-sq, ctrl-cq) that live inside the
// mapped channel segment, plus the buffer pool's internal free-list
// ring. All of them share one algorithm: a power-of-two slot array with
// producer and consumer cursors at the offsets the segment's ring
// descriptor gives, enqueue and dequeue bulk and all-or-nothing.
//
// Because the slot array and cursors live in memory shared with the
// controller process, cursor reads and writes use atomic operations
// on addresses computed by pointer arithmetic over the mapped base —
// the same technique the datapath queue runner uses to read mmap'd
// descriptors without observing a stale cache line.
package ring

import (
	"sync/atomic"
	"unsafe"

	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// padding pads the in-process Ring value to a full cache line. The
// cursors themselves live in the mapped segment at the offsets the
// ring descriptor gives; Ring does not choose their placement.
type padding = [64]byte

// Ring is an SPSC bulk ring bound to a region of mapped shared memory.
// It does not own the memory; Bind attaches it to a base address and a
// descriptor that locates the slot array and cursors within it.
type Ring struct {
	slots    unsafe.Pointer // *uint32, Capacity entries
	headPtr  *uint64        // consumer cursor (advanced by Dequeue)
	tailPtr  *uint64        // producer cursor (advanced by Enqueue)
	capacity uint32
	mask     uint32
	_        padding
}

// Bind attaches a Ring to desc's slot array and cursors within the
// segment starting at base. capacity must be a power of two; the
// controller guarantees this when it sizes the segment.
func Bind(base unsafe.Pointer, desc wire.RingDescriptor) *Ring {
	if desc.Capacity == 0 || desc.Capacity&(desc.Capacity-1) != 0 {
		panic("ring: capacity must be a power of two")
	}
	return &Ring{
		slots:    unsafe.Add(base, uintptr(desc.SlotsOffset)),
		headPtr:  (*uint64)(unsafe.Add(base, uintptr(desc.HeadOffset))),
		tailPtr:  (*uint64)(unsafe.Add(base, uintptr(desc.TailOffset))),
		capacity: desc.Capacity,
		mask:     desc.Capacity - 1,
	}
}

func (r *Ring) slot(i uint64) *uint32 {
	return (*uint32)(unsafe.Add(r.slots, uintptr(uint32(i)&r.mask)*4))
}

// Enqueue pushes all of indices onto the ring, or none. It reports
// whether the push happened; on false the ring had fewer than
// len(indices) free slots and nothing was written.
func (r *Ring) Enqueue(indices []uint32) bool {
	n := uint64(len(indices))
	if n == 0 {
		return true
	}
	head := atomic.LoadUint64(r.headPtr)
	tail := atomic.LoadUint64(r.tailPtr)
	free := uint64(r.capacity) - (tail - head)
	if free < n {
		return false
	}
	for i, v := range indices {
		atomic.StoreUint32(r.slot(tail+uint64(i)), v)
	}
	atomic.StoreUint64(r.tailPtr, tail+n)
	return true
}

// Dequeue pops len(out) indices from the ring into out, or none. It
// reports whether the pop happened.
func (r *Ring) Dequeue(out []uint32) bool {
	n := uint64(len(out))
	if n == 0 {
		return true
	}
	head := atomic.LoadUint64(r.headPtr)
	tail := atomic.LoadUint64(r.tailPtr)
	avail := tail - head
	if avail < n {
		return false
	}
	for i := range out {
		out[i] = atomic.LoadUint32(r.slot(head + uint64(i)))
	}
	atomic.StoreUint64(r.headPtr, head+n)
	return true
}

// Len reports the number of entries currently queued.
func (r *Ring) Len() uint32 {
	head := atomic.LoadUint64(r.headPtr)
	tail := atomic.LoadUint64(r.tailPtr)
	return uint32(tail - head)
}

// Cap reports the ring's slot capacity.
func (r *Ring) Cap() uint32 {
	return r.capacity
}
