// Package pool implements the fixed-size buffer pool (C1): bulk
// alloc/free against an internal free-list ring, O(1) slot-to-address
// translation, and tailroom-checked append. Buffers live inside the
// mapped channel segment and are always addressed by slot index, never
// by pointer, because the segment is mapped at different virtual
// addresses in the controller and the application — the same
// constraint the teacher's queue runner observes for mmap'd I/O
// descriptors, which is why both use atomic loads over computed
// addresses instead of caching Go pointers across the call boundary.
package pool

import (
	"sync/atomic"
	"unsafe"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/ring"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// Buffer header field offsets, mirroring wire.BufferHeader's layout.
// flowPorts packs SrcPort (low 16 bits) and DstPort (high 16 bits)
// into one 4-byte atomic unit covering bytes [24:28).
const (
	offMagic     = uintptr(0)
	offFlags     = uintptr(4)
	offLen       = uintptr(8)
	offMsgLen    = uintptr(12)
	offFlowSrcIP = uintptr(16)
	offFlowDstIP = uintptr(20)
	offFlowPorts = uintptr(24)
	offNext      = uintptr(28)
	offLast      = uintptr(32)
)

// Buffer is a typed, atomic-access view over one buffer's header plus
// its MSS-byte inline payload, both living in the mapped segment.
type Buffer struct {
	hdr unsafe.Pointer
	mss uint32
}

// Magic returns the buffer's magic cookie; callers compare it against
// constants.BufferMagic before trusting the rest of the header.
func (b Buffer) Magic() uint32 {
	return atomic.LoadUint32((*uint32)(b.hdr))
}

func (b Buffer) payloadPtr() unsafe.Pointer {
	return unsafe.Add(b.hdr, wire.BufferHeaderSize)
}

// Payload returns the buffer's full MSS-byte inline payload as a slice
// backed directly by the mapped segment (no copy).
func (b Buffer) Payload() []byte {
	return unsafe.Slice((*byte)(b.payloadPtr()), b.mss)
}

func flagsPtr(hdr unsafe.Pointer) *uint32 {
	// Flags is a uint16 at offset 4 packed with a uint16 pad; load and
	// store the containing uint32 so the access stays 4-byte aligned.
	return (*uint32)(unsafe.Add(hdr, offFlags))
}

// Flags reports the buffer's current flag bits.
func (b Buffer) Flags() uint16 {
	return uint16(atomic.LoadUint32(flagsPtr(b.hdr)))
}

// SetFlags overwrites the buffer's flag bits.
func (b Buffer) SetFlags(v uint16) {
	packed := atomic.LoadUint32(flagsPtr(b.hdr)) &^ 0xffff
	atomic.StoreUint32(flagsPtr(b.hdr), packed|uint32(v))
}

// AddFlags ORs bits into the buffer's flags.
func (b Buffer) AddFlags(v uint16) { b.SetFlags(b.Flags() | v) }

// ClearFlags ANDs out bits from the buffer's flags.
func (b Buffer) ClearFlags(v uint16) { b.SetFlags(b.Flags() &^ v) }

// Len returns the current payload length.
func (b Buffer) Len() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offLen)))
}

// SetLen sets the current payload length.
func (b Buffer) SetLen(v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offLen)), v)
}

// MsgLen returns the total message length; valid on the head buffer only.
func (b Buffer) MsgLen() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offMsgLen)))
}

// SetMsgLen sets the total message length.
func (b Buffer) SetMsgLen(v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offMsgLen)), v)
}

// Flow returns the buffer's flow 4-tuple; valid on the head buffer only.
func (b Buffer) Flow() wire.FlowInfo {
	ports := atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offFlowPorts)))
	return wire.FlowInfo{
		SrcIP:   atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offFlowSrcIP))),
		DstIP:   atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offFlowDstIP))),
		SrcPort: uint16(ports),
		DstPort: uint16(ports >> 16),
	}
}

// SetFlow sets the buffer's flow 4-tuple.
func (b Buffer) SetFlow(f wire.FlowInfo) {
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offFlowSrcIP)), f.SrcIP)
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offFlowDstIP)), f.DstIP)
	packed := uint32(f.SrcPort) | uint32(f.DstPort)<<16
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offFlowPorts)), packed)
}

// Next returns the slot index of the continuation buffer; valid when
// the SG flag is set.
func (b Buffer) Next() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offNext)))
}

// SetNext sets the continuation buffer's slot index.
func (b Buffer) SetNext(v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offNext)), v)
}

// Last returns the slot index of the chain's tail buffer; valid on
// the head buffer only.
func (b Buffer) Last() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Add(b.hdr, offLast)))
}

// SetLast sets the chain tail's slot index.
func (b Buffer) SetLast(v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Add(b.hdr, offLast)), v)
}

// reset restores a freshly allocated buffer: flags, len, msg_len,
// next, and last cleared, magic re-stamped. Allocation must never hand
// out a buffer whose previous owner's bookkeeping is still visible.
func (b Buffer) reset() {
	atomic.StoreUint32((*uint32)(b.hdr), constants.BufferMagic)
	b.SetFlags(0)
	b.SetLen(0)
	b.SetMsgLen(0)
	b.SetNext(0)
	b.SetLast(0)
}

// Pool is the channel's buffer pool: a bulk free-list ring plus O(1)
// slot-to-address translation over the data context's buffer array.
type Pool struct {
	base   unsafe.Pointer // address of buffer 0's header
	stride uint32
	mss    uint32
	count  uint32
	free   *ring.Ring
}

// Bind attaches a Pool to data's buffer array (based at base, the
// mapped segment's start) and the already-bound free-list ring.
func Bind(base unsafe.Pointer, data wire.DataContext, free *ring.Ring) *Pool {
	return &Pool{
		base:   unsafe.Add(base, uintptr(data.BufferBase)),
		stride: data.BufferStride,
		mss:    data.MSS,
		count:  data.BufferCount,
		free:   free,
	}
}

// Buf returns a typed view of the buffer at slot index ix. The caller
// is responsible for ix being in range; package segment derives ix
// only from ring dequeues or AllocBulk results, both bounded by the
// pool's own bookkeeping.
func (p *Pool) Buf(ix uint32) Buffer {
	return Buffer{hdr: unsafe.Add(p.base, uintptr(ix)*uintptr(p.stride)), mss: p.mss}
}

// MSS returns the maximum payload per buffer.
func (p *Pool) MSS() uint32 { return p.mss }

// Count returns the total number of buffers in the pool.
func (p *Pool) Count() uint32 { return p.count }

// AllocBulk attempts to pop exactly n slot indices from the free ring.
// It returns (indices, true) on success with every returned buffer
// reset, or (nil, false) if the pool could not deliver all n — no
// partial allocation ever leaks out.
func (p *Pool) AllocBulk(n int) ([]uint32, bool) {
	if n <= 0 {
		return nil, true
	}
	out := make([]uint32, n)
	if !p.free.Dequeue(out) {
		return nil, false
	}
	for _, ix := range out {
		p.Buf(ix).reset()
	}
	return out, true
}

// FreeBulk pushes indices back onto the free ring. The free ring is
// sized equal to the buffer count, so a well-behaved caller (one that
// never frees a slot it does not own) never observes this fail; a
// false result indicates a bookkeeping bug. The callers in
// internal/segment do not check the result.
func (p *Pool) FreeBulk(indices []uint32) bool {
	if len(indices) == 0 {
		return true
	}
	return p.free.Enqueue(indices)
}

// Tailroom returns how many more bytes can be appended to buf before
// it is full.
func (p *Pool) Tailroom(buf Buffer) uint32 {
	return p.mss - buf.Len()
}

// Append copies as much of src as fits into buf's remaining tailroom,
// advances buf's Len, and returns the number of bytes actually
// written. It never reallocates; callers spill overflow to the next
// buffer in the chain.
func (p *Pool) Append(buf Buffer, src []byte) int {
	room := int(p.Tailroom(buf))
	n := len(src)
	if n > room {
		n = room
	}
	if n <= 0 {
		return 0
	}
	dst := buf.Payload()
	copy(dst[buf.Len():], src[:n])
	buf.SetLen(buf.Len() + uint32(n))
	return n
}
