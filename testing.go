package nsaas

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// NewFakeChannel builds a *Channel over a throwaway memfd-backed
// segment instead of a controller-provided fd: no registration RPC,
// no real controller process, and no elevated privileges (memfd_create
// needs none). It exercises the exact same mmap/magic-validation path
// as a real attach, so tests cover C1-C4 faithfully; only C5/C6 (the
// control-plane RPCs) are bypassed. This is the nsaas analogue of the
// teacher's MockBackend.
func NewFakeChannel(bufferCount, mss uint32) (*Channel, error) {
	fd, err := buildFakeSegment(bufferCount, mss)
	if err != nil {
		return nil, WrapError("NewFakeChannel", err)
	}
	cfg := DefaultConfig()
	cfg.BufferCount = bufferCount
	cfg.MSS = mss
	ch, err := Bind(fd, cfg)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return ch, nil
}

func buildFakeSegment(bufferCount, mss uint32) (int, error) {
	fd, err := unix.MemfdCreate("nsaas-fake-channel", 0)
	if err != nil {
		return -1, err
	}

	stride := uint32(wire.BufferHeaderSize) + mss
	ringBytes := func(cap uint32) uint64 { return 16 + uint64(cap)*4 }

	headerSize := uint64(wire.ChannelHeaderSize)
	appTxOff := headerSize
	stackRxOff := appTxOff + ringBytes(bufferCount)
	ctrlSQOff := stackRxOff + ringBytes(bufferCount)
	ctrlCQOff := ctrlSQOff + ringBytes(bufferCount)
	poolFreeOff := ctrlCQOff + ringBytes(bufferCount)
	ctrlEntriesOff := poolFreeOff + ringBytes(bufferCount)
	bufferBase := ctrlEntriesOff + uint64(bufferCount)*uint64(wire.ControlRingEntrySize)
	totalSize := bufferBase + uint64(bufferCount)*uint64(stride)

	if err := unix.Ftruncate(fd, int64(totalSize)); err != nil {
		unix.Close(fd)
		return -1, err
	}

	data, err := unix.Mmap(fd, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	defer unix.Munmap(data)

	header := (*wire.ChannelHeader)(unsafe.Pointer(&data[0]))
	header.Magic = constants.ChannelMagic
	header.Data = wire.DataContext{
		BufferBase:   bufferBase,
		BufferStride: stride,
		MSS:          mss,
		BufferCount:  bufferCount,
	}
	header.Control = wire.ControlContext{
		ControlEntryBase:  ctrlEntriesOff,
		ControlEntryCount: bufferCount,
	}

	mkRing := func(off uint64) wire.RingDescriptor {
		return wire.RingDescriptor{HeadOffset: off, TailOffset: off + 8, SlotsOffset: off + 16, Capacity: bufferCount}
	}
	header.Rings[wire.RingAppTx] = mkRing(appTxOff)
	header.Rings[wire.RingStackRx] = mkRing(stackRxOff)
	header.Rings[wire.RingCtrlSQ] = mkRing(ctrlSQOff)
	header.Rings[wire.RingCtrlCQ] = mkRing(ctrlCQOff)
	header.Rings[wire.RingPoolFree] = mkRing(poolFreeOff)

	slots := data[poolFreeOff+16 : poolFreeOff+16+uint64(bufferCount)*4]
	for i := uint32(0); i < bufferCount; i++ {
		binary.LittleEndian.PutUint32(slots[i*4:i*4+4], i)
		bufOff := bufferBase + uint64(i)*uint64(stride)
		binary.LittleEndian.PutUint32(data[bufOff:bufOff+4], constants.BufferMagic)
	}
	tail := data[poolFreeOff+8 : poolFreeOff+16]
	binary.LittleEndian.PutUint64(tail, uint64(bufferCount))

	return fd, nil
}

// FakeController answers requests submitted to a fake channel's
// control ring, one per ServeOne call, standing in for the controller
// side of connect/listen in tests that need one.
type FakeController struct {
	ch *Channel
}

// NewFakeController wraps ch for manual control-ring servicing.
func NewFakeController(ch *Channel) *FakeController {
	return &FakeController{ch: ch}
}

// ServeOne drains exactly one request from ctrl-sq and completes it on
// ctrl-cq with the given status. It does not wait: it returns false at
// once if ctrl-sq is empty.
func (f *FakeController) ServeOne(status int32) bool {
	idx := make([]uint32, 1)
	if !f.ch.ch.CtrlSQ().Dequeue(idx) {
		return false
	}
	entries := f.ch.ch.CtrlEntries()
	entries[idx[0]].Status = status
	return f.ch.ch.CtrlCQ().Enqueue(idx)
}
