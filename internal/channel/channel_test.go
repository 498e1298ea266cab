package channel

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// buildSegment lays out a minimal valid channel segment in an anonymous
// memfd: header, a pool-free ring holding every buffer index, and the
// buffer array itself. It mirrors what the controller would hand the
// application via attach's SCM_RIGHTS fd.
func buildSegment(t *testing.T, bufferCount uint32, mss uint32) int {
	t.Helper()

	fd, err := unix.MemfdCreate("nsaas-test-channel", 0)
	require.NoError(t, err)

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

	require.NoError(t, unix.Ftruncate(fd, int64(totalSize)))

	data, err := unix.Mmap(fd, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
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

	// Pre-load the pool-free ring with every slot index and stamp
	// every buffer's magic, as the controller would on channel creation.
	slots := data[poolFreeOff+16 : poolFreeOff+16+uint64(bufferCount)*4]
	for i := uint32(0); i < bufferCount; i++ {
		binary.LittleEndian.PutUint32(slots[i*4:i*4+4], i)
		bufOff := bufferBase + uint64(i)*uint64(stride)
		binary.LittleEndian.PutUint32(data[bufOff:bufOff+4], constants.BufferMagic)
	}
	tail := data[poolFreeOff+8 : poolFreeOff+16]
	binary.LittleEndian.PutUint64(tail, uint64(bufferCount))

	return fd
}

func TestBindValidatesMagicAndBindsRings(t *testing.T) {
	fd := buildSegment(t, 8, 256)
	defer unix.Close(fd)

	ch, err := Bind(fd, nil)
	require.NoError(t, err)
	defer ch.Detach()

	require.Equal(t, uint32(256), ch.MSS())
	require.Equal(t, uint32(8), ch.Pool().Count())

	ix, ok := ch.Pool().AllocBulk(3)
	require.True(t, ok)
	require.Len(t, ix, 3)
	for _, i := range ix {
		require.True(t, ch.CheckBufferMagic(i))
	}

	entries := ch.CtrlEntries()
	require.Len(t, entries, 8)
	entries[0].ID = 42
	require.Equal(t, uint64(42), ch.CtrlEntries()[0].ID, "CtrlEntries must alias the same backing memory across calls")
}

func TestBindRejectsBadMagic(t *testing.T) {
	fd := buildSegment(t, 4, 128)
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, 0, wire.ChannelHeaderSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[0:4], 0xdeadbeef)
	require.NoError(t, unix.Munmap(data))

	_, err = Bind(fd, nil)
	require.Error(t, err)
}

func TestNextControlRequestIDMonotonic(t *testing.T) {
	fd := buildSegment(t, 2, 64)
	defer unix.Close(fd)

	ch, err := Bind(fd, nil)
	require.NoError(t, err)
	defer ch.Detach()

	require.Equal(t, uint64(0), ch.NextControlRequestID())
	require.Equal(t, uint64(1), ch.NextControlRequestID())
	require.Equal(t, uint64(2), ch.NextControlRequestID())
}
