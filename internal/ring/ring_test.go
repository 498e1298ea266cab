package ring

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// newTestRing allocates a plain Go byte slice to stand in for the
// mapped segment and binds a ring of the given capacity at offset 0.
func newTestRing(t *testing.T, capacity uint32) (*Ring, *[]byte) {
	t.Helper()
	size := 8 + 8 + uintptr(capacity)*4 // head + tail + slots
	backing := make([]byte, size)
	desc := wire.RingDescriptor{
		HeadOffset:  0,
		TailOffset:  8,
		SlotsOffset: 16,
		Capacity:    capacity,
	}
	r := Bind(unsafe.Pointer(&backing[0]), desc)
	return r, &backing
}

func TestRingEnqueueDequeueRoundTrip(t *testing.T) {
	r, _ := newTestRing(t, 8)

	require.True(t, r.Enqueue([]uint32{1, 2, 3}))
	require.Equal(t, uint32(3), r.Len())

	out := make([]uint32, 3)
	require.True(t, r.Dequeue(out))
	require.Equal(t, []uint32{1, 2, 3}, out)
	require.Equal(t, uint32(0), r.Len())
}

func TestRingEnqueueAllOrNothing(t *testing.T) {
	r, _ := newTestRing(t, 4)

	require.True(t, r.Enqueue([]uint32{1, 2, 3}))
	// Only one slot remains; a 2-item enqueue must be fully rejected.
	require.False(t, r.Enqueue([]uint32{4, 5}))
	require.Equal(t, uint32(3), r.Len())

	// The single free slot is still usable.
	require.True(t, r.Enqueue([]uint32{4}))
	require.Equal(t, uint32(4), r.Len())
	require.False(t, r.Enqueue([]uint32{5}))
}

func TestRingDequeueAllOrNothing(t *testing.T) {
	r, _ := newTestRing(t, 8)
	require.True(t, r.Enqueue([]uint32{10, 20}))

	out := make([]uint32, 3)
	require.False(t, r.Dequeue(out))
	require.Equal(t, uint32(2), r.Len(), "a failed dequeue must not consume anything")

	out2 := make([]uint32, 2)
	require.True(t, r.Dequeue(out2))
	require.Equal(t, []uint32{10, 20}, out2)
}

func TestRingWrapAround(t *testing.T) {
	r, _ := newTestRing(t, 4)

	for i := 0; i < 3; i++ {
		require.True(t, r.Enqueue([]uint32{uint32(i)}))
		out := make([]uint32, 1)
		require.True(t, r.Dequeue(out))
		require.Equal(t, uint32(i), out[0])
	}
	// Cursors have now advanced past one full lap; capacity accounting
	// must still work via masking.
	require.True(t, r.Enqueue([]uint32{100, 101, 102, 103}))
	require.Equal(t, uint32(4), r.Len())
	require.False(t, r.Enqueue([]uint32{104}))
}
