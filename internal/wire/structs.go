// Package wire defines the on-the-wire and in-shared-memory layouts
// exchanged between the application and the controller: the channel
// segment header, the buffer header that precedes every buffer's
// payload, the local-socket control-message record, and the in-channel
// control-ring entry. Layouts must match the controller's bit-exact,
// so every struct carries a compile-time size check the way the
// teacher's uapi structs do for kernel ABI compatibility.
package wire

import "unsafe"

// BufferHeader precedes the MSS-byte payload of every pool buffer.
// Buffers are addressed by slot index everywhere outside this header;
// Next and Last are themselves slot indices, never pointers, because
// the segment is mapped at different virtual addresses in the
// controller and the application.
type BufferHeader struct {
	Magic       uint32
	Flags       uint16
	_pad0       uint16
	Len         uint32 // current payload length
	MsgLen      uint32 // total message length, valid on head buffer only
	FlowSrcIP   uint32 // valid on head buffer only
	FlowDstIP   uint32
	FlowSrcPort uint16
	FlowDstPort uint16
	Next        uint32 // slot index of continuation buffer, valid when FlagSG set
	Last        uint32 // slot index of tail buffer, valid on head only
}

// BufferHeaderSize is the on-disk size of BufferHeader; the pool uses
// it to compute a buffer's payload address from its header address.
const BufferHeaderSize = 36

var _ [BufferHeaderSize]byte = [unsafe.Sizeof(BufferHeader{})]byte{}

// RingDescriptor locates one SPSC ring's slot array and cursors within
// the channel segment. Offsets are byte offsets from the start of the
// segment, not pointers, for the same cross-process reason as above.
type RingDescriptor struct {
	SlotsOffset uint64 // byte offset of the uint32 slot array
	HeadOffset  uint64 // byte offset of the consumer cursor (uint64)
	TailOffset  uint64 // byte offset of the producer cursor (uint64)
	Capacity    uint32 // power of two
	_pad0       uint32
}

// RingDescriptorSize accounts for trailing padding Go inserts after
// Capacity so the struct's size stays a multiple of its 8-byte
// alignment (three uint64 fields set that alignment).
const RingDescriptorSize = 32

var _ [RingDescriptorSize]byte = [unsafe.Sizeof(RingDescriptor{})]byte{}

// Ring indices into ChannelHeader.Rings.
const (
	RingAppTx = iota
	RingStackRx
	RingCtrlSQ
	RingCtrlCQ
	RingPoolFree
	RingCount
)

// DataContext describes the buffer pool's layout within the segment.
type DataContext struct {
	BufferBase   uint64 // byte offset of buffer 0's header
	BufferStride uint32 // BufferHeaderSize + MSS, rounded as the controller chose
	MSS          uint32
	BufferCount  uint32
	_pad0        uint32
}

const DataContextSize = 24

var _ [DataContextSize]byte = [unsafe.Sizeof(DataContext{})]byte{}

// ControlContext holds a control-ring request id counter
// (NextRequestID, advanced only by channel.NextControlRequestID) and
// locates the backing ControlRingEntry array that ctrl-sq/ctrl-cq slot
// indices address, the same way DataContext locates the buffer array
// that app-tx/stack-rx slot indices address. The control-ring client
// (internal/ctrlclient) does not read or advance NextRequestID: it
// assigns request ids from its own in-process counter.
type ControlContext struct {
	NextRequestID     uint64
	ControlEntryBase  uint64 // byte offset of entry 0
	ControlEntryCount uint32 // capacity of the entry array
	_pad0             uint32
}

const ControlContextSize = 8 + 8 + 4 + 4

var _ [ControlContextSize]byte = [unsafe.Sizeof(ControlContext{})]byte{}

// ChannelHeader is the first thing at offset 0 of every mapped channel
// segment. Magic must equal constants.ChannelMagic or the segment is
// rejected (and, if corruption is detected mid-use rather than at
// attach, the process aborts).
type ChannelHeader struct {
	Magic   uint32
	_pad0   uint32
	Data    DataContext
	Control ControlContext
	Rings   [RingCount]RingDescriptor
}

const ChannelHeaderSize = 8 + DataContextSize + ControlContextSize + RingCount*RingDescriptorSize

var _ [ChannelHeaderSize]byte = [unsafe.Sizeof(ChannelHeader{})]byte{}

// FlowInfo is a 4-tuple in host byte order, as stored inside the
// channel; string-to-uint32 conversion happens at the API boundary.
type FlowInfo struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
}

const FlowInfoSize = 12

var _ [FlowInfoSize]byte = [unsafe.Sizeof(FlowInfo{})]byte{}

// ListenerInfo names a local endpoint to listen on.
type ListenerInfo struct {
	LocalIP   uint32
	LocalPort uint16
	_pad0     uint16
}

const ListenerInfoSize = 8

var _ [ListenerInfoSize]byte = [unsafe.Sizeof(ListenerInfo{})]byte{}

// ChannelInfo carries the sizing the application requests (and the
// controller may clamp) when asking for a new channel.
type ChannelInfo struct {
	DescRingSize uint32
	BufferCount  uint32
}

const ChannelInfoSize = 8

var _ [ChannelInfoSize]byte = [unsafe.Sizeof(ChannelInfo{})]byte{}

// ControlMessage is the fixed-size record exchanged over the local
// AF_UNIX socket for register/attach RPCs. Requests and responses
// share this layout; Type distinguishes them and MsgID correlates a
// response to its request.
type ControlMessage struct {
	Type     uint32
	Opcode   uint32
	MsgID    uint64
	AppUUID  [16]byte
	Status   int32
	_pad0    uint32
	Channel  ChannelInfo
	Listener ListenerInfo
}

const ControlMessageSize = 4 + 4 + 8 + 16 + 4 + 4 + ChannelInfoSize + ListenerInfoSize

var _ [ControlMessageSize]byte = [unsafe.Sizeof(ControlMessage{})]byte{}

// ControlRingEntry is the fixed-size record carried on ctrl-sq/ctrl-cq
// for connect/listen requests and their responses. Correlation is by
// ID, assigned by the application (the producer) and echoed back.
type ControlRingEntry struct {
	ID       uint64
	Opcode   uint32
	Status   int32
	Flow     FlowInfo
	Listener ListenerInfo
	_pad0    uint32 // rounds the struct to a multiple of its 8-byte alignment
}

const ControlRingEntrySize = 8 + 4 + 4 + FlowInfoSize + ListenerInfoSize + 4

var _ [ControlRingEntrySize]byte = [unsafe.Sizeof(ControlRingEntry{})]byte{}
