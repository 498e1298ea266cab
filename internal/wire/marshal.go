package wire

import "encoding/binary"

// MarshalError reports a fixed-size record that did not round-trip.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const ErrInsufficientData MarshalError = "insufficient data for unmarshaling control message"

// MarshalControlMessage serializes a ControlMessage for transmission
// over the local socket, field by field, the way the teacher's
// marshalCtrlCmd lays out a fixed-size kernel-ABI record.
func MarshalControlMessage(m *ControlMessage) []byte {
	buf := make([]byte, ControlMessageSize)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:off+4], m.Type)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.Opcode)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], m.MsgID)
	off += 8
	copy(buf[off:off+16], m.AppUUID[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(m.Status))
	off += 4
	off += 4 // _pad0

	binary.LittleEndian.PutUint32(buf[off:off+4], m.Channel.DescRingSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.Channel.BufferCount)
	off += 4

	binary.LittleEndian.PutUint32(buf[off:off+4], m.Listener.LocalIP)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], m.Listener.LocalPort)
	off += 2
	off += 2 // _pad0

	return buf
}

// UnmarshalControlMessage is the inverse of MarshalControlMessage.
func UnmarshalControlMessage(data []byte, m *ControlMessage) error {
	if len(data) < ControlMessageSize {
		return ErrInsufficientData
	}
	off := 0

	m.Type = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	m.Opcode = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	m.MsgID = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	copy(m.AppUUID[:], data[off:off+16])
	off += 16
	m.Status = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	off += 4 // _pad0

	m.Channel.DescRingSize = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	m.Channel.BufferCount = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	m.Listener.LocalIP = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	m.Listener.LocalPort = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	off += 2 // _pad0

	return nil
}

// MarshalControlRingEntry serializes a ControlRingEntry for writing
// into a ctrl-sq/ctrl-cq slot.
func MarshalControlRingEntry(e *ControlRingEntry) []byte {
	buf := make([]byte, ControlRingEntrySize)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:off+8], e.ID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], e.Opcode)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(e.Status))
	off += 4

	binary.LittleEndian.PutUint32(buf[off:off+4], e.Flow.SrcIP)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], e.Flow.DstIP)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], e.Flow.SrcPort)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:off+2], e.Flow.DstPort)
	off += 2

	binary.LittleEndian.PutUint32(buf[off:off+4], e.Listener.LocalIP)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], e.Listener.LocalPort)
	off += 2
	off += 2 // _pad0

	return buf
}

// UnmarshalControlRingEntry is the inverse of MarshalControlRingEntry.
func UnmarshalControlRingEntry(data []byte, e *ControlRingEntry) error {
	if len(data) < ControlRingEntrySize {
		return ErrInsufficientData
	}
	off := 0

	e.ID = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	e.Opcode = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	e.Status = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4

	e.Flow.SrcIP = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	e.Flow.DstIP = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	e.Flow.SrcPort = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	e.Flow.DstPort = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2

	e.Listener.LocalIP = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	e.Listener.LocalPort = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	off += 2 // _pad0

	return nil
}
