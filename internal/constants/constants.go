// Package constants holds the wire-level and default-configuration
// constants shared across the nsaas library's internal packages.
package constants

import "time"

// Magic cookies, checked at attach time and on every buffer access.
// A mismatch is unrecoverable and triggers an abort (spec: "Magic-mismatch
// policy").
const (
	ChannelMagic uint32 = 0x4e534153 // "NSAS"
	BufferMagic  uint32 = 0x4d534742 // "MSGB"
)

// Buffer flag bits (spec §3 "Flags form a small set").
const (
	FlagSYN            uint16 = 1 << 0 // head of a message
	FlagFIN            uint16 = 1 << 1 // tail of a message
	FlagSG             uint16 = 1 << 2 // followed by another buffer; next is valid
	FlagNotifyDelivery uint16 = 1 << 3 // caller requests delivery notification
)

// Control message types (§6 wire format).
const (
	CtrlMsgTypeRequest uint32 = iota
	CtrlMsgTypeResponse
)

// Control message opcodes carried by the local-socket RPC.
const (
	CtrlOpRegister uint32 = iota
	CtrlOpRequestChannel
)

// Control-ring opcodes carried by ctrl-sq/ctrl-cq (§4.5, §3).
const (
	CtrlRingOpCreateFlow uint32 = iota
	CtrlRingOpListen
)

// Status codes returned in control responses.
const (
	StatusSuccess int32 = 0
	StatusFailure int32 = -1
)

// Message size bound (spec §4.4.1 precondition).
const MsgMaxLen = 1 << 20 // 1 MiB

// Default channel sizing, requested by the application at attach time
// (mirrors the original nsaas_attach defaults).
const (
	DefaultDescRingSize = 1024 // power of two
	DefaultBufferCount  = 4096 // power of two
	DefaultMSS          = 1500 // bytes of payload per buffer
)

// Default path to the controller's well-known AF_UNIX socket.
const DefaultControllerPath = "/var/run/nsaas/controller.sock"

// Control-ring completion poll budget (spec §4.5, §8 scenario 6).
const (
	DefaultControlRetries      = 10
	DefaultControlPollInterval = 1 * time.Second
)

// Buffer release batching threshold used by recvmsg's truncation and
// normal-completion paths (spec §4.4.2).
const ReleaseBatchSize = 16
