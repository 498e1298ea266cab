// Package channel implements the channel context (C3): mapping a
// controller-provided file descriptor as shared memory, validating
// its header magic, and exposing typed accessors to the four
// datapath/control rings and the buffer pool. Detach only unmaps the
// segment on the library side; the controller discovers de-registration through
// the control socket closing, not through any per-channel call.
package channel

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/interfaces"
	"github.com/nsaaslink/go-nsaas/internal/pool"
	"github.com/nsaaslink/go-nsaas/internal/ring"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// Channel is a typed view over one mapped shared-memory segment.
type Channel struct {
	data   []byte // the full mmap'd region, kept so Close can munmap it
	base   unsafe.Pointer
	header *wire.ChannelHeader

	appTx   *ring.Ring
	stackRx *ring.Ring
	ctrlSQ  *ring.Ring
	ctrlCQ  *ring.Ring
	bufs    *pool.Pool

	logger interfaces.Logger
}

// Bind maps fd as MAP_SHARED|MAP_POPULATE, with MAP_HUGETLB added
// opportunistically (a huge-page mapping is a performance hint, not a
// correctness requirement — if the kernel rejects it, Bind retries
// without the flag rather than failing attach). Per spec: fstat for
// size, then mmap, then validate the header magic.
func Bind(fd int, logger interfaces.Logger) (*Channel, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, wrapSyscall("fstat", err)
	}
	size := int(st.Size)
	if size < wire.ChannelHeaderSize {
		return nil, protocolError("segment smaller than channel header")
	}

	data, err := mmapSegment(fd, size)
	if err != nil {
		return nil, wrapSyscall("mmap", err)
	}

	base := unsafe.Pointer(&data[0])
	header := (*wire.ChannelHeader)(base)

	if header.Magic != constants.ChannelMagic {
		_ = unix.Munmap(data)
		return nil, protocolError("channel header magic mismatch")
	}

	ch := &Channel{
		data:    data,
		base:    base,
		header:  header,
		appTx:   ring.Bind(base, header.Rings[wire.RingAppTx]),
		stackRx: ring.Bind(base, header.Rings[wire.RingStackRx]),
		ctrlSQ:  ring.Bind(base, header.Rings[wire.RingCtrlSQ]),
		ctrlCQ:  ring.Bind(base, header.Rings[wire.RingCtrlCQ]),
		logger:  logger,
	}
	free := ring.Bind(base, header.Rings[wire.RingPoolFree])
	ch.bufs = pool.Bind(base, header.Data, free)

	if logger != nil {
		logger.Debugf("channel bound: size=%d mss=%d buffers=%d", size, header.Data.MSS, header.Data.BufferCount)
	}
	return ch, nil
}

// mmapSegment maps fd shared and populated, trying MAP_HUGETLB first.
func mmapSegment(fd int, size int) ([]byte, error) {
	flags := unix.MAP_SHARED | unix.MAP_POPULATE | unix.MAP_HUGETLB
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err == nil {
		return data, nil
	}
	// Huge pages are a hint; fall back to a normal shared mapping.
	flags = unix.MAP_SHARED | unix.MAP_POPULATE
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
}

// Detach releases library-side bookkeeping only; it performs no I/O
// and sends no message to the controller (spec §4.3, §4.6). The
// segment itself is unmapped, but this is not the signal the
// controller watches for de-registration — the control-socket close
// is (internal/state).
func (c *Channel) Detach() error {
	if c.data == nil {
		return nil
	}
	err := unix.Munmap(c.data)
	c.data = nil
	return err
}

// AppTx returns the application→stack message ring.
func (c *Channel) AppTx() *ring.Ring { return c.appTx }

// StackRx returns the stack→application message ring.
func (c *Channel) StackRx() *ring.Ring { return c.stackRx }

// CtrlSQ returns the application→controller control submission ring.
func (c *Channel) CtrlSQ() *ring.Ring { return c.ctrlSQ }

// CtrlCQ returns the controller→application control completion ring.
func (c *Channel) CtrlCQ() *ring.Ring { return c.ctrlCQ }

// CtrlEntries returns the ControlRingEntry array that ctrl-sq/ctrl-cq
// slot indices address, aliasing the mapped segment directly (writes
// through this slice are visible to the controller, exactly like
// buffer payloads). Its length is ControlContext.ControlEntryCount,
// which the controller sizes when it creates the channel.
func (c *Channel) CtrlEntries() []wire.ControlRingEntry {
	count := c.header.Control.ControlEntryCount
	if count == 0 {
		return nil
	}
	base := unsafe.Add(c.base, uintptr(c.header.Control.ControlEntryBase))
	return unsafe.Slice((*wire.ControlRingEntry)(base), count)
}

// Pool returns the channel's buffer pool.
func (c *Channel) Pool() *pool.Pool { return c.bufs }

// Logger returns the logger Bind was given, nil if none.
func (c *Channel) Logger() interfaces.Logger { return c.logger }

// MSS returns the maximum payload bytes per buffer.
func (c *Channel) MSS() uint32 { return c.header.Data.MSS }

// NextControlRequestID returns the next producer-assigned control-ring
// request id and advances the counter. It is not atomic across
// processes because only the application side ever writes it (the
// controller only reads ids back in responses), matching the
// single-writer assumption the rest of the datapath makes.
func (c *Channel) NextControlRequestID() uint64 {
	id := c.header.Control.NextRequestID
	c.header.Control.NextRequestID = id + 1
	return id
}

// CheckBufferMagic validates a buffer's magic cookie, returning
// ok=false when corruption is detected. Callers that hit ok=false mid
// datapath treat it as Fatal per spec §7 and §9 ("Magic-mismatch
// policy"): the segment cannot be trusted and the process aborts.
func (c *Channel) CheckBufferMagic(ix uint32) bool {
	return c.bufs.Buf(ix).Magic() == constants.BufferMagic
}

func wrapSyscall(op string, err error) error {
	return &chanError{op: op, err: err}
}

func protocolError(msg string) error {
	return &chanError{op: "Bind", msg: msg}
}

type chanError struct {
	op  string
	msg string
	err error
}

func (e *chanError) Error() string {
	if e.err != nil {
		return e.op + ": " + e.err.Error()
	}
	return e.op + ": " + e.msg
}

func (e *chanError) Unwrap() error { return e.err }
