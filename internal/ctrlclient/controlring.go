package ctrlclient

import (
	"time"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/interfaces"
	"github.com/nsaaslink/go-nsaas/internal/ring"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// RingClient drives connect/listen requests over a channel's in-channel
// control rings (ctrl-sq/ctrl-cq), correlating responses by request id
// and bounding the wait the way the original nsaas_connect/nsaas_listen
// do: a fixed number of tries with a fixed sleep between them, giving up
// with an error rather than blocking indefinitely.
type RingClient struct {
	sq *ring.Ring
	cq *ring.Ring

	// slots holds the raw ControlRingEntry records backing both rings'
	// buffers, addressed by ring slot index exactly like data buffers.
	slots []wire.ControlRingEntry

	// free is a plain in-process stack of slot indices not currently
	// submitted to the controller. Unlike the data-path pool, this
	// never needs to be shared memory: only the application hands out
	// control-ring slots, so this bookkeeping can live in the Go
	// heap. A slot abandoned after a timed-out request (see request)
	// is deliberately never returned here — reusing it while the
	// controller might still complete it late would alias two logical
	// requests onto one slot.
	free []uint32

	tries    int
	interval time.Duration
	logger   interfaces.Logger
}

// NewRingClient builds a RingClient over already-bound ctrl-sq/ctrl-cq
// rings and their backing slot array.
func NewRingClient(sq, cq *ring.Ring, slots []wire.ControlRingEntry, logger interfaces.Logger) *RingClient {
	free := make([]uint32, len(slots))
	for i := range free {
		free[i] = uint32(len(slots) - 1 - i)
	}
	return &RingClient{
		sq:       sq,
		cq:       cq,
		slots:    slots,
		free:     free,
		tries:    constants.DefaultControlRetries,
		interval: constants.DefaultControlPollInterval,
		logger:   logger,
	}
}

// request submits entry on ctrl-sq at a free slot, then polls ctrl-cq
// for a completion carrying the same id, retrying up to r.tries times
// with r.interval between polls. Because the ring API is all-or-nothing
// bulk, submission and polling both operate on a one-element batch.
func (r *RingClient) request(op uint32, flow wire.FlowInfo, listener wire.ListenerInfo) (*wire.ControlRingEntry, error) {
	if len(r.free) == 0 {
		return nil, &Error{Op: "request", Msg: "control ring exhausted"}
	}
	slotIdx := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	id := nextRequestID()
	entry := wire.ControlRingEntry{ID: id, Opcode: op, Flow: flow, Listener: listener}
	r.slots[slotIdx] = entry

	idx := []uint32{slotIdx}
	if !r.sq.Enqueue(idx) {
		r.free = append(r.free, slotIdx)
		return nil, &Error{Op: "request", Msg: "ctrl-sq full"}
	}

	tries := r.tries
	for {
		cqIdx := make([]uint32, 1)
		if r.cq.Dequeue(cqIdx) {
			resp := r.slots[cqIdx[0]]
			if resp.ID != id {
				// A non-matching completion id is a hard failure, not
				// something to retry past: the single-writer assumption
				// means this should never happen, and requeueing it
				// would leave a stale entry permanently circulating on
				// ctrl-cq, corrupting every later request's poll.
				if r.logger != nil {
					r.logger.Errorf("control ring completion id=%d does not match request id=%d opcode=%d", resp.ID, id, op)
				}
				return nil, &Error{Op: "request", Msg: "completion id does not match request id", Kind: KindProtocolViolation}
			}
			r.free = append(r.free, cqIdx[0])
			return &resp, nil
		}
		tries--
		if tries <= 0 {
			if r.logger != nil {
				r.logger.Errorf("control ring request id=%d opcode=%d exhausted retry budget", id, op)
			}
			return nil, &Error{Op: "request", Msg: "controller did not respond within retry budget"}
		}
		time.Sleep(r.interval)
	}
}

// SetPollInterval overrides the sleep between ctrl-cq polls. Exposed
// for callers (tests, mainly) that want a faster retry cadence than
// the 1-second production default.
func (r *RingClient) SetPollInterval(d time.Duration) {
	r.interval = d
}

// SetRetries overrides the number of ctrl-cq poll attempts before
// giving up.
func (r *RingClient) SetRetries(n int) {
	r.tries = n
}

// Connect requests a flow create (nsaas_connect) and returns the
// controller's completion entry on success.
func (r *RingClient) Connect(flow wire.FlowInfo) (*wire.ControlRingEntry, error) {
	resp, err := r.request(constants.CtrlRingOpCreateFlow, flow, wire.ListenerInfo{})
	if err != nil {
		return nil, err
	}
	if resp.Status != constants.StatusSuccess {
		return nil, &Error{Op: "Connect", Msg: "controller rejected flow create"}
	}
	return resp, nil
}

// Listen requests a listener registration (nsaas_listen).
func (r *RingClient) Listen(listener wire.ListenerInfo) (*wire.ControlRingEntry, error) {
	resp, err := r.request(constants.CtrlRingOpListen, wire.FlowInfo{}, listener)
	if err != nil {
		return nil, err
	}
	if resp.Status != constants.StatusSuccess {
		return nil, &Error{Op: "Listen", Msg: "controller rejected listen"}
	}
	return resp, nil
}

// Error is ctrlclient's own lightweight error type.
type Error struct {
	Op   string
	Msg  string
	Kind Kind
}

func (e *Error) Error() string { return e.Op + ": " + e.Msg }

// Kind mirrors the small error-category split the root package's
// ErrorCode needs: most ctrlclient failures mean the controller isn't
// answering (KindUnavailable, the zero value), but a msg_id/type
// correlation failure is a protocol-level violation, not an
// availability problem.
type Kind int

const (
	KindUnavailable Kind = iota
	KindProtocolViolation
)

var requestIDCounter uint64

// nextRequestID hands out monotonic ids for control-ring requests from
// one package-level counter shared by every RingClient in the process.
// It is not safe for concurrent use from more than one goroutine,
// matching the single-writer assumption the rest of the datapath makes
// (internal/channel.NextControlRequestID carries the same caveat).
func nextRequestID() uint64 {
	requestIDCounter++
	return requestIDCounter
}
