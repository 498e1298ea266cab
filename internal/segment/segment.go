// Package segment implements message segmentation and reassembly
// (C4), the hardest subsystem in the library: fragmenting an outgoing
// scatter/gather vector into a linked chain of pool buffers and
// enqueuing only the chain's head on app-tx, and reassembling an
// incoming chain dequeued from stack-rx into a caller-supplied
// scatter/gather vector, releasing every buffer touched on every exit
// path. The SG flag, not FIN, is authoritative for "advance to the
// next buffer" during reassembly (spec's resolved open question).
// Every buffer is magic-checked as it's resolved on both paths, and a
// mismatch — along with any send-side accounting mismatch — aborts
// the process rather than returning an error: shared-memory corruption
// is not recoverable (spec §3, §7, §9).
package segment

import (
	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/fault"
	"github.com/nsaaslink/go-nsaas/internal/interfaces"
	"github.com/nsaaslink/go-nsaas/internal/pool"
	"github.com/nsaaslink/go-nsaas/internal/ring"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// Error is segment's own small error type; callers at the API layer
// translate it into an *nsaas.Error with the matching ErrorCode.
type Error struct {
	Op   string
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Op + ": " + e.Msg }

// Kind mirrors the error categories segment-level failures fall into;
// the root package maps these onto nsaas.ErrorCode.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindResourceExhausted
	KindTruncated
	KindFatal
)

func errf(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Segmenter binds the buffer pool and the two datapath rings it needs
// to fragment outgoing messages and reassemble incoming ones.
type Segmenter struct {
	pool    *pool.Pool
	appTx   *ring.Ring
	stackRx *ring.Ring
	logger  interfaces.Logger
}

// New builds a Segmenter over an already-bound pool and ring pair.
func New(p *pool.Pool, appTx, stackRx *ring.Ring, logger interfaces.Logger) *Segmenter {
	return &Segmenter{pool: p, appTx: appTx, stackRx: stackRx, logger: logger}
}

// checkMagic validates buf's magic cookie against the fixed constant
// every buffer must carry at all times it is addressable (spec §3,
// §9 "Magic-mismatch policy"). A mismatch means the shared segment is
// corrupt; the original aborts at this exact point
// (nsaas.c:447 "if (unlikely(buffer->magic != NSAAS_MSGBUF_MAGIC))
// abort()"), so this does too, rather than returning an error the
// caller could mistake for recoverable.
func (s *Segmenter) checkMagic(op string, buf pool.Buffer) {
	if buf.Magic() != constants.BufferMagic {
		fault.Abort(s.logger, op, "buffer magic mismatch")
	}
}

// Send is the single-segment convenience wrapper over SendMsg, exactly
// as the original nsaas_send wraps nsaas_sendmsg with a one-iovec
// vector built from a flat (buf) pair.
func (s *Segmenter) Send(flow wire.FlowInfo, buf []byte, notifyDelivery bool) error {
	return s.SendMsg([][]byte{buf}, flow, notifyDelivery)
}

// SendMsg fragments iov (whose total size must be in
// (0, NSAAS_MSG_MAX_LEN]) into a chain of pool buffers tagged
// SYN/SG/FIN, sets flow/msg_len/last on the head buffer, and enqueues
// only the head's slot index onto app-tx. Any failure leaves app-tx
// and the pool's free count exactly as they were before the call.
func (s *Segmenter) SendMsg(iov [][]byte, flow wire.FlowInfo, notifyDelivery bool) error {
	msgSize := 0
	for _, seg := range iov {
		msgSize += len(seg)
	}
	if msgSize <= 0 || msgSize > constants.MsgMaxLen {
		return errf("SendMsg", KindInvalidArgument, "message size out of range")
	}

	mss := int(s.pool.MSS())
	buffersNeeded := (msgSize + mss - 1) / mss

	indices, ok := s.pool.AllocBulk(buffersNeeded)
	if !ok {
		return errf("SendMsg", KindResourceExhausted, "buffer pool exhausted")
	}

	cur := 0 // index into indices of the buffer currently being filled
	buf := s.pool.Buf(indices[cur])
	s.checkMagic("SendMsg", buf)
	totalCopied := 0

	for segIdx := range iov {
		seg := iov[segIdx]
		segOfs := 0
		for segOfs < len(seg) {
			n := s.pool.Append(buf, seg[segOfs:])
			segOfs += n
			totalCopied += n
			if n == 0 {
				// Buffer is full but input remains: link to the next
				// allocated buffer.
				buf.AddFlags(constants.FlagSG)
				cur++
				buf.SetNext(indices[cur])
				buf = s.pool.Buf(indices[cur])
				s.checkMagic("SendMsg", buf)
			}
		}
	}

	if totalCopied != msgSize {
		// Accounting mismatch between bytes copied and msg_size
		// indicates pool/size-accounting corruption; per spec (and
		// the original's "if (unlikely(total_bytes_copied !=
		// msghdr->msg_size)) abort()" at nsaas.c:471) this is Fatal
		// and unrecoverable — abort rather than return an error.
		fault.Abort(s.logger, "SendMsg", "buffer accounting mismatch")
	}

	head := s.pool.Buf(indices[0])
	tail := s.pool.Buf(indices[len(indices)-1])

	tail.ClearFlags(constants.FlagSG)
	tail.AddFlags(constants.FlagFIN)

	headFlags := constants.FlagSYN
	if notifyDelivery {
		headFlags |= constants.FlagNotifyDelivery
	}
	head.AddFlags(headFlags)
	head.SetFlow(flow)
	head.SetMsgLen(uint32(msgSize))
	head.SetLast(indices[len(indices)-1])

	if !s.appTx.Enqueue(indices[:1]) {
		s.pool.FreeBulk(indices)
		return errf("SendMsg", KindResourceExhausted, "app-tx ring full")
	}
	return nil
}

// OutMsg is one message for SendMmsg.
type OutMsg struct {
	IOV            [][]byte
	Flow           wire.FlowInfo
	NotifyDelivery bool
}

// SendMmsg calls SendMsg for each message in order and stops at the
// first failure, returning the count of messages fully sent so far
// together with the error that stopped it — matching the original's
// stop-on-first-failure semantics rather than best-effort continuation.
func (s *Segmenter) SendMmsg(msgs []OutMsg) (int, error) {
	for i, m := range msgs {
		if err := s.SendMsg(m.IOV, m.Flow, m.NotifyDelivery); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

// Recv is the single-segment convenience wrapper over RecvMsg.
func (s *Segmenter) Recv(buf []byte) (n int, flow wire.FlowInfo, err error) {
	return s.RecvMsg([][]byte{buf})
}

// RecvMsg dequeues one message chain from stack-rx and copies it into
// iov. It returns n=0 (no error) if stack-rx was empty. If iov is too
// small for the incoming chain, it drains and releases every
// remaining buffer in the chain and returns a KindTruncated error —
// the entire chain is freed on every exit path, success or failure.
func (s *Segmenter) RecvMsg(iov [][]byte) (n int, flow wire.FlowInfo, err error) {
	headIdx := make([]uint32, 1)
	if !s.stackRx.Dequeue(headIdx) {
		return 0, wire.FlowInfo{}, nil
	}

	head := s.pool.Buf(headIdx[0])
	s.checkMagic("RecvMsg", head)
	flow = head.Flow()

	var staged []uint32
	release := func(ix uint32) {
		staged = append(staged, ix)
		if len(staged) == constants.ReleaseBatchSize {
			s.pool.FreeBulk(staged)
			staged = staged[:0]
		}
	}
	releaseChainAndFail := func(curIdx uint32, hasCur bool) (int, wire.FlowInfo, error) {
		for hasCur {
			buf := s.pool.Buf(curIdx)
			s.checkMagic("RecvMsg", buf)
			sg := buf.Flags()&constants.FlagSG != 0
			next := buf.Next()
			release(curIdx)
			if !sg {
				hasCur = false
				break
			}
			curIdx = next
		}
		if len(staged) > 0 {
			s.pool.FreeBulk(staged)
		}
		return 0, wire.FlowInfo{}, errf("RecvMsg", KindTruncated, "caller vector too small for incoming message")
	}

	curIdx := headIdx[0]
	cur := head
	bufDataOfs := uint32(0)
	iovIndex := 0
	segDataOfs := 0
	total := 0

	for i := 0; i < len(iov); i++ {
		if len(iov[i]) == 0 {
			iovIndex++
		} else {
			break
		}
	}

	for cur.Len() > bufDataOfs {
		if iovIndex >= len(iov) {
			return releaseChainAndFail(curIdx, true)
		}

		seg := iov[iovIndex]
		segRemaining := len(seg) - segDataOfs
		bufRemaining := int(cur.Len() - bufDataOfs)
		n := segRemaining
		if bufRemaining < n {
			n = bufRemaining
		}
		if n > 0 {
			payload := cur.Payload()
			copy(seg[segDataOfs:segDataOfs+n], payload[bufDataOfs:bufDataOfs+uint32(n)])
			segDataOfs += n
			bufDataOfs += uint32(n)
			total += n
		}

		if bufDataOfs == cur.Len() {
			sg := cur.Flags()&constants.FlagSG != 0
			nextIdx := cur.Next()
			release(curIdx)
			if sg {
				curIdx = nextIdx
				cur = s.pool.Buf(curIdx)
				s.checkMagic("RecvMsg", cur)
				bufDataOfs = 0
			} else {
				break
			}
		}

		if segDataOfs == len(seg) {
			iovIndex++
			segDataOfs = 0
			for iovIndex < len(iov) && len(iov[iovIndex]) == 0 {
				iovIndex++
			}
		}
	}

	if len(staged) > 0 {
		s.pool.FreeBulk(staged)
	}
	return total, flow, nil
}
