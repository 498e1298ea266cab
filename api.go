package nsaas

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/nsaaslink/go-nsaas/internal/ctrlclient"
	"github.com/nsaaslink/go-nsaas/internal/segment"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// Flow is a 4-tuple the caller works with in dotted-quad form; it is
// converted to wire.FlowInfo's host-byte-order uint32s at the API
// boundary (spec §3 "Net flow").
type Flow struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

func parseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

const (
	ipv4Zero      = 0x00000000
	ipv4Broadcast = 0xffffffff
)

// Connect allocates a 4-tuple over the in-channel control ring
// (nsaas_connect). It rejects a source that fails to parse or is the
// zero address, and a destination that fails to parse or is the
// broadcast address. A zero destination address is not rejected.
func (c *Channel) Connect(flow Flow) (Flow, error) {
	src, ok := parseIPv4(flow.SrcIP)
	if !ok || src == ipv4Zero {
		return Flow{}, NewError("Connect", InvalidArgument, "invalid or zero source address")
	}
	dst, ok := parseIPv4(flow.DstIP)
	if !ok || dst == ipv4Broadcast {
		return Flow{}, NewError("Connect", InvalidArgument, "invalid or broadcast destination address")
	}

	start := time.Now()
	wireFlow := wire.FlowInfo{SrcIP: src, DstIP: dst, SrcPort: flow.SrcPort, DstPort: flow.DstPort}
	resp, err := c.ctrl.Connect(wireFlow)
	c.cfg.Observer.ObserveControl("Connect", uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return Flow{}, translateCtrlErr("Connect", err)
	}

	return Flow{
		SrcIP:   flow.SrcIP,
		DstIP:   flow.DstIP,
		SrcPort: resp.Flow.SrcPort,
		DstPort: resp.Flow.DstPort,
	}, nil
}

// Listen registers a listener on a local endpoint via the control ring.
func (c *Channel) Listen(localIP string, localPort uint16) error {
	ip, ok := parseIPv4(localIP)
	if !ok {
		return NewError("Listen", InvalidArgument, "invalid local address")
	}

	start := time.Now()
	_, err := c.ctrl.Listen(wire.ListenerInfo{LocalIP: ip, LocalPort: localPort})
	c.cfg.Observer.ObserveControl("Listen", uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return translateCtrlErr("Listen", err)
	}
	return nil
}

// translateCtrlErr maps internal/ctrlclient's Kind split onto the
// public ErrorCode taxonomy: a msg_id/type correlation failure is a
// ProtocolViolation (spec §7); everything else (no completion within
// the retry budget, a full or exhausted control ring, a non-success
// controller status) is ControllerUnavailable.
func translateCtrlErr(op string, err error) error {
	if err == nil {
		return nil
	}
	ctrlErr, ok := err.(*ctrlclient.Error)
	if ok && ctrlErr.Kind == ctrlclient.KindProtocolViolation {
		return NewError(op, ProtocolViolation, ctrlErr.Msg)
	}
	return NewError(op, ControllerUnavailable, err.Error())
}

func toWireFlow(f Flow) (wire.FlowInfo, error) {
	src, ok := parseIPv4(f.SrcIP)
	if !ok {
		return wire.FlowInfo{}, NewError("Send", InvalidArgument, "invalid source address")
	}
	dst, ok := parseIPv4(f.DstIP)
	if !ok {
		return wire.FlowInfo{}, NewError("Send", InvalidArgument, "invalid destination address")
	}
	return wire.FlowInfo{SrcIP: src, DstIP: dst, SrcPort: f.SrcPort, DstPort: f.DstPort}, nil
}

func fromWireFlow(wf wire.FlowInfo) Flow {
	src := make(net.IP, 4)
	dst := make(net.IP, 4)
	binary.BigEndian.PutUint32(src, wf.SrcIP)
	binary.BigEndian.PutUint32(dst, wf.DstIP)
	return Flow{SrcIP: src.String(), DstIP: dst.String(), SrcPort: wf.SrcPort, DstPort: wf.DstPort}
}

// translateSegmentErr maps internal/segment's small Kind taxonomy onto
// the public ErrorCode taxonomy (spec §7).
func translateSegmentErr(op string, err error) error {
	if err == nil {
		return nil
	}
	segErr, ok := err.(*segment.Error)
	if !ok {
		return NewError(op, ProtocolViolation, err.Error())
	}
	switch segErr.Kind {
	case segment.KindInvalidArgument:
		return NewError(op, InvalidArgument, segErr.Msg)
	case segment.KindResourceExhausted:
		return NewError(op, ResourceExhausted, segErr.Msg)
	case segment.KindTruncated:
		return NewError(op, InvalidArgument, segErr.Msg)
	case segment.KindFatal:
		return NewError(op, Fatal, segErr.Msg)
	default:
		return NewError(op, ProtocolViolation, segErr.Msg)
	}
}

// Send transmits buf as a single-segment message (nsaas_send), a thin
// wrapper over SendMsg with a one-iovec vector.
func (c *Channel) Send(flow Flow, buf []byte) error {
	return c.SendMsg([][]byte{buf}, flow, false)
}

// SendMsg fragments iov into a linked chain of pool buffers and
// enqueues it for transmission (nsaas_sendmsg).
func (c *Channel) SendMsg(iov [][]byte, flow Flow, notifyDelivery bool) error {
	wireFlow, err := toWireFlow(flow)
	if err != nil {
		return err
	}

	start := time.Now()
	total := 0
	for _, seg := range iov {
		total += len(seg)
	}

	err = c.seg.SendMsg(iov, wireFlow, notifyDelivery)
	success := err == nil
	c.cfg.Observer.ObserveSend(uint64(total), uint64(time.Since(start).Nanoseconds()), success)
	if !success {
		if segErr, ok := err.(*segment.Error); ok && segErr.Kind == segment.KindResourceExhausted {
			c.cfg.Observer.ObservePoolExhausted()
		}
		return translateSegmentErr("SendMsg", err)
	}
	return nil
}

// OutMsg is one message for SendMmsg.
type OutMsg struct {
	IOV            [][]byte
	Flow           Flow
	NotifyDelivery bool
}

// SendMmsg sends each message in order, stopping at the first failure
// and returning the count fully sent so far together with that
// failure's error — the original's short-circuit-on-first-failure
// semantics.
func (c *Channel) SendMmsg(msgs []OutMsg) (int, error) {
	converted := make([]segment.OutMsg, 0, len(msgs))
	for _, m := range msgs {
		wf, err := toWireFlow(m.Flow)
		if err != nil {
			return 0, err
		}
		converted = append(converted, segment.OutMsg{IOV: m.IOV, Flow: wf, NotifyDelivery: m.NotifyDelivery})
	}
	n, err := c.seg.SendMmsg(converted)
	if err != nil {
		return n, translateSegmentErr("SendMmsg", err)
	}
	return n, nil
}

// Recv reassembles the next message from stack-rx into buf
// (nsaas_recv). It returns n=0 with no error if no message is queued.
func (c *Channel) Recv(buf []byte) (int, Flow, error) {
	return c.RecvMsg([][]byte{buf})
}

// RecvMsg reassembles the next message from stack-rx into iov
// (nsaas_recvmsg). It returns n=0 with no error if no message is
// queued; if iov is too small for the incoming chain, the entire
// chain is released and an InvalidArgument error is returned.
func (c *Channel) RecvMsg(iov [][]byte) (int, Flow, error) {
	start := time.Now()
	n, wireFlow, err := c.seg.RecvMsg(iov)
	success := err == nil
	c.cfg.Observer.ObserveRecv(uint64(n), uint64(time.Since(start).Nanoseconds()), success)
	if err != nil {
		return 0, Flow{}, translateSegmentErr("RecvMsg", err)
	}
	return n, fromWireFlow(wireFlow), nil
}
