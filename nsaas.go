// Package nsaas is the application-side datapath and control
// attachment library for a userspace NSaaS framework: registration
// with a co-resident controller process, mapping the shared-memory
// channel it hands back, and the connect/listen/send/recv operations
// that move messages across that channel without a kernel round trip.
package nsaas

import (
	"github.com/google/uuid"

	"github.com/nsaaslink/go-nsaas/internal/channel"
	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/ctrlclient"
	"github.com/nsaaslink/go-nsaas/internal/fault"
	"github.com/nsaaslink/go-nsaas/internal/interfaces"
	"github.com/nsaaslink/go-nsaas/internal/segment"
	"github.com/nsaaslink/go-nsaas/internal/state"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// Logger is the logging surface Config accepts; *logging.Logger
// satisfies it, as does any type with the same three methods.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Channel is a bound connection to one shared-memory segment: the
// mapped rings and buffer pool (internal/channel), the segmentation
// engine built over them (internal/segment), and the control-ring
// client used for connect/listen.
type Channel struct {
	ch     *channel.Channel
	seg    *segment.Segmenter
	ctrl   *ctrlclient.RingClient
	cfg    Config
	state  *state.State
	uuid   [16]byte
	metrics *Metrics
}

// Attach builds its own process state, registers with the controller
// over a new long-lived connection, requests a new channel, and maps
// the fd the controller hands back. Registration is not shared between
// Attach calls: each call registers again. It is the primary entry
// point: most callers never need Bind directly.
func Attach(cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()

	st := state.New(cfg.ControllerPath, adaptLogger(cfg.Logger))
	if err := st.Init(); err != nil {
		return nil, WrapError("Attach", err)
	}

	channelUUID := uuid.New()
	req := &wire.ControlMessage{
		Type:    constants.CtrlMsgTypeRequest,
		Opcode:  constants.CtrlOpRequestChannel,
		MsgID:   st.NextMsgID(),
		AppUUID: st.AppUUID(),
		Channel: wire.ChannelInfo{
			DescRingSize: cfg.DescRingSize,
			BufferCount:  cfg.BufferCount,
		},
	}

	resp, fd, err := st.Client().RequestChannel(req)
	if err != nil {
		return nil, NewError("Attach", ControllerUnavailable, err.Error())
	}
	if resp.Type != constants.CtrlMsgTypeResponse || resp.MsgID != req.MsgID {
		return nil, NewError("Attach", ProtocolViolation, "channel request response failed type/msg_id correlation check")
	}
	if resp.Status != constants.StatusSuccess {
		return nil, NewError("Attach", ControllerUnavailable, "controller rejected channel request")
	}

	ch, err := Bind(fd, cfg)
	if err != nil {
		return nil, WrapError("Attach", err)
	}
	ch.state = st
	ch.uuid = channelUUID
	return ch, nil
}

// Bind maps an already-obtained channel fd directly, without going
// through the register/attach RPC — the primitive attach itself is
// built on, and a path for callers that already hold a segment fd
// (e.g. inherited across an exec, or handed in by a test harness).
func Bind(fd int, cfg Config) (*Channel, error) {
	cfg = cfg.withDefaults()
	logger := adaptLogger(cfg.Logger)

	bound, err := channel.Bind(fd, logger)
	if err != nil {
		return nil, NewError("Bind", ProtocolViolation, err.Error())
	}

	seg := segment.New(bound.Pool(), bound.AppTx(), bound.StackRx(), logger)
	ctrl := ctrlclient.NewRingClient(bound.CtrlSQ(), bound.CtrlCQ(), bound.CtrlEntries(), logger)
	ctrl.SetRetries(cfg.ControlRetries)
	ctrl.SetPollInterval(cfg.ControlPollInterval)

	metrics := NewMetrics()
	return &Channel{
		ch:      bound,
		seg:     seg,
		ctrl:    ctrl,
		cfg:     cfg,
		metrics: metrics,
	}, nil
}

// Detach releases library-side bookkeeping for the channel (unmaps
// the segment). It performs no wire traffic: the controller discovers
// de-registration through the controller-socket closing, not through
// any per-channel signal (spec §4.6, §4.3).
func (c *Channel) Detach() error {
	c.metrics.Stop()
	if c.state != nil {
		// The controller socket outlives any one channel; only the
		// process-level Close (via Shutdown) is the de-registration
		// signal. Detach just unmaps this channel's segment.
	}
	if err := c.ch.Detach(); err != nil {
		return WrapError("Detach", err)
	}
	return nil
}

// Shutdown closes the process's long-lived controller connection,
// which is the controller's signal to garbage every resource this
// process held (spec §4.6, §3 "Controller session"). Call it once,
// at process exit, after detaching every channel.
func (c *Channel) Shutdown() error {
	if c.state == nil {
		return nil
	}
	return c.state.Close()
}

// MSS returns the maximum payload bytes per buffer negotiated at attach.
func (c *Channel) MSS() uint32 { return c.ch.MSS() }

// UUID returns the per-channel UUID generated at attach time (zero for
// channels obtained via Bind rather than Attach).
func (c *Channel) UUID() [16]byte { return c.uuid }

// Metrics returns the Metrics value created by Bind. The channel sets
// only its start and stop times; per-operation observations go to
// Config.Observer, not to this value.
func (c *Channel) Metrics() *Metrics { return c.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the value Metrics
// returns.
func (c *Channel) MetricsSnapshot() MetricsSnapshot { return c.metrics.Snapshot() }

func adaptLogger(l Logger) interfaces.Logger {
	if l == nil {
		return nil
	}
	return &loggerAdapter{l}
}

// loggerAdapter satisfies internal/interfaces.Logger from a root
// Logger value, so internal packages never need to import this one.
type loggerAdapter struct{ l Logger }

func (a *loggerAdapter) Printf(format string, args ...interface{}) { a.l.Printf(format, args...) }
func (a *loggerAdapter) Debugf(format string, args ...interface{}) { a.l.Debugf(format, args...) }
func (a *loggerAdapter) Errorf(format string, args ...interface{}) { a.l.Errorf(format, args...) }

// abortOnCorruption logs and panics: the only response to a Fatal-class
// error (buffer magic mismatch mid-datapath, accounting mismatch
// between copied bytes and msg_size), per spec §7 — these imply
// shared-memory corruption the process cannot safely continue past.
// internal/segment hits the same condition directly against the
// mapped segment and calls internal/fault.Abort itself, since it
// cannot import this package without a cycle; both paths share one
// abort implementation.
func abortOnCorruption(logger Logger, op, msg string) {
	fault.Abort(adaptLogger(logger), op, msg)
}
