// Package state holds the process-wide singleton bookkeeping the
// original nsaas.c kept as globals (g_app_uuid, g_ctrl_socket,
// msg_id_counter): the application's identity, its one long-lived
// connection to the controller, and the monotonic id counter every
// local-socket request carries. Registration happens once per State,
// the first time Init is called on it; later calls are no-ops.
package state

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/ctrlclient"
	"github.com/nsaaslink/go-nsaas/internal/interfaces"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// State is the process-wide handle to the controller relationship.
// Exactly one should exist per process; internal/... packages and the
// root façade share it rather than each opening their own socket.
type State struct {
	mu          sync.Mutex
	initialized bool

	appUUID [16]byte
	conn    *net.UnixConn
	client  *ctrlclient.SocketClient
	msgID   uint64

	logger interfaces.Logger
}

// New builds a State bound to the controller socket at path. It does
// not connect or register; call Init for that.
func New(path string, logger interfaces.Logger) *State {
	return &State{
		client: ctrlclient.New(path, logger),
		logger: logger,
	}
}

// Init registers the process with the controller over a fresh,
// long-lived connection, generating a random application UUID the
// first time it's called. Calling Init again on an already-initialized
// State is a no-op and returns nil, so a caller holding one State can
// call Init defensively without double-registering.
func (s *State) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	conn, err := s.client.Dial()
	if err != nil {
		return &Error{Op: "Init", Msg: "dial controller socket", Err: err}
	}

	appUUID := uuid.New()
	req := &wire.ControlMessage{
		Type:    constants.CtrlMsgTypeRequest,
		Opcode:  constants.CtrlOpRegister,
		MsgID:   s.NextMsgID(),
		AppUUID: appUUID,
	}

	resp, err := s.client.Register(conn, req)
	if err != nil {
		conn.Close()
		return &Error{Op: "Init", Msg: "register request failed", Err: err}
	}
	if resp.Type != constants.CtrlMsgTypeResponse || resp.MsgID != req.MsgID {
		conn.Close()
		return &Error{Op: "Init", Msg: "register response failed type/msg_id correlation check"}
	}
	if resp.Status != constants.StatusSuccess {
		conn.Close()
		return &Error{Op: "Init", Msg: "controller rejected registration"}
	}

	s.appUUID = appUUID
	s.conn = conn
	s.initialized = true
	if s.logger != nil {
		s.logger.Debugf("registered with controller, app_uuid=%x", appUUID)
	}
	return nil
}

// NextMsgID hands out the next monotonic local-socket request id. It
// uses atomic.AddUint64 everywhere (including from within Init, which
// otherwise holds s.mu) so msgID never needs the mutex's protection.
func (s *State) NextMsgID() uint64 {
	return atomic.AddUint64(&s.msgID, 1)
}

// AppUUID returns the process's registered application UUID. It is the
// zero UUID until Init has succeeded.
func (s *State) AppUUID() [16]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appUUID
}

// Client returns the shared socket client for per-request RPCs
// (RequestChannel) that intentionally open their own fresh connection
// rather than reusing the long-lived one.
func (s *State) Client() *ctrlclient.SocketClient {
	return s.client
}

// Close closes the long-lived controller connection. This, not
// Channel.Detach, is the signal the controller watches for
// de-registration (spec §4.6): once this socket closes, the controller
// tears down every channel and flow the process owned.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.initialized = false
	return err
}

// Error is state's own lightweight error type.
type Error struct {
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }
