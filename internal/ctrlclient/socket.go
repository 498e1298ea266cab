// Package ctrlclient implements the control-plane client (C5): the
// local AF_UNIX socket transport used for register/attach, and the
// in-channel control-ring transport used for connect/listen.
package ctrlclient

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/nsaaslink/go-nsaas/internal/interfaces"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// SocketClient talks to the controller's well-known AF_UNIX socket.
// Per spec §4.5, every request except registration opens a fresh
// connection so concurrent callers need no locking; registration
// instead reuses the long-lived connection handed to it, because that
// connection's lifetime (not any per-request socket) is the
// controller's de-registration signal.
type SocketClient struct {
	path   string
	logger interfaces.Logger
}

// New builds a SocketClient bound to path (the controller's socket).
func New(path string, logger interfaces.Logger) *SocketClient {
	return &SocketClient{path: path, logger: logger}
}

// Dial opens a connection to the controller socket. The caller owns
// the lifetime of the returned connection.
func (c *SocketClient) Dial() (*net.UnixConn, error) {
	addr := &net.UnixAddr{Name: c.path, Net: "unix"}
	return net.DialUnix("unix", nil, addr)
}

// Register sends a registration request over conn — the process's
// long-lived controller connection — and returns the response.
// Registration never carries an fd.
func (c *SocketClient) Register(conn *net.UnixConn, req *wire.ControlMessage) (*wire.ControlMessage, error) {
	resp, _, err := c.roundTrip(conn, req, false)
	return resp, err
}

// RequestChannel opens a fresh connection, sends a channel request,
// and returns the response plus the shared-memory fd passed back via
// SCM_RIGHTS ancillary data on success.
func (c *SocketClient) RequestChannel(req *wire.ControlMessage) (*wire.ControlMessage, int, error) {
	conn, err := c.Dial()
	if err != nil {
		return nil, -1, err
	}
	defer conn.Close()
	return c.roundTrip(conn, req, true)
}

// roundTrip writes req and reads back a fixed-size response, optionally
// parsing an SCM_RIGHTS fd out of the ancillary data.
func (c *SocketClient) roundTrip(conn *net.UnixConn, req *wire.ControlMessage, expectFD bool) (*wire.ControlMessage, int, error) {
	reqBytes := wire.MarshalControlMessage(req)
	if _, _, err := conn.WriteMsgUnix(reqBytes, nil, nil); err != nil {
		return nil, -1, err
	}

	respBytes := make([]byte, wire.ControlMessageSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(respBytes, oob)
	if err != nil {
		return nil, -1, err
	}
	if n < wire.ControlMessageSize {
		return nil, -1, wire.ErrInsufficientData
	}

	resp := &wire.ControlMessage{}
	if err := wire.UnmarshalControlMessage(respBytes, resp); err != nil {
		return nil, -1, err
	}

	fd := -1
	if expectFD && oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return resp, -1, err
		}
		for _, cmsg := range cmsgs {
			fds, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			if len(fds) > 0 {
				fd = fds[0]
				break
			}
		}
	}
	if c.logger != nil {
		c.logger.Debugf("control socket roundtrip: opcode=%d status=%d fd=%d", resp.Opcode, resp.Status, fd)
	}
	return resp, fd, nil
}
