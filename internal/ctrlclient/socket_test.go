package ctrlclient

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// listenTestSocket creates a throwaway AF_UNIX listener in t.TempDir(),
// standing in for the controller's well-known socket.
func listenTestSocket(t *testing.T) (*net.UnixListener, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controller.sock")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	return l, path
}

func TestRequestChannelReceivesSCMRightsFD(t *testing.T) {
	l, path := listenTestSocket(t)
	defer l.Close()

	memfd, err := unix.MemfdCreate("test-channel-segment", 0)
	require.NoError(t, err)
	defer unix.Close(memfd)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.AcceptUnix()
		require.NoError(t, err)
		defer conn.Close()

		req := make([]byte, wire.ControlMessageSize)
		_, err = conn.Read(req)
		require.NoError(t, err)

		resp := &wire.ControlMessage{
			Type:   constants.CtrlMsgTypeResponse,
			Opcode: constants.CtrlOpRequestChannel,
			Status: constants.StatusSuccess,
		}
		respBytes := wire.MarshalControlMessage(resp)
		oob := unix.UnixRights(memfd)
		_, _, err = conn.WriteMsgUnix(respBytes, oob, nil)
		require.NoError(t, err)
	}()

	client := New(path, nil)
	req := &wire.ControlMessage{Type: constants.CtrlMsgTypeRequest, Opcode: constants.CtrlOpRequestChannel}
	resp, fd, err := client.RequestChannel(req)
	require.NoError(t, err)
	require.Equal(t, constants.StatusSuccess, resp.Status)
	require.GreaterOrEqual(t, fd, 0)
	unix.Close(fd)

	<-done
}

func TestRegisterOverLongLivedConnection(t *testing.T) {
	l, path := listenTestSocket(t)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.AcceptUnix()
		require.NoError(t, err)
		defer conn.Close()

		req := make([]byte, wire.ControlMessageSize)
		_, err = conn.Read(req)
		require.NoError(t, err)

		resp := &wire.ControlMessage{Type: constants.CtrlMsgTypeResponse, Opcode: constants.CtrlOpRegister, Status: constants.StatusSuccess}
		_, _, err = conn.WriteMsgUnix(wire.MarshalControlMessage(resp), nil, nil)
		require.NoError(t, err)
	}()

	client := New(path, nil)
	conn, err := client.Dial()
	require.NoError(t, err)
	defer conn.Close()

	req := &wire.ControlMessage{Type: constants.CtrlMsgTypeRequest, Opcode: constants.CtrlOpRegister}
	resp, err := client.Register(conn, req)
	require.NoError(t, err)
	require.Equal(t, constants.StatusSuccess, resp.Status)

	<-done
}
