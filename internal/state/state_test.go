package state

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nsaaslink/go-nsaas/internal/constants"
	"github.com/nsaaslink/go-nsaas/internal/wire"
)

// fakeController accepts exactly one connection and answers every
// request on it with a response carrying status, echoing the request's
// MsgID.
func fakeController(t *testing.T, path string, status int32) (stop func()) {
	t.Helper()
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)

	go func() {
		conn, err := l.AcceptUnix()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			req := make([]byte, wire.ControlMessageSize)
			_, err := conn.Read(req)
			if err != nil {
				return
			}
			var parsed wire.ControlMessage
			require.NoError(t, wire.UnmarshalControlMessage(req, &parsed))

			resp := &wire.ControlMessage{
				Type:   constants.CtrlMsgTypeResponse,
				Opcode: parsed.Opcode,
				MsgID:  parsed.MsgID,
				Status: status,
			}
			if _, _, err := conn.WriteMsgUnix(wire.MarshalControlMessage(resp), nil, nil); err != nil {
				return
			}
		}
	}()

	return func() { l.Close() }
}

func TestInitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.sock")
	stop := fakeController(t, path, constants.StatusSuccess)
	defer stop()

	s := New(path, nil)
	require.NoError(t, s.Init())
	firstUUID := s.AppUUID()

	require.NoError(t, s.Init())
	require.Equal(t, firstUUID, s.AppUUID(), "a second Init must not re-register or change the app UUID")
}

func TestInitFailsWhenControllerRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.sock")
	stop := fakeController(t, path, constants.StatusFailure)
	defer stop()

	s := New(path, nil)
	require.Error(t, s.Init())
}

func TestNextMsgIDMonotonic(t *testing.T) {
	s := New("/nonexistent", nil)
	require.Equal(t, uint64(1), s.NextMsgID())
	require.Equal(t, uint64(2), s.NextMsgID())
	require.Equal(t, uint64(3), s.NextMsgID())
}

func TestCloseClearsInitializedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.sock")
	stop := fakeController(t, path, constants.StatusSuccess)
	defer stop()

	s := New(path, nil)
	require.NoError(t, s.Init())
	require.NoError(t, s.Close())
	require.False(t, s.initialized, "Close must clear the initialized flag")
	require.NoError(t, s.Close(), "Close must be safe to call twice")
}
