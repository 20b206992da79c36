package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keepkeyd/internal/wire"
)

func TestMockOpenerCountsOpensPerDevice(t *testing.T) {
	reg := NewMockRegistry()
	opener := MockOpener{Registry: reg}

	d := Descriptor{DeviceID: "dev-1"}
	for i := 0; i < 10; i++ {
		tr, err := opener.Open(d)
		require.NoError(t, err)
		require.NoError(t, tr.Close())
	}

	require.Equal(t, 10, reg.OpenCount("dev-1"))
	require.Equal(t, 10, reg.CloseCount("dev-1"))
}

func TestMockTransportScriptedError(t *testing.T) {
	reg := NewMockRegistry()
	opener := MockOpener{Registry: reg}
	d := Descriptor{DeviceID: "dev-2"}

	injected := newError(Disconnected, nil)
	reg.Script("dev-2", ScriptedResponse{Err: injected})

	tr, err := opener.Open(d)
	require.NoError(t, err)

	_, err = tr.Recv(time.Now().Add(time.Second))
	require.ErrorIs(t, err, injected)

	msg, err := tr.Recv(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, wire.TypeSuccess, msg.TypeCode())
}

func TestMockTransportClosedRejectsCalls(t *testing.T) {
	reg := NewMockRegistry()
	opener := MockOpener{Registry: reg}
	tr, err := opener.Open(Descriptor{DeviceID: "dev-3"})
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	_, err = tr.Recv(time.Now().Add(time.Second))
	var te *Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, Disconnected, te.Kind)
}
