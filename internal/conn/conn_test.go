package conn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStartsWithNoCGIWait(t *testing.T) {
	c := New(7)
	require.Equal(t, 7, c.FD)
	require.Equal(t, -1, c.WaitingOnCGIFD)
	require.False(t, c.WantWrite())
}

func TestQueueResponseMarksCloseAfterDrain(t *testing.T) {
	c := New(1)
	c.QueueResponse([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	require.True(t, c.CloseAfterDrain)
	require.True(t, c.WantWrite())
	require.False(t, c.DrainedAndDone())
}

func TestDrainedAndDoneOnlyAfterSendBufferEmpties(t *testing.T) {
	c := New(1)
	c.QueueResponse([]byte("abc"))
	require.False(t, c.DrainedAndDone())

	c.SendBuffer = c.SendBuffer[3:]
	require.True(t, c.DrainedAndDone())
}

func TestConsumeRecvDropsPrefix(t *testing.T) {
	c := New(1)
	c.RecvBuffer = []byte("GET / HTTP/1.1\r\n\r\nREST")
	c.ConsumeRecv(len("GET / HTTP/1.1\r\n\r\n"))
	require.Equal(t, "REST", string(c.RecvBuffer))
}

func TestConsumeRecvClampsToBufferLength(t *testing.T) {
	c := New(1)
	c.RecvBuffer = []byte("abc")
	c.ConsumeRecv(100)
	require.Empty(t, c.RecvBuffer)
}

func TestConsumeRecvNoOpOnNonPositive(t *testing.T) {
	c := New(1)
	c.RecvBuffer = []byte("abc")
	c.ConsumeRecv(0)
	require.Equal(t, "abc", string(c.RecvBuffer))
}
