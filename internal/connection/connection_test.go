package connection

import (
	"fmt"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection/conntest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionWritesQueuedFrames(t *testing.T) {
	conn, transport := newTestConnection()
	conn.Start()
	defer conn.Close()

	require.NoError(t, conn.Enqueue([]byte(`{"online":[]}`)))
	require.NoError(t, conn.Enqueue([]byte(`{"text":"hi"}`)))

	assert.Eventually(t, func() bool { return len(transport.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"text":"hi"}`, string(transport.Last()))
}

func TestConnectionOverflowCloses(t *testing.T) {
	transport := conntest.NewTransport()
	transport.Gate = make(chan struct{})
	conn := NewConnection(transport, Options{SendBuffer: 1, WriteTimeout: time.Second})
	conn.Start()

	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = conn.Enqueue([]byte("frame"))
	}
	assert.ErrorIs(t, err, ErrSendBufferFull)
	assert.True(t, transport.IsClosed())

	close(transport.Gate)
	conn.Wait()
	assert.ErrorIs(t, conn.Enqueue([]byte("late")), ErrConnectionClosed)
}

func TestConnectionPingAndAck(t *testing.T) {
	conn, transport := newTestConnection()
	timers := &countingTimers{}
	conn.SetTimers(timers)

	require.NoError(t, conn.Ping())
	conn.Ack()
	assert.Equal(t, 1, transport.Pings())
	assert.Equal(t, 1, timers.acks)

	conn.Close()
	conn.Close()
	assert.ErrorIs(t, conn.Ping(), ErrConnectionClosed)
}

func TestConnectionPresenceDoesNotOverflow(t *testing.T) {
	transport := conntest.NewTransport()
	transport.Gate = make(chan struct{})
	conn := NewConnection(transport, Options{SendBuffer: 2, WriteTimeout: time.Second})
	conn.Start()
	defer conn.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, conn.SetPresence([]byte(fmt.Sprintf(`{"online":%d}`, i))))
	}
	assert.False(t, transport.IsClosed())

	close(transport.Gate)
	assert.Eventually(t, func() bool { return string(transport.Last()) == `{"online":99}` }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, len(transport.Messages()), 3, "stale snapshots are replaced, not queued")
}

func TestConnectionPresenceWrittenBeforeQueuedFrames(t *testing.T) {
	transport := conntest.NewTransport()
	transport.Gate = make(chan struct{})
	conn := NewConnection(transport, Options{SendBuffer: 4, WriteTimeout: time.Second})
	conn.Start()
	defer conn.Close()

	// the writer blocks on the first frame; the rest wait behind it
	require.NoError(t, conn.Enqueue([]byte("first")))
	assert.Eventually(t, func() bool { return len(conn.send) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, conn.Enqueue([]byte("second")))
	require.NoError(t, conn.SetPresence([]byte("presence")))
	close(transport.Gate)

	assert.Eventually(t, func() bool { return len(transport.Messages()) == 3 }, time.Second, 5*time.Millisecond)
	frames := transport.Messages()
	assert.Equal(t, "first", string(frames[0]))
	assert.Equal(t, "presence", string(frames[1]))
	assert.Equal(t, "second", string(frames[2]))
}
