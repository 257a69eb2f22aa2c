package utils

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		timeout     time.Duration
		transferred int64
		want        time.Duration
	}{
		{"nothing moved", 30 * time.Second, 0, 30 * time.Second},
		{"one window", 30 * time.Second, 120_000, 60 * time.Second},
		{"just under a window", 30 * time.Second, 119_999, 30 * time.Second},
		{"sub-second timeout", time.Millisecond, 10, 3 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scaledTimeout(tt.timeout, tt.transferred))
		})
	}
}

func TestJoinHostPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "127.0.0.1:8080", JoinHostPort("127.0.0.1", 8080))
	assert.Equal(t, "[::1]:8080", JoinHostPort("::1", 8080))
	assert.Equal(t, "[::1]:8080", JoinHostPort("[::1]", 8080))
}

func TestListener_ReadDeadline(t *testing.T) {
	t.Parallel()

	l, err := NewListener("127.0.0.1:0", 50*time.Millisecond)
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, err := l.Accept()
	require.NoError(t, err)
	defer conn.Close()
	require.IsType(t, &Conn{}, conn)

	_, err = client.Write([]byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
	assert.Equal(t, int64(2), conn.(*Conn).bytesRead)

	// Idle client trips the deadline
	_, err = conn.Read(buf)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestConn_CallerDeadlineInterruptsRead(t *testing.T) {
	t.Parallel()

	l, err := NewListener("127.0.0.1:0", time.Minute)
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, err := l.Accept()
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := conn.Read(make([]byte, 1))
		done <- err
	}()

	// What net/http does to an idle keep-alive read on shutdown
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.SetReadDeadline(time.Unix(1, 0)))

	select {
	case err := <-done:
		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		assert.True(t, netErr.Timeout())
	case <-time.After(2 * time.Second):
		t.Fatal("read not interrupted by the caller deadline")
	}

	// A past caller deadline also wins over the refresh on the next read
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)

	// Clearing it restores the scaled deadline
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
	_, err = client.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))
}

func TestEarliest(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.Equal(t, now, earliest(now, time.Time{}))
	assert.Equal(t, now.Add(-time.Second), earliest(now, now.Add(-time.Second)))
	assert.Equal(t, now, earliest(now, now.Add(time.Second)))
}
