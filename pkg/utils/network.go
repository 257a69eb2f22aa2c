package utils

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// minThroughput is the slowest transfer rate, in bytes per second, a
// connection may sustain before its deadline fires. Deadlines grow with the
// bytes already moved so long uploads are not cut off at a fixed wall time.
const minThroughput = 4000

// Listener wraps accepted connections in a Conn with throughput scaled
// deadlines.
type Listener struct {
	net.Listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:         c,
		ReadTimeout:  l.ReadTimeout,
		WriteTimeout: l.WriteTimeout,
	}, nil
}

// Conn refreshes its deadline before every read and write. The deadline is
// the timeout multiplied by one plus the number of minThroughput windows
// already transferred in that direction. A deadline set by the caller, such
// as the one net/http uses to abort an idle read on shutdown, wins when it
// is earlier.
type Conn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	bytesRead    int64
	bytesWritten int64

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

// scaledTimeout returns timeout * (1 + transferred / (minThroughput * timeout))
func scaledTimeout(timeout time.Duration, transferred int64) time.Duration {
	window := int64(float64(minThroughput) * timeout.Seconds())
	if window <= 0 {
		window = 1
	}
	return timeout * time.Duration(transferred/window+1)
}

// earliest returns the earlier of the scaled deadline and the caller's,
// ignoring an unset caller deadline.
func earliest(scaled, caller time.Time) time.Time {
	if !caller.IsZero() && caller.Before(scaled) {
		return caller
	}
	return scaled
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.ReadTimeout > 0 {
		c.mu.Lock()
		err := c.Conn.SetReadDeadline(earliest(time.Now().Add(scaledTimeout(c.ReadTimeout, c.bytesRead)), c.readDeadline))
		c.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	c.bytesRead += int64(n)
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.WriteTimeout > 0 {
		c.mu.Lock()
		err := c.Conn.SetWriteDeadline(earliest(time.Now().Add(scaledTimeout(c.WriteTimeout, c.bytesWritten)), c.writeDeadline))
		c.mu.Unlock()
		if err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.bytesWritten += int64(n)
	return n, err
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// SetReadDeadline records t and applies it at once, so a read blocked on
// the scaled deadline is interrupted.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return c.Conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	return c.Conn.SetWriteDeadline(t)
}

// NewListener listens on addr. A zero timeout disables deadlines.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		Listener:     listener,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}, nil
}

// JoinHostPort joins host and port, accepting an already bracketed IPv6 host
func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}
