// Package nettune applies the low-latency socket options spec §4.1
// requires on both the listening accept-path and the dialled upstream
// path: disabled small-packet coalescing, keepalive, and sized send/
// receive buffers.
//
// Grounded on the teacher's net.DialTimeout + *net.TCPConn type-
// assertion pattern in internal/adapter/inbound/httpgw/tls_handler.go,
// generalized from a one-off dial into a reusable tuner applied by both
// the listener's accept loop and the upstream dialer.
package nettune

import (
	"net"
	"syscall"
	"time"
)

// Config carries the three tunables named in spec §6:
// TCP_NODELAY, TCP_KEEPALIVE_SECS, SOCKET_BUFFER_BYTES.
type Config struct {
	NoDelay         bool
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	BufferBytes     int // applied to both SO_SNDBUF and SO_RCVBUF; 0 leaves the OS default
}

// Apply tunes an already-established connection. conn is almost always a
// *net.TCPConn; anything else is left untouched (e.g. a *tls.Conn wraps
// one, so callers dealing with TLS should tune the underlying raw
// connection before the handshake via ListenConfig/DialContext below).
func Apply(conn net.Conn, cfg Config) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(cfg.NoDelay); err != nil {
		return err
	}
	if cfg.KeepAlive {
		if err := tc.SetKeepAlive(true); err != nil {
			return err
		}
		if cfg.KeepAlivePeriod > 0 {
			if err := tc.SetKeepAlivePeriod(cfg.KeepAlivePeriod); err != nil {
				return err
			}
		}
	}
	if cfg.BufferBytes > 0 {
		if err := tc.SetWriteBuffer(cfg.BufferBytes); err != nil {
			return err
		}
		if err := tc.SetReadBuffer(cfg.BufferBytes); err != nil {
			return err
		}
	}
	return nil
}

// ListenConfig returns a net.ListenConfig whose Control hook applies
// SO_SNDBUF/SO_RCVBUF at the raw-socket level before Listen hands back a
// net.Listener, for platforms where setting the buffer size ahead of
// accept (rather than per accepted connection) avoids a race against
// the kernel's initial window sizing.
func ListenConfig(cfg Config) *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			if cfg.BufferBytes <= 0 {
				return nil
			}
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setBufSizes(int(fd), cfg.BufferBytes)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// DialControl returns the syscall.RawConn Control hook for a net.Dialer,
// tuning the upstream-dial socket the same way ListenConfig tunes the
// accept-path socket.
func DialControl(cfg Config) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		if cfg.BufferBytes <= 0 {
			return nil
		}
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = setBufSizes(int(fd), cfg.BufferBytes)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

