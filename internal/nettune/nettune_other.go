//go:build !unix

package nettune

// setBufSizes is a no-op on non-Unix platforms; raw SO_SNDBUF/SO_RCVBUF
// tuning via syscall.RawConn.Control is a Unix-socket-layer operation
// and SetWriteBuffer/SetReadBuffer (used by Apply for already-accepted
// connections) already covers Windows.
func setBufSizes(fd, size int) error {
	return nil
}
