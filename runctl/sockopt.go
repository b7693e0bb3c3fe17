package runctl

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const initialRcvBuf = 64 * 1024

// sizeRecvBuffer attempts unix.SetsockoptInt(SO_RCVBUF) starting at 64KiB
// and shrinking by 3% per rejected attempt, so a reload-induced packet
// burst is buffered by the kernel rather than dropped while the
// single-threaded loop is busy rebuilding zones.
func sizeRecvBuffer(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("runctl: obtaining raw conn: %w", err)
	}

	size := initialRcvBuf
	var setErr error
	for size > 0 {
		controlErr := raw.Control(func(fd uintptr) {
			setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
		})
		if controlErr != nil {
			return fmt.Errorf("runctl: control: %w", controlErr)
		}
		if setErr == nil {
			return nil
		}
		size = size * 97 / 100
	}
	return fmt.Errorf("runctl: no SO_RCVBUF size accepted: %w", setErr)
}
