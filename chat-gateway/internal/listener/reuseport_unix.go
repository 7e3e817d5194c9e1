//go:build unix

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ReusePortSupported reports whether SO_REUSEPORT is available.
const ReusePortSupported = true

func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		if sockErr == nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
