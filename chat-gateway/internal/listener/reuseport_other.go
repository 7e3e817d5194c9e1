//go:build !unix

package listener

import (
	"errors"
	"syscall"
)

const ReusePortSupported = false

func reusePortControl(network, address string, c syscall.RawConn) error {
	return errors.New("SO_REUSEPORT is not supported on this platform")
}
