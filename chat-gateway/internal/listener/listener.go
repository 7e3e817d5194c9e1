// Package listener opens the gateway's TCP listener, optionally with
// SO_REUSEPORT so several worker processes can share one port.
package listener

import (
	"context"
	"net"
)

// Listen opens a TCP listener on addr.
func Listen(ctx context.Context, addr string, reusePort bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reusePort {
		lc.Control = reusePortControl
	}
	return lc.Listen(ctx, "tcp", addr)
}
